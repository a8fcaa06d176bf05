package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/walterschell/jaquemate/persistence"
	"github.com/walterschell/jaquemate/session"
)

const sessionCookie = "jaquemate_session"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionFor returns the session named by the request cookie, or an
// anonymous one.
func (app *Application) sessionFor(r *http.Request) session.Session {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		return session.Session{}
	}
	s, err := app.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			app.log.Warn().Err(err).Msg("session lookup failed")
		}
		return session.Session{}
	}
	return s
}

func (app *Application) currentSession(w http.ResponseWriter, r *http.Request) {
	s := app.sessionFor(r)
	if s.Anonymous() {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (app *Application) login(w http.ResponseWriter, r *http.Request) {
	var creds persistence.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Usuario == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "usuario and password required")
		return
	}
	resp, err := app.api.Login(r.Context(), creds)
	switch {
	case errors.Is(err, persistence.ErrCredentialsInvalid):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		app.log.Error().Err(err).Msg("login failed")
		writeError(w, http.StatusBadGateway, "login unavailable")
		return
	}

	// always mint a new id; a cookie planted before login must not become
	// an authenticated session
	s := session.New(resp.Usuario.ID, resp.Usuario.Usuario)
	prev := app.sessionFor(r)
	if err := app.sessions.Put(r.Context(), s); err != nil {
		app.log.Error().Err(err).Msg("storing session")
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(session.DefaultTTL.Seconds()),
	})
	if prev.ID != "" {
		if err := app.sessions.Delete(r.Context(), prev.ID); err != nil {
			app.log.Warn().Err(err).Msg("deleting previous session")
		}
		app.broadcastSession(prev.ID, s)
	}
	app.log.Info().Int64("user", s.UserID).Str("username", s.Username).Msg("logged in")
	writeJSON(w, http.StatusOK, s)
}

func (app *Application) logout(w http.ResponseWriter, r *http.Request) {
	s := app.sessionFor(r)
	if s.ID != "" {
		if err := app.sessions.Delete(r.Context(), s.ID); err != nil {
			app.log.Warn().Err(err).Msg("deleting session")
		}
		app.broadcastSession(s.ID, session.Session{})
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// listMoves returns the saved moves of the logged in user.
func (app *Application) listMoves(w http.ResponseWriter, r *http.Request) {
	s := app.sessionFor(r)
	if s.Anonymous() {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	q := r.URL.Query()
	req := persistence.PageRequest{Sort: q["sort"]}
	req.Page, _ = strconv.Atoi(q.Get("page"))
	req.Size, _ = strconv.Atoi(q.Get("size"))
	page, err := app.api.MovesByUser(r.Context(), s.UserID, req)
	if err != nil {
		app.log.Error().Err(err).Msg("listing moves")
		writeError(w, http.StatusBadGateway, "moves unavailable")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// getMove returns one saved move of the logged in user, including the move
// list the saved-moves panel links to.
func (app *Application) getMove(w http.ResponseWriter, r *http.Request) {
	s := app.sessionFor(r)
	if s.Anonymous() {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	rec, err := app.api.Move(r.Context(), id)
	switch {
	case errors.Is(err, persistence.ErrNotFound) || (err == nil && rec.UsuarioID != s.UserID):
		writeError(w, http.StatusNotFound, "move not found")
	case err != nil:
		app.log.Error().Err(err).Msg("fetching move")
		writeError(w, http.StatusBadGateway, "moves unavailable")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (app *Application) deleteMove(w http.ResponseWriter, r *http.Request) {
	if app.sessionFor(r).Anonymous() {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	err := app.api.DeleteMove(r.Context(), id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, http.StatusNotFound, "move not found")
	case err != nil:
		app.log.Error().Err(err).Msg("deleting move")
		writeError(w, http.StatusBadGateway, "moves unavailable")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
