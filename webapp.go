package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/walterschell/jaquemate/config"
	"github.com/walterschell/jaquemate/logx"
	"github.com/walterschell/jaquemate/persistence"
	"github.com/walterschell/jaquemate/session"
)

//go:embed assets
var assets embed.FS
var static fs.FS
var templates fs.FS

func init() {
	static, _ = fs.Sub(assets, "assets/static")
	templates, _ = fs.Sub(assets, "assets/templates")
}

type Application struct {
	router      *mux.Router
	templates   *template.Template
	clients     map[*Client]struct{}
	clientsLock sync.RWMutex
	upgrader    websocket.Upgrader

	ctx      context.Context
	cfg      config.Config
	api      *persistence.Client
	sessions session.Store
	log      zerolog.Logger
}

type AppOption func(*Application)

// WithSessionStore replaces the in-memory session store.
func WithSessionStore(s session.Store) AppOption {
	return func(app *Application) {
		app.sessions = s
	}
}

func WithAPIClient(c *persistence.Client) AppOption {
	return func(app *Application) {
		app.api = c
	}
}

// WithContext bounds the lifetime of background work started by clients.
func WithContext(ctx context.Context) AppOption {
	return func(app *Application) {
		app.ctx = ctx
	}
}

func NewApplication(cfg config.Config, opts ...AppOption) *Application {
	templateParser := template.New("")
	templateParser.Delims("[[", "]]")
	app := &Application{
		router:    mux.NewRouter(),
		templates: template.Must(templateParser.ParseFS(templates, "*.html.gotmpl")),
		clients:   make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx: context.Background(),
		cfg: cfg,
		log: logx.Component("webapp"),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.api == nil {
		app.api = persistence.NewClient(cfg.APIBaseURL, persistence.WithLogger(logx.Component("persistence")))
	}
	if app.sessions == nil {
		app.sessions = session.NewMemoryStore()
	}

	accessLog := func(next http.Handler) http.Handler {
		return handlers.LoggingHandler(app.log.With().Str("component", "http").Logger(), next)
	}
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(stdlog.New(app.log, "", 0)),
		handlers.PrintRecoveryStack(true),
	)
	app.router.NotFoundHandler = accessLog(http.HandlerFunc(notFoundHandler))
	app.router.Use(accessLog, recovery)

	app.router.PathPrefix("/static/").Handler(gzhttp.GzipHandler(http.StripPrefix("/static/", http.FileServer(http.FS(static)))))
	app.router.Handle("/", gzhttp.GzipHandler(http.HandlerFunc(app.indexHandler))).Methods(http.MethodGet)
	app.router.HandleFunc("/ws", app.wsHandler)
	app.router.HandleFunc("/healthz", app.healthHandler).Methods(http.MethodGet)

	api := app.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", app.currentSession).Methods(http.MethodGet)
	api.HandleFunc("/session", app.login).Methods(http.MethodPost)
	api.HandleFunc("/session", app.logout).Methods(http.MethodDelete)
	api.HandleFunc("/moves", app.listMoves).Methods(http.MethodGet)
	api.HandleFunc("/moves/{id:[0-9]+}", app.getMove).Methods(http.MethodGet)
	api.HandleFunc("/moves/{id:[0-9]+}", app.deleteMove).Methods(http.MethodDelete)
	return app
}

func (app *Application) indexHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	templateVars := struct {
		Title string
		FEN   string
		PGN   string
	}{
		Title: "Jaquemate",
		FEN:   q.Get("fen"),
		PGN:   q.Get("pgn"),
	}

	err := app.templates.ExecuteTemplate(w, "index.html.gotmpl", templateVars)
	if err != nil {
		app.log.Error().Err(err).Msg("rendering template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (app *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	app.clientsLock.RLock()
	n := len(app.clients)
	app.clientsLock.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": n})
}

func (app *Application) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := newClient(app, conn, app.sessionFor(r))
	app.clientsLock.Lock()
	app.clients[client] = struct{}{}
	app.clientsLock.Unlock()
	app.log.Info().Str("client", client.id).Str("remote", conn.RemoteAddr().String()).Msg("new websocket connection")

	q := r.URL.Query()
	client.start(q.Get("fen"), q.Get("pgn"))
	client.readLoop()

	app.clientsLock.Lock()
	delete(app.clients, client)
	app.clientsLock.Unlock()
	client.close()
}

// broadcastSession moves every board opened under session id onto s.
func (app *Application) broadcastSession(id string, s session.Session) {
	if id == "" {
		return
	}
	app.clientsLock.RLock()
	defer app.clientsLock.RUnlock()
	for client := range app.clients {
		if client.sessionID() == id {
			client.setSession(s)
		}
	}
}

func (app *Application) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.router.ServeHTTP(w, r)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "File Not Found", http.StatusNotFound)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (app *Application) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.log.Info().Str("addr", addr).Msg("starting server")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logx.Install(logx.NewLogger(cfg.LogLevel))
	log := logx.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []AppOption{WithContext(ctx)}
	if cfg.RedisURL != "" {
		store, err := session.NewRedisStore(ctx, cfg.RedisURL, session.DefaultTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("session store")
		}
		defer store.Close()
		opts = append(opts, WithSessionStore(store))
	}

	app := NewApplication(cfg, opts...)
	if err := app.Run(ctx, cfg.ListenAddr()); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
