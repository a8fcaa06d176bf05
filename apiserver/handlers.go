package apiserver

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/walterschell/jaquemate/persistence"
)

type fieldErrors map[string]string

func (f fieldErrors) check(ok bool, field, msg string) {
	if !ok {
		if _, seen := f[field]; !seen {
			f[field] = msg
		}
	}
}

func unprocessable(c *fiber.Ctx, f fieldErrors) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(f)
}

func notFound(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"errorCode": code, "message": msg})
}

func badBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body: " + err.Error()})
}

func pathID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	return id, err == nil
}

func (s *Server) register(c *fiber.Ctx) error {
	var reg persistence.Registration
	if err := c.BodyParser(&reg); err != nil {
		return badBody(c, err)
	}
	f := fieldErrors{}
	f.check(strings.TrimSpace(reg.Usuario) != "", "usuario", "El usuario es obligatorio")
	f.check(len(reg.Usuario) >= 3 && len(reg.Usuario) <= 50, "usuario", "El usuario debe tener entre 3 y 50 caracteres")
	f.check(strings.TrimSpace(reg.Email) != "", "email", "El email es obligatorio")
	_, mailErr := mail.ParseAddress(reg.Email)
	f.check(mailErr == nil, "email", "El email no es válido")
	f.check(len(reg.Password) >= 6, "password", "La contraseña debe tener al menos 6 caracteres")
	if len(f) > 0 {
		return unprocessable(c, f)
	}

	u, err := s.store.CreateUser(reg)
	switch {
	case errors.Is(err, ErrUsernameTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"usuario": "El nombre de usuario ya está usado"})
	case errors.Is(err, ErrEmailTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"email": "El email ya esta registrado"})
	case err != nil:
		return err
	}
	s.log.Info().Int64("id", u.ID).Str("usuario", u.Usuario).Msg("user registered")
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (s *Server) login(c *fiber.Ctx) error {
	var creds persistence.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return badBody(c, err)
	}
	f := fieldErrors{}
	f.check(strings.TrimSpace(creds.Usuario) != "", "usuario", "El usuario es obligatorio")
	f.check(len(creds.Usuario) >= 3, "usuario", "El usuario debe de tener un tamaño mínimo de 3 caracteres")
	f.check(creds.Password != "", "password", "La contraseña es obligatoria")
	f.check(len(creds.Password) >= 6, "password", "La contraseña debe tener al menos 6 caracteres")
	if len(f) > 0 {
		return unprocessable(c, f)
	}

	u, ok := s.store.Authenticate(creds)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).SendString("Credenciales inválidas")
	}
	return c.JSON(persistence.LoginResponse{Message: "Login exitoso", Usuario: u})
}

func (s *Server) userByID(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	u, found := s.store.UserByID(id)
	if !found {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.JSON(u)
}

func (s *Server) userByUsername(c *fiber.Ctx) error {
	u, found := s.store.UserByUsername(c.Params("usuario"))
	if !found {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.JSON(u)
}

func (s *Server) userByEmail(c *fiber.Ctx) error {
	u, found := s.store.UserByEmail(c.Params("email"))
	if !found {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.JSON(u)
}

func (s *Server) usernameExists(c *fiber.Ctx) error {
	_, found := s.store.UserByUsername(c.Params("usuario"))
	return c.JSON(fiber.Map{"existe": found})
}

func (s *Server) emailExists(c *fiber.Ctx) error {
	_, found := s.store.UserByEmail(c.Params("email"))
	return c.JSON(fiber.Map{"existe": found})
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	var upd persistence.ProfileUpdate
	if err := c.BodyParser(&upd); err != nil {
		return badBody(c, err)
	}
	f := fieldErrors{}
	f.check(upd.Usuario == "" || (len(upd.Usuario) >= 3 && len(upd.Usuario) <= 50), "usuario", "El usuario debe tener entre 3 y 50 caracteres")
	f.check(upd.Password == "" || len(upd.Password) >= 6, "password", "La contraseña debe tener al menos 6 caracteres")
	if len(f) > 0 {
		return unprocessable(c, f)
	}

	u, err := s.store.UpdateUser(id, upd)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return notFound(c, "USUARIO_NOT_FOUND", fmt.Sprintf("Usuario con id %d no encontrado", id))
	case errors.Is(err, ErrUsernameTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"usuario": "El nombre de usuario ya está en uso"})
	case err != nil:
		return err
	}
	return c.JSON(u)
}

func validateMove(f fieldErrors, prefix string, m persistence.NewMove) {
	f.check(m.UsuarioID != 0, prefix+"usuarioId", "El usuario_id es obligatorio")
	f.check(strings.TrimSpace(m.MoveUciFrom) != "", prefix+"moveUciFrom", "El move_uci_from es obligatorio")
	f.check(strings.TrimSpace(m.MoveUciTo) != "", prefix+"moveUciTo", "El move_uci_to es obligatorio")
	f.check(strings.TrimSpace(m.Fen) != "", prefix+"fen", "El FEN es obligatorio")
}

func (s *Server) createMove(c *fiber.Ctx) error {
	var m persistence.NewMove
	if err := c.BodyParser(&m); err != nil {
		return badBody(c, err)
	}
	f := fieldErrors{}
	validateMove(f, "", m)
	if len(f) > 0 {
		return unprocessable(c, f)
	}
	rec, err := s.store.CreateMove(m)
	if errors.Is(err, ErrUserNotFound) {
		return notFound(c, "USUARIO_NOT_FOUND", fmt.Sprintf("Usuario con id %d no encontrado", m.UsuarioID))
	}
	if err != nil {
		return err
	}
	s.log.Debug().Int64("id", rec.ID).Int64("usuarioId", rec.UsuarioID).Str("san", rec.MoveSan).Msg("move stored")
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) moveByID(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	rec, found := s.store.Move(id)
	if !found {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.JSON(rec)
}

func (s *Server) deleteMove(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	if err := s.store.DeleteMove(id); err != nil {
		return notFound(c, "JUGADA_NOT_FOUND", fmt.Sprintf("Jugada con id %d no encontrada", id))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) page(c *fiber.Ctx, filter func(persistence.MoveRecord, persistence.MoveSummary) bool) error {
	var sorts []string
	for _, v := range c.Context().QueryArgs().PeekMulti("sort") {
		sorts = append(sorts, string(v))
	}
	keys, err := ParseSort(sorts)
	if err != nil {
		return unprocessable(c, fieldErrors{"sort": err.Error()})
	}
	size := c.QueryInt("size", persistence.DefaultPageSize)
	if size < 1 {
		return unprocessable(c, fieldErrors{"size": "must be at least 1"})
	}
	return c.JSON(s.store.ListMoves(filter, keys, c.QueryInt("page", 0), size))
}

func (s *Server) listMoves(c *fiber.Ctx) error {
	return s.page(c, nil)
}

func (s *Server) movesByUser(c *fiber.Ctx) error {
	id, ok := pathID(c, "usuarioId")
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid usuarioId")
	}
	return s.page(c, func(rec persistence.MoveRecord, _ persistence.MoveSummary) bool {
		return rec.UsuarioID == id
	})
}

func (s *Server) movesByPlayer(c *fiber.Ctx) error {
	name := c.Params("nombre")
	return s.page(c, func(_ persistence.MoveRecord, sum persistence.MoveSummary) bool {
		return strings.Contains(sum.UsuarioNombre, name)
	})
}

func (s *Server) confirmImport(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Query("usuarioId"), 10, 64)
	if err != nil {
		return unprocessable(c, fieldErrors{"usuarioId": "El usuario_id es obligatorio"})
	}
	var entries []persistence.ImportEntry
	if err := c.BodyParser(&entries); err != nil {
		return badBody(c, err)
	}

	f := fieldErrors{}
	moves := make([]persistence.NewMove, 0, len(entries))
	for i, e := range entries {
		m := persistence.NewMove{UsuarioID: userID, Fen: e.Fen}
		if len(e.UCI) >= 4 {
			m.MoveUciFrom, m.MoveUciTo = e.UCI[0:2], e.UCI[2:4]
		}
		validateMove(f, fmt.Sprintf("jugadas[%d].", i), m)
		moves = append(moves, m)
	}
	if len(f) > 0 {
		return unprocessable(c, f)
	}
	if _, found := s.store.UserByID(userID); !found {
		return notFound(c, "USUARIO_NOT_FOUND", fmt.Sprintf("Usuario con id %d no encontrado", userID))
	}

	recs := make([]persistence.MoveRecord, 0, len(moves))
	for _, m := range moves {
		rec, err := s.store.CreateMove(m)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	s.log.Info().Int64("usuarioId", userID).Int("moves", len(recs)).Msg("moves imported")
	return c.Status(fiber.StatusCreated).JSON(recs)
}

func (s *Server) exportCSV(c *fiber.Ctx) error {
	all := s.store.ListMoves(nil, []SortKey{{Field: "id"}}, 0, 1<<30).Content

	var buf bytes.Buffer
	if err := persistence.WriteExportCSV(&buf, all); err != nil {
		return err
	}
	c.Attachment("jugadas_export.csv")
	c.Set(fiber.HeaderContentType, "text/csv")
	return c.Send(buf.Bytes())
}
