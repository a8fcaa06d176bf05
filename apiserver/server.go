// Package apiserver serves the users and moves REST API that the board
// persists to.
package apiserver

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/walterschell/jaquemate/logx"
)

const BasePath = "/api/v1"

type Server struct {
	app   *fiber.App
	store *Store
	log   zerolog.Logger
}

type ServerOption func(*Server)

func WithLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

func WithStore(store *Store) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

func New(opts ...ServerOption) *Server {
	s := &Server{log: logx.Component("apiserver")}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewStore(nil)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "jaquemate-api",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.accessLog)

	api := s.app.Group(BasePath)

	users := api.Group("/usuarios")
	users.Post("/registro", s.register)
	users.Post("/login", s.login)
	users.Get("/perfil/:usuario", s.userByUsername)
	users.Put("/perfil/:id", s.updateProfile)
	users.Get("/email/:email", s.userByEmail)
	users.Get("/existe/usuario/:usuario", s.usernameExists)
	users.Get("/existe/email/:email", s.emailExists)
	users.Get("/:id", s.userByID)

	moves := api.Group("/jugadas")
	moves.Get("/", s.listMoves)
	moves.Post("/", s.createMove)
	moves.Get("/exportar/csv", s.exportCSV)
	moves.Post("/importar/confirmar", s.confirmImport)
	moves.Get("/usuario/:usuarioId", s.movesByUser)
	moves.Get("/jugador/:nombre", s.movesByPlayer)
	moves.Get("/:id", s.moveByID)
	moves.Delete("/:id", s.deleteMove)

	return s
}

// App exposes the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Store() *Store {
	return s.store
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("api listening")
		errc <- s.app.Listen(addr)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info().Msg("api shutting down")
	return s.app.ShutdownWithContext(shutdownCtx)
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	rid, _ := c.Locals("requestid").(string)
	err := c.Next()
	s.log.Info().
		Str("rid", rid).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("dur", time.Since(start)).
		Msg("request completed")
	return err
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code == fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(code).SendString("Internal server error: " + err.Error())
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
