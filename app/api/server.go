package api

import (
	"context"
	"log/slog"

	"sibyl/app/config"
	"sibyl/app/service/functions"
	"sibyl/app/service/orchestrator"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/samber/do"
)

// Server exposes the conversation controls over HTTP.
type Server struct {
	cfg      *config.Config
	orch     *orchestrator.Service
	registry *functions.Registry
	app      *fiber.App
}

func New(di *do.Injector) (*Server, error) {
	s := &Server{
		cfg:      do.MustInvoke[*config.Config](di),
		orch:     do.MustInvoke[*orchestrator.Service](di),
		registry: do.MustInvoke[*functions.Registry](di),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/tools", s.handleTools)
	api.Post("/message", s.handleMessage)
	api.Post("/conversation/start", s.handleConversationStart)
	api.Post("/conversation/stop", s.handleConversationStop)
	api.Post("/interrupt", s.handleInterrupt)
	api.Post("/halt", s.handleHalt)
	api.Post("/reset", s.handleReset)

	s.app = app

	return s, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = s.app.Shutdown()
	}()

	slog.Info("API listening", "address", s.cfg.API.Address)

	if err := s.app.Listen(s.cfg.API.Address); err != nil {
		slog.Error("API server stopped", "error", err)
	}
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"state": string(s.orch.CurrentState()),
	})
}

func (s *Server) handleTools(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"tools": s.registry.List(),
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(c *fiber.Ctx) error {
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}

	s.orch.SendTextMessage(req.Text)

	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleConversationStart(c *fiber.Ctx) error {
	if !s.orch.StartConversation() {
		return fiber.NewError(fiber.StatusConflict, "conversation already active")
	}

	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleConversationStop(c *fiber.Ctx) error {
	if !s.orch.StopConversation() {
		return fiber.NewError(fiber.StatusConflict, "not listening")
	}

	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	s.orch.Interrupt()

	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleHalt(c *fiber.Ctx) error {
	s.orch.Halt()

	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	s.orch.Reset()

	return c.SendStatus(fiber.StatusOK)
}
