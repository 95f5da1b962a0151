package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/internal/metrics"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/hub"
	"github.com/ucarlab/go-adas/pkg/protocol"
	"github.com/ucarlab/go-adas/pkg/supervisor"
)

// SupervisorControl is the slice of the supervisor the dashboard needs.
type SupervisorControl interface {
	Status() []supervisor.Status
	Reset(domain protocol.Domain) error
}

// Server is the HTTP and websocket surface of the stack.
type Server struct {
	app    *fiber.App
	port   string
	bus    bus.Bus
	topics *protocol.Topics
	state  *State
	hub    *hub.Hub
	sup    SupervisorControl
}

// NewServer wires the routes. The state holder and hub must be running
// before traffic arrives; the supervisor may be nil when the dashboard
// serves a single standalone worker.
func NewServer(cfg config.DashboardConfig, b bus.Bus, topics *protocol.Topics, state *State, h *hub.Hub, sup SupervisorControl) *Server {
	s := &Server{
		port:   cfg.Port,
		bus:    b,
		topics: topics,
		state:  state,
		hub:    h,
		sup:    sup,
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-adas dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/vehicle-data", s.handleVehicleData)
	api.Post("/clear-warnings", s.handleClearWarnings)
	api.Post("/inject/*", s.handleInject)
	api.Get("/supervisor", s.handleSupervisorStatus)
	api.Post("/supervisor/:domain/reset", s.handleSupervisorReset)

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info("dashboard listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleVehicleData(c *fiber.Ctx) error {
	return c.JSON(s.state.Snapshot())
}

func (s *Server) handleClearWarnings(c *fiber.Ctx) error {
	s.state.ClearWarnings()
	return c.JSON(fiber.Map{"status": "cleared"})
}

// handleInject publishes a request body onto a bus topic, letting mock
// sensor data exercise the workers exactly like real readings. The topic
// is the path remainder, e.g. /api/inject/sensors/distance.
func (s *Server) handleInject(c *fiber.Ctx) error {
	suffix := c.Params("*")
	if suffix == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing topic",
		})
	}

	env, err := protocol.ParseEnvelope(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("body is not a message envelope: %v", err),
		})
	}
	raw, err := env.Bytes()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	topic := fmt.Sprintf("%s/%s", s.topics.Prefix(), suffix)
	s.bus.Publish(topic, raw)
	log.Debug("injected message", "topic", topic, "type", env.Type)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"topic": topic,
		"type":  env.Type,
	})
}

func (s *Server) handleSupervisorStatus(c *fiber.Ctx) error {
	if s.sup == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no supervisor in this process",
		})
	}
	return c.JSON(fiber.Map{"workers": s.sup.Status()})
}

func (s *Server) handleSupervisorReset(c *fiber.Ctx) error {
	if s.sup == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no supervisor in this process",
		})
	}

	domain := protocol.Domain(c.Params("domain"))
	err := s.sup.Reset(domain)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"domain": domain, "status": "reset"})
	case errors.Is(err, supervisor.ErrNotDisabled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
}

// handleStatusWS streams vehicle data snapshots. The current snapshot
// goes out immediately; the hub pushes every subsequent change.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	conn.WriteJSON(s.state.Snapshot())
	hub.NewClient(s.hub, conn).Run()
}
