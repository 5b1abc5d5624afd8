package secmon

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/log"
)

// Server exposes the control and presentation endpoints: alert queries,
// lifecycle operations, export, statistics and health.
type Server struct {
	app       *fiber.App
	manager   *Manager
	detector  *Detector
	monitor   *Monitor
	metrics   MetricsCollector
	feed      *DashboardFeed
	logger    log.Logger
	startedAt time.Time
}

// NewServer builds the fiber app and registers all routes. The monitor,
// metrics collector and dashboard feed are optional.
func NewServer(manager *Manager, detector *Detector, monitor *Monitor, metrics MetricsCollector, feed *DashboardFeed, logger log.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "secmon",
			DisableStartupMessage: true,
		}),
		manager:   manager,
		detector:  detector,
		monitor:   monitor,
		metrics:   metrics,
		feed:      feed,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealthz)
	s.app.Get("/metrics", s.handlePrometheus)

	api := s.app.Group("/api")
	api.Get("/security-status", s.handleSecurityStatus)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/system-health", s.handleSystemHealth)
	api.Get("/statistics", s.handleStatistics)
	api.Get("/notifications", s.handleNotifications)

	alerts := api.Group("/alerts")
	alerts.Get("/", s.handleAlerts)
	alerts.Get("/active", s.handleActiveAlerts)
	alerts.Get("/export", s.handleExport)
	alerts.Post("/:id/acknowledge", s.handleAcknowledge)
	alerts.Post("/:id/resolve", s.handleResolve)
	alerts.Post("/:id/escalate", s.handleEscalate)
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handlePrometheus(c *fiber.Ctx) error {
	if s.metrics == nil {
		return c.SendString("")
	}
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(s.metrics.ExportPrometheus())
}

func (s *Server) handleSecurityStatus(c *fiber.Ctx) error {
	stats := s.manager.Statistics()
	resp := fiber.Map{
		"status":        "active",
		"last_update":   time.Now().Format(time.RFC3339),
		"total_threats": s.detector.Statistics().TotalThreats,
		"active_alerts": stats.ActiveAlerts,
	}
	if s.monitor != nil {
		history := s.monitor.History()
		if sys, ok := history.LatestSystem(); ok {
			resp["system_health"] = SystemHealth(sys)
		}
		if netw, ok := history.LatestNetwork(); ok {
			resp["network_status"] = NetworkStatus(netw)
		}
	}
	return c.JSON(resp)
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	if s.monitor == nil {
		return c.JSON(SnapshotHistory{})
	}
	return c.JSON(s.monitor.History())
}

func (s *Server) handleSystemHealth(c *fiber.Ctx) error {
	if s.monitor == nil {
		return c.JSON([]SystemSnapshot{})
	}
	return c.JSON(s.monitor.History().System)
}

func (s *Server) handleStatistics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"alerts":  s.manager.Statistics(),
		"threats": s.detector.Statistics(),
	})
}

func (s *Server) handleNotifications(c *fiber.Ctx) error {
	if s.feed == nil {
		return c.JSON([]NotificationPayload{})
	}
	return c.JSON(s.feed.Recent(c.QueryInt("limit", 50)))
}

func (s *Server) handleAlerts(c *fiber.Ctx) error {
	if sev := c.Query("severity"); sev != "" {
		return c.JSON(s.manager.AlertsBySeverity(Severity(sev)))
	}
	if tt := c.Query("type"); tt != "" {
		return c.JSON(s.manager.AlertsByType(ThreatType(tt)))
	}
	return c.JSON(s.manager.Alerts())
}

func (s *Server) handleActiveAlerts(c *fiber.Ctx) error {
	return c.JSON(s.manager.ActiveAlerts())
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	format := strings.ToLower(c.Query("format", "json"))
	out, err := s.manager.Export(format)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	if format == "csv" {
		c.Set(fiber.HeaderContentType, "text/csv")
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return c.SendString(out)
}

// lifecycleRequest is the optional JSON body for lifecycle operations.
type lifecycleRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

func (s *Server) parseLifecycleRequest(c *fiber.Ctx) lifecycleRequest {
	req := lifecycleRequest{Actor: "operator"}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			s.logger.Debug().Err(err).Msg("ignoring malformed lifecycle request body")
		}
		if req.Actor == "" {
			req.Actor = "operator"
		}
	}
	return req
}

func (s *Server) handleAcknowledge(c *fiber.Ctx) error {
	req := s.parseLifecycleRequest(c)
	if !s.manager.Acknowledge(c.Params("id"), req.Actor) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Alert not found",
		})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Alert acknowledged"})
}

func (s *Server) handleResolve(c *fiber.Ctx) error {
	req := s.parseLifecycleRequest(c)
	if !s.manager.Resolve(c.Params("id"), req.Actor, req.Notes) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Alert not found",
		})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Alert resolved"})
}

func (s *Server) handleEscalate(c *fiber.Ctx) error {
	if !s.manager.Escalate(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Alert not found or not active",
		})
	}
	return c.JSON(fiber.Map{"success": true, "message": "Alert escalated"})
}
