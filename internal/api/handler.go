package api

import (
	"net/http"
	"time"

	"signal-engine/internal/audit"
	"signal-engine/internal/events"
	"signal-engine/internal/execution"
	"signal-engine/internal/notify"
	"signal-engine/internal/scheduler"
	"signal-engine/internal/store"
	"signal-engine/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *db.Database
	Store      *store.Store
	Engine     *scheduler.Engine
	ExecRouter *execution.Router
	Audit      *audit.Log
	Hub        *notify.Hub
	JWTSecret  string
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	UseMockFeed bool
	Interval    time.Duration
	Version     string
}

func NewServer(bus *events.Bus, database *db.Database, st *store.Store, engine *scheduler.Engine, execRouter *execution.Router, auditLog *audit.Log, hub *notify.Hub, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                      // Panic recovery (first)
	r.Use(RequestIDMiddleware())               // Request ID tracking
	r.Use(RequestLogger())                     // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())               // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:     r,
		Bus:        bus,
		DB:         database,
		Store:      st,
		Engine:     engine,
		ExecRouter: execRouter,
		Audit:      auditLog,
		Hub:        hub,
		JWTSecret:  jwtSecret,
		Meta:       meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocketEvents)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/formulas", s.listFormulas)
			protected.POST("/formulas", s.createFormula)
			protected.GET("/formulas/:id", s.getFormula)
			protected.PUT("/formulas/:id", s.updateFormula)
			protected.DELETE("/formulas/:id", s.deleteFormula)
			protected.POST("/formulas/:id/evaluate", s.evaluateFormula)

			protected.POST("/subscriptions", s.createSubscription)
			protected.PUT("/subscriptions/:id", s.updateSubscription)

			protected.GET("/signals", s.listSignals)

			protected.GET("/approvals", s.listApprovals)
			protected.POST("/approvals/:tradeID/approve", s.approveTrade)
			protected.POST("/approvals/:tradeID/reject", s.rejectTrade)

			protected.GET("/stats", s.getStats)
			protected.POST("/stats/reset", s.resetStats)
			protected.GET("/audit", s.getAuditTrail)

			protected.GET("/ws/notifications", s.websocketNotifications)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":       s.Meta.Version,
		"use_mock_feed": s.Meta.UseMockFeed,
		"interval":      s.Meta.Interval.String(),
		"instance":      s.Audit.Instance(),
		"stats":         s.Engine.Stats.Snapshot(),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
