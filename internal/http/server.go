// README: API gateway; builds the gin engine, registers routes and runs the listener.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/rider"
)

type ServerDeps struct {
	Orders      *order.Service
	Coordinator *assignment.Coordinator
	Pool        rider.Pool
	// Verifier may be nil; every caller then acts as an operator.
	Verifier   infra.TokenVerifier
	Logger     *slog.Logger
	SweepBatch int
}

type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(addr string, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := NewRouter(deps, logger)
	return &Server{
		engine: engine,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func NewRouter(deps ServerDeps, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	operator := middleware.RequireRole(middleware.RoleOperator)

	orders := handlers.NewOrderHandler(deps.Orders, deps.Coordinator)
	api.POST("/orders", middleware.RequireRole(middleware.RoleCustomer), orders.Create)
	api.GET("/orders/:id", orders.Get)
	api.POST("/orders/:id/assign", operator, orders.Assign)
	api.POST("/orders/:id/release", middleware.RequireRole(middleware.RoleRider), orders.Release)

	riders := handlers.NewRiderHandler(deps.Pool)
	api.POST("/riders", operator, riders.Register)
	api.PUT("/riders/:id/location", riders.UpdateLocation)
	api.POST("/riders/:id/availability", riders.SetAvailability)

	batch := deps.SweepBatch
	if batch <= 0 {
		batch = 50
	}
	sweep := handlers.NewAssignmentHandler(deps.Coordinator, batch)
	api.POST("/assignments/sweep", operator, sweep.Sweep)
	return r
}
