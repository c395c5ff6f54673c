package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"calmhour/internal/config"
	"calmhour/internal/idempotency"
	"calmhour/internal/planner"

	"github.com/gin-gonic/gin"
)

// SettingsStore reads and writes per-account settings.
type SettingsStore interface {
	Get(account string) (config.Settings, error)
	Put(account string, st config.Settings) (config.Settings, error)
}

// Connector links calendar accounts through OAuth.
type Connector interface {
	AuthURL(account string) string
	Exchange(ctx context.Context, account, code string) error
	Disconnect(ctx context.Context, account string) error
}

// Server is the CalmHour HTTP API.
type Server struct {
	logger    *slog.Logger
	resolve   planner.Resolver
	settings  SettingsStore
	connector Connector
	idem      idempotency.Store
}

// NewServer wires the API. connector may be nil for backends without OAuth; idem may be
// nil to disable Idempotency-Key handling.
func NewServer(logger *slog.Logger, resolve planner.Resolver, settings SettingsStore, connector Connector, idem idempotency.Store) *Server {
	return &Server{
		logger:    logger,
		resolve:   resolve,
		settings:  settings,
		connector: connector,
		idem:      idem,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	account := r.Group("/api/accounts/:account", requireAccount())
	{
		account.GET("/slots", s.findSlots)
		account.POST("/focus-blocks", idempotent(s.logger, s.idem), s.createFocusBlock)
		account.POST("/focus-blocks/find-and-block", idempotent(s.logger, s.idem), s.findAndBlock)
		account.PATCH("/focus-blocks/:id", s.updateFocusBlock)
		account.DELETE("/focus-blocks/:id", s.deleteFocusBlock)
		account.GET("/events", s.listEvents)

		account.GET("/settings", s.getSettings)
		account.PUT("/settings", s.putSettings)

		account.GET("/connect", s.connect)
		account.POST("/callback", idempotent(s.logger, s.idem), s.callback)
		account.DELETE("/connection", s.disconnect)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := c.Param("account")
		if account == "" || account == "." || account == ".." {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid request",
				"message": "invalid account name",
			})
			return
		}
		c.Next()
	}
}
