// Package status serves health, readiness, metrics and per-component
// status for the modem and chat binaries.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/meshmodem/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "1.0.0"

var (
	ErrComponentNotFound = errors.New("status: component not found")
	ErrActionNotFound    = errors.New("status: action not found")
)

type Server struct {
	ID       string
	Addr     string
	Started  time.Time
	Registry *Registry

	router  *gin.Engine
	ready   func() bool
	actions Validator
}

// New builds the router with logging, metrics and CORS middleware. Routes
// are registered by Serve or RegisterRoutes.
func New(id, addr string, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.StatusRequestLogger(log.Logger, id))
	r.Use(observability.StatusMetrics(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:       id,
		Addr:     addr,
		Started:  time.Now(),
		Registry: NewRegistry(),
		router:   r,
		ready:    func() bool { return true },
	}
}

// SetReady replaces the readiness probe.
func (s *Server) SetReady(fn func() bool) {
	s.ready = fn
}

// ProtectActions requires a bearer token accepted by v on action routes.
// Call before RegisterRoutes.
func (s *Server) ProtectActions(v Validator) {
	s.actions = v
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.ready()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": Version,
		})
	})

	s.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": s.ID, "stats": s.Stats(c.Request.Context())})
	})

	s.router.GET("/components", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"components": s.Registry.Info()})
	})

	s.router.GET("/components/:name", func(c *gin.Context) {
		comp, ok := s.Registry.Get(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrComponentNotFound.Error()})
			return
		}
		st, err := comp.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": comp.Name(), "status": st})
	})

	action := []gin.HandlerFunc{}
	if s.actions != nil {
		action = append(action, RequireToken(s.actions))
	}
	action = append(action, func(c *gin.Context) {
		out, err := s.Execute(c.Request.Context(), c.Param("name"), c.Param("action"))
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrComponentNotFound) || errors.Is(err, ErrActionNotFound) {
				code = http.StatusNotFound
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "output": out})
	})
	s.router.POST("/components/:name/actions/:action", action...)
}

// Stats collects every component's status. A failing component reports
// its error string in place of a status.
func (s *Server) Stats(ctx context.Context) map[string]any {
	out := make(map[string]any)
	for _, info := range s.Registry.Info() {
		comp, ok := s.Registry.Get(info.Name)
		if !ok {
			continue
		}
		st, err := comp.Status(ctx)
		if err != nil {
			out[info.Name] = gin.H{"error": err.Error()}
			continue
		}
		out[info.Name] = st
	}
	return out
}

func (s *Server) Execute(ctx context.Context, name, action string) (string, error) {
	comp, ok := s.Registry.Get(name)
	if !ok {
		return "", ErrComponentNotFound
	}
	fn, ok := comp.Actions()[action]
	if !ok {
		return "", ErrActionNotFound
	}
	out, err := fn(ctx)
	if err != nil {
		log.Error().
			Str("server", s.ID).
			Str("component", name).
			Str("action", action).
			Err(err).
			Msg("component action failed")
		return "", err
	}
	log.Info().
		Str("server", s.ID).
		Str("component", name).
		Str("action", action).
		Msg("component action executed")
	return out, nil
}

// Serve registers routes and listens until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("server", s.ID).Str("addr", s.Addr).Msg("status server listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
