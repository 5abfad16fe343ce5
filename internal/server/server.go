package server

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/referral-backend/internal/config"
	"github.com/shinyyama/referral-backend/internal/handler"
	appmw "github.com/shinyyama/referral-backend/internal/middleware"
	"github.com/shinyyama/referral-backend/internal/model"
	"github.com/shinyyama/referral-backend/internal/service"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	e      *echo.Echo
	worker *service.PropagationWorker
	svc    service.ReferralService
}

func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, auth appmw.Authenticator, sha, buildTime string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", appmw.HeaderUserID, appmw.HeaderUserRole},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin(cfg.ReferralLinkBase),
	}))

	comps := NewComponents(db, rdb)
	worker := service.NewPropagationWorker(comps.Engine.Upline, service.PropagationOptions{
		Workers:     cfg.PropagationWorkers,
		QueueSize:   cfg.PropagationQueueSize,
		MaxAttempts: cfg.PropagationMaxAttempts,
		RetryDelay:  cfg.PropagationRetryDelay,
	})
	svc := service.NewReferralService(comps.Users, comps.Stats, comps.Engine, worker, cfg.ReferralLinkBase)

	s := &Server{e: e, worker: worker, svc: svc}
	s.routes(auth, handler.NewReferralHandler(svc), handler.NewUserHandler(svc), sha, buildTime)
	return s
}

func (s *Server) routes(auth appmw.Authenticator, ref *handler.ReferralHandler, users *handler.UserHandler, sha, buildTime string) {
	s.e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    sha,
			"build_time": buildTime,
		})
	})
	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	admin := appmw.RequireRole(model.RoleAdmin, model.RoleSuperAdmin)

	api := s.e.Group("/api")
	api.POST("/users", users.Join, auth.OptionalAuth)
	api.GET("/users/me", users.Me, auth.RequireAuth)
	api.POST("/users/:id/deactivate", ref.Deactivate, auth.RequireAuth, admin)

	r := api.Group("/referral", auth.RequireAuth)
	r.GET("/tree", ref.Tree)
	r.GET("/stats", ref.Stats)
	r.GET("/link", ref.Link)
	r.GET("/admin/tree", ref.AdminTree, admin)
	r.GET("/admin/stats", ref.AdminOverview, admin)
	r.GET("/admin/users/:id/stats", ref.AdminUserStats, admin)
}

// Service exposes the referral service for startup tasks such as bootstrap.
func (s *Server) Service() service.ReferralService {
	return s.svc
}

// Start runs the propagation workers and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.worker.Start(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.e.Start(addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] shutdown: %v", err)
	}
	s.worker.Wait()
	return nil
}

func allowOrigin(linkBase string) func(string) (bool, error) {
	var appHost string
	if u, err := url.Parse(linkBase); err == nil {
		appHost = u.Hostname()
	}
	return func(origin string) (bool, error) {
		low := strings.ToLower(origin)
		if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
			strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
			return true, nil
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false, nil
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false, nil
		}
		return appHost != "" && u.Hostname() == appHost, nil
	}
}
