package app

import (
	"task-lifecycle-api/internal/auth"
	"task-lifecycle-api/internal/cache"
	"task-lifecycle-api/internal/config"
	"task-lifecycle-api/internal/estimation"
	"task-lifecycle-api/internal/handlers"
	"task-lifecycle-api/internal/lifecycle"
	"task-lifecycle-api/internal/realtime"
	"task-lifecycle-api/internal/repository"
	"task-lifecycle-api/internal/routes"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// App is the wired service: storage, engine, realtime hub and HTTP router.
type App struct {
	Config    *config.Config
	Store     *repository.GormStore
	Estimator *estimation.Estimator
	Service   *lifecycle.Service
	Hub       *realtime.Hub
	Tokens    *auth.Issuer
	Router    *gin.Engine
}

// New wires every component on top of an opened, migrated database.
func New(cfg *config.Config, db *gorm.DB, opts ...lifecycle.Option) *App {
	store := repository.NewGormStore(db)

	var summaries cache.Cache[string, estimation.Summary]
	if cfg.Estimation.CacheTTL > 0 {
		summaries = cache.NewTTLCache[string, estimation.Summary](cache.Options{TTL: cfg.Estimation.CacheTTL})
	}
	est := estimation.New(store, summaries, nil)

	hub := realtime.NewHub()
	svc := lifecycle.NewService(store, store, est, append([]lifecycle.Option{lifecycle.WithPublisher(hub)}, opts...)...)
	tokens := auth.NewIssuer(cfg.Auth)

	h := handlers.New(handlers.Deps{
		Tasks:         svc,
		Users:         store,
		Tokens:        tokens,
		Hub:           hub,
		VelocityWeeks: cfg.Estimation.VelocityWeeks,
	})

	return &App{
		Config:    cfg,
		Store:     store,
		Estimator: est,
		Service:   svc,
		Hub:       hub,
		Tokens:    tokens,
		Router:    routes.SetupRoutes(h, tokens),
	}
}
