package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"task-lifecycle-api/internal/app"
	"task-lifecycle-api/internal/database"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	a := app.New(cfg, db)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Println("API endpoints:")
		log.Println("  POST   /api/login")
		log.Println("  GET    /api/tasks")
		log.Println("  GET    /api/tasks/:id")
		log.Println("  POST   /api/tasks")
		log.Println("  PUT    /api/tasks/:id")
		log.Println("  PATCH  /api/tasks/:id/status")
		log.Println("  DELETE /api/tasks/:id")
		log.Println("  PUT    /api/board/reorder")
		log.Println("  GET    /api/estimates")
		log.Println("  GET    /api/estimates/velocity")
		log.Println("  GET    /api/estimates/hours-per-point")
		log.Println("  GET    /api/users")
		log.Println("  GET    /api/stats/:userid")
		log.Println("  GET    /api/ws")
		log.Println("  GET    /health")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
