// Command server wires the core (Store, Scheduler, Rating, Selection,
// Import, Backup) behind a thin JSON surface, following the teacher's
// signal-driven graceful-shutdown shape in cmd/api/main.go.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bettertactics/internal/backup"
	"bettertactics/internal/config"
	"bettertactics/internal/importpipeline"
	"bettertactics/internal/selection"
	"bettertactics/internal/service"
	"bettertactics/internal/srs"
	"bettertactics/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	srsCfg := srs.Config{
		DefaultEase: cfg.SRSDefaultEase,
		MinimumEase: cfg.SRSMinimumEase,
		EasyBonus:   cfg.SRSEasyBonus,
	}
	selectCfg := selection.Config{
		DayEndHour:  cfg.SRSDayEndHour,
		ReviewOrder: cfg.SRSReviewOrder,
		DownFrac:    selection.DefaultConfig().DownFrac,
		UpFrac:      selection.DefaultConfig().UpFrac,
	}

	svc := service.New(st, srsCfg, selectCfg)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// The Import task starts in the background on every startup so the
	// server can answer requests immediately; it is a no-op once
	// AppData.lichess_db_imported is true, and an interrupted import is
	// restreamed from the beginning on the next startup.
	go func() {
		result, err := importpipeline.Run(rootCtx, st, st, importpipeline.Config{
			SourceURL: os.Getenv("LICHESS_PUZZLE_DB_URL"),
		}, logger)
		if err != nil {
			logger.Error("import: failed", "error", err)
			return
		}
		logger.Info("import: finished", "inserted", result.RowsInserted, "dropped", result.RowsDropped)
	}()

	backupTask := backup.NewTask(st.DB(), backup.Config{
		Enabled: cfg.BackupEnabled,
		Path:    cfg.BackupPath,
		Hour:    cfg.BackupHour,
	}, logger)
	go backupTask.Run(rootCtx)

	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	registerRoutes(e, svc)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := cfg.BindInterface + ":" + strconv.Itoa(cfg.BindPort)
	go func() {
		logger.Info("server: starting", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-quit
	logger.Info("server: shutting down")

	backupTask.Stop()
	cancelRoot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server: shutdown: %v", err)
	}
	logger.Info("server: stopped")
}

