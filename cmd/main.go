package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tinoosan/downlink/internal/download"
	"github.com/tinoosan/downlink/internal/downloadcfg"
	"github.com/tinoosan/downlink/internal/fetchd"
	"github.com/tinoosan/downlink/internal/metrics"
	"github.com/tinoosan/downlink/internal/reconciler"
	"github.com/tinoosan/downlink/internal/repo"
	"github.com/tinoosan/downlink/internal/router"
	"github.com/tinoosan/downlink/internal/service"
	"github.com/tinoosan/downlink/internal/session"
)

func newLogger() *slog.Logger {
	var out io.Writer = os.Stdout
	if path := os.Getenv("DOWNLINK_LOG_PATH"); path != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewTextHandler(out, nil))
}

func newRepo(logger *slog.Logger) (repo.DownloadRepo, func()) {
	switch os.Getenv("REPO_BACKEND") {
	case "postgres":
		r, err := repo.NewPostgresRepoFromEnv()
		if err != nil {
			logger.Error("postgres repo", "err", err)
			os.Exit(1)
		}
		return r, func() { _ = r.Close() }
	case "bolt":
		path := os.Getenv("DOWNLINK_BOLT_PATH")
		if path == "" {
			path = "downlink.db"
		}
		r, err := repo.NewBoltRepo(path)
		if err != nil {
			logger.Error("bolt repo", "err", err)
			os.Exit(1)
		}
		return r, func() { _ = r.Close() }
	default:
		return repo.NewInMemoryDownloadRepo(), func() {}
	}
}

func main() {
	logger := newLogger()
	slog.SetDefault(logger)
	metrics.Register()

	cl, err := fetchd.NewClientFromEnv()
	if err != nil {
		logger.Error("fetchd client", "err", err)
		os.Exit(1)
	}

	downloadRepo, closeRepo := newRepo(logger)
	defer closeRepo()

	events := make(chan download.Event, 32)
	rep := download.NewChanReporter(events)

	disp := session.NewDispatcher(cl, rep)
	disp.SetLogger(logger)

	mgr := session.NewManager(cl, disp, rep)
	mgr.SetLogger(logger)
	mgr.SetDefaults(downloadcfg.StartOptions{
		Cost: downloadcfg.ParseCostPolicy(os.Getenv("DOWNLINK_COST_POLICY")),
	})

	rec := reconciler.New(logger, downloadRepo, events)
	rec.Run()
	defer rec.Stop()

	downloadSvc := service.NewDownload(downloadRepo, mgr)

	addr := os.Getenv("DOWNLINK_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      router.New(logger, downloadSvc, cl),
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second, // above the wait handler's budget cap
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting downlink API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		disp.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received terminate, graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
