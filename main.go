package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/apiclient"
	"github.com/example/ingrediscan/internal/config"
	"github.com/example/ingrediscan/internal/handlers"
	"github.com/example/ingrediscan/internal/history"
	"github.com/example/ingrediscan/internal/imageprocessor"
	"github.com/example/ingrediscan/internal/logging"
	"github.com/example/ingrediscan/internal/settings"
	"github.com/example/ingrediscan/internal/storage"
	"github.com/example/ingrediscan/internal/usecase"
)

const usage = `usage: ingrediscan [-config path] <command> [args]

commands:
  scan <image>              analyze a label photo and record it in history
  history list              list past scans, newest first
  history show <id>         show one scan with its ingredient breakdown
  history rm <id>           delete one scan
  history summary           aggregate score statistics
  allergens [list]          show the allergen catalog and selection
  allergens set <a> [b...]  replace the selection
  allergens toggle <name>   add or remove one allergen
  serve                     run the local results bridge
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ingrediscan:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingrediscan", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to configuration file (default $"+config.EnvConfig+" or "+config.DefaultPath+")")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(out, usage)
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "scan":
		return a.cmdScan(ctx, rest, out)
	case "history":
		return a.cmdHistory(ctx, rest, out)
	case "allergens":
		return a.cmdAllergens(ctx, rest, out)
	case "serve":
		return a.serve()
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// app wires the components for one process.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	backend   storage.Storage
	history   *history.Store
	allergens *settings.AllergenProfile
	pipeline  *usecase.ScanPipeline
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	backend, err := storage.Open(openCtx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}

	store := history.New(backend, cfg.History, logger)
	if err := store.Load(openCtx); err != nil {
		logger.Warn("history unavailable, starting empty", zap.Error(err))
	}
	profile := settings.NewAllergenProfile(backend, logger)
	if err := profile.Load(openCtx); err != nil {
		logger.Warn("allergen profile unavailable", zap.Error(err))
	}

	client := apiclient.New(cfg.Analyzer, logger)
	if endpoint, err := client.Endpoint(); err != nil {
		logger.Warn("analysis endpoint not configured", zap.Error(err))
	} else {
		logger.Debug("analysis endpoint resolved", zap.String("endpoint", endpoint))
	}

	pipeline := usecase.NewScanPipeline(
		imageprocessor.NewCompressor(logger),
		client,
		store,
		imageprocessor.NewPreviewRegistry(),
		usecase.ScanOptions{Image: cfg.Image, ThumbnailSize: cfg.ThumbnailSize, Locale: cfg.Locale},
		logger,
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		history:   store,
		allergens: profile,
		pipeline:  pipeline,
	}, nil
}

func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
}

func (a *app) serve() error {
	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = a.cfg.Server.MaxUploadBytes

	handlers.RegisterRoutes(r, handlers.Dependencies{
		Pipeline:       a.pipeline,
		History:        a.history,
		Allergens:      a.allergens,
		Logger:         a.logger,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
	})

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("results bridge listening", zap.String("addr", a.cfg.Server.Addr))
	return serveHTTPServer(server, a.cfg.Server.ShutdownTimeout, a.logger)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
