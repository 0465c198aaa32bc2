package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"demobroker/internal/broker"
	"demobroker/internal/bus"
	"demobroker/internal/config"
	"demobroker/internal/logging"
	"demobroker/internal/metrics"
	"demobroker/internal/resolver"
)

// Options configures process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

const shutdownTimeout = 5 * time.Second

// RunBroker starts the broker and blocks until SIGINT, SIGTERM, or ctx ends.
func RunBroker(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, logPath, err := processLogger(cfg, "broker", opts)
	if err != nil {
		return err
	}
	pidPath := filepath.Join(cfg.Paths.LogDir, "broker.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logger.Info("broker process starting",
		logging.String(logging.FieldSocket, cfg.Paths.SocketPath),
		logging.String("api_bind", cfg.API.Bind),
		logging.Bool("api_token_set", cfg.API.Token != ""),
		logging.Duration("lookup_timeout", cfg.LookupTimeout()),
		logging.String("log_path", logPath),
		logging.String(logging.FieldEventType, "process_starting"))

	b, err := broker.New(cfg, logger, broker.Options{Metrics: metrics.New()})
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}
	if err := b.Run(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "broker exited with error", "process_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, brokerHint(err)))
		return err
	}
	logger.Info("broker process shutting down",
		logging.String(logging.FieldEventType, "process_stopped"))
	return nil
}

func brokerHint(err error) string {
	var bindErr *bus.BindError
	switch {
	case errors.Is(err, broker.ErrAlreadyRunning):
		return "stop the other broker or point this one at a different socket_path"
	case errors.As(err, &bindErr):
		return "check socket_path is writable and not occupied by a regular file"
	default:
		return "check the api bind address and the log above"
	}
}

// RunResolver starts the resolver client and blocks until SIGINT, SIGTERM, or ctx ends.
func RunResolver(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.ValidateResolver(); err != nil {
		return err
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, logPath, err := processLogger(cfg, "resolver", opts)
	if err != nil {
		return err
	}
	pidPath := filepath.Join(cfg.Paths.LogDir, "resolver.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	backend, err := resolver.NewBackend(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()
	client := bus.NewClient(cfg.Paths.SocketPath, bus.ClientOptions{
		Logger:         logger,
		Metrics:        m,
		MaxFrameBytes:  cfg.Bus.MaxFrameBytes,
		WriteTimeout:   cfg.WriteTimeout(),
		DialTimeout:    cfg.DialTimeout(),
		ReconnectDelay: cfg.ReconnectDelay(),
		QueueLimit:     cfg.Client.SendQueueLimit,
	})
	defer client.Close()
	runner := resolver.NewRunner(client, backend, resolver.Options{
		KeyField:      cfg.Bus.KeyField,
		ValueField:    cfg.Bus.ValueField,
		QueryTimeout:  cfg.QueryTimeout(),
		MaxConcurrent: cfg.Resolver.MaxConcurrent,
		Logger:        logger,
		Metrics:       m,
	})

	logger.Info("resolver process starting",
		logging.String(logging.FieldSocket, cfg.Paths.SocketPath),
		logging.String("backend", cfg.Resolver.Backend),
		logging.Duration("reconnect_delay", cfg.ReconnectDelay()),
		logging.String("log_path", logPath),
		logging.String(logging.FieldEventType, "process_starting"))

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	if bind := cfg.Resolver.MetricsBind; bind != "" {
		g.Go(func() error { return serveMetrics(gctx, bind, m, logger) })
	}
	if err := g.Wait(); err != nil {
		logging.ErrorWithContext(logger, "resolver exited with error", "process_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the resolver backend and metrics_bind settings"))
		return err
	}
	logger.Info("resolver process shutting down",
		logging.String(logging.FieldEventType, "process_stopped"))
	return nil
}

func serveMetrics(ctx context.Context, bind string, m *metrics.Metrics, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("resolver metrics listening",
		logging.String("bind", listener.Addr().String()),
		logging.String(logging.FieldEventType, "metrics_listening"))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// processLogger writes to stdout and a per-run file under the log directory,
// and points <process>.log at the newest run.
func processLogger(cfg *config.Config, process string, opts Options) (*slog.Logger, string, error) {
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("%s-%s.log", process, runID))
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return nil, "", fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, process+".log", logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s.log link: %v\n", process, err)
	}
	return logger, logPath, nil
}

func ensureCurrentLogPointer(logDir, name, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, name)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
