package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ametzler/tabvault/internal/config"
	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/domain/rules"
	"github.com/ametzler/tabvault/internal/domain/settings"
	"github.com/ametzler/tabvault/internal/events"
	"github.com/ametzler/tabvault/internal/reconcile"
	"github.com/ametzler/tabvault/internal/sqlite"
	"github.com/ametzler/tabvault/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Stdout belongs to the native-messaging channel; logs go to stderr or
	// an optional capped file.
	logWriter := io.Writer(os.Stderr)
	if cfg.Log.Path != "" {
		fileWriter, file, err := newLogFileWriter(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}
	if err := ensureDir(cfg.Archive.SettingsPath); err != nil {
		logger.Error("failed to prepare settings path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	settingsSvc := settings.NewService(settings.NewFileStore(cfg.Archive.SettingsPath), logger)
	if err := settingsSvc.Start(); err != nil {
		logger.Error("failed to start settings service", "error", err)
		os.Exit(1)
	}
	defer settingsSvc.Stop()

	store := sqlite.NewStore(db)
	bus := events.NewBus()
	evaluator := rules.NewEvaluator(logger)
	browser := transport.NewBrowserState()

	// Preview capture happens on the extension side; captured images arrive
	// inline with the archival requests.
	var rec *reconcile.Reconciler
	archiveSvc := archive.NewService(store, settingsSvc, evaluator, markerFunc(func(ctx context.Context, windowID int) (*archive.SessionMarker, error) {
		return rec.Marker(ctx, windowID)
	}), nil, nil, bus, logger)
	rec = reconcile.NewReconciler(browser, archiveSvc, settingsSvc, nil, nil, bus, cfg.Archive.ViewURL, logger)
	defer rec.Stop()

	dispatcher := transport.NewDispatcher(archiveSvc, settingsSvc, logger)
	dispatcher.RegisterReconciler(rec, browser)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("host started", "db", cfg.DB.Path)
	if err := dispatcher.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("transport error", "error", err)
		os.Exit(1)
	}
}

// markerFunc adapts a function to the archive service's marker lookup.
type markerFunc func(ctx context.Context, windowID int) (*archive.SessionMarker, error)

func (f markerFunc) Marker(ctx context.Context, windowID int) (*archive.SessionMarker, error) {
	return f(ctx, windowID)
}

func ensureDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

// logFileWriter appends to a file and truncates it back to the newest
// keepLogSizeBytes once it grows past maxLogSizeBytes.
type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if err := ensureDir(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf[:n]); err != nil {
		return err
	}
	return nil
}
