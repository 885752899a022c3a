package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Service owns the settings state. Getters block until the initial load has
// completed; Update and Reset persist the full state.
type Service struct {
	store  Store
	logger *slog.Logger

	ready chan struct{}

	mu      sync.RWMutex
	current Settings
	blob    *blob

	stopWatch func()
}

// NewService creates a settings service over a backing store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Start performs the initial load and begins watching for external changes.
// Load failures are absorbed: the service falls back to defaults.
func (s *Service) Start() error {
	data, err := s.store.Load()
	if err != nil {
		s.logger.Debug("settings load failed, using defaults", "error", err)
		data = nil
	}
	s.apply(data)
	close(s.ready)

	stop, err := s.store.Watch(func(data []byte) {
		s.apply(data)
	})
	if err != nil {
		// External-change notifications are best effort; the service still
		// works without them.
		s.logger.Warn("settings watch unavailable", "error", err)
		return nil
	}
	s.stopWatch = stop
	return nil
}

// Stop releases the external-change watch.
func (s *Service) Stop() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
}

// apply decodes a persisted blob (nil means "nothing persisted"), patches
// defaults into every absent key and swaps the in-memory state.
func (s *Service) apply(data []byte) {
	b := &blob{}
	if data != nil {
		decoded, err := decodeBlob(data)
		if err != nil {
			s.logger.Debug("settings blob unreadable, using defaults", "error", err)
		} else {
			b = decoded
		}
	}
	b.patchDefaults(Defaults())

	s.mu.Lock()
	s.blob = b
	s.current = b.materialize()
	s.mu.Unlock()
}

// Archive returns the archive settings section.
func (s *Service) Archive(ctx context.Context) (ArchiveSettings, error) {
	if err := s.await(ctx); err != nil {
		return ArchiveSettings{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Archive, nil
}

// Open returns the open settings section.
func (s *Service) Open(ctx context.Context) (OpenSettings, error) {
	if err := s.await(ctx); err != nil {
		return OpenSettings{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Open, nil
}

// Update mutates the settings through fn and persists the result.
func (s *Service) Update(ctx context.Context, fn func(*Settings)) error {
	if err := s.await(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	next := s.current
	fn(&next)
	next.Version = SettingsVersion
	b := fromSettings(next, s.blob)
	s.current = next
	s.blob = b
	s.mu.Unlock()

	data, err := b.encode()
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := s.store.Save(data); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}
	return nil
}

// Reset restores defaults and persists them.
func (s *Service) Reset(ctx context.Context) error {
	return s.Update(ctx, func(cfg *Settings) {
		*cfg = Defaults()
	})
}

// SupportedColors exposes the fixed category palette.
func (s *Service) SupportedColors() []string {
	return SupportedColors()
}

func (s *Service) await(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
