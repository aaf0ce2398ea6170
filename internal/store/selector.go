package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// BackendState is decided once at startup and handed to the engagement service.
type BackendState struct {
	RemoteAvailable bool
}

// Backend names the store that serves counters and comments.
func (s BackendState) Backend() string {
	if s.RemoteAvailable {
		return "remote"
	}
	return "local"
}

// Prober is the one read the selector needs from a remote store.
type Prober interface {
	Probe(ctx context.Context) error
}

const defaultProbeTimeout = 3 * time.Second

// placeholderMarker is what sample configuration files leave in unset credentials.
const placeholderMarker = "your-"

// Selector probes the remote store once and latches the answer.
type Selector struct {
	prober  Prober
	timeout time.Duration
	logger  *slog.Logger

	once  sync.Once
	state BackendState
}

// NewSelector builds a selector. A nil prober always resolves to the local store.
func NewSelector(prober Prober, timeout time.Duration, logger *slog.Logger) *Selector {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{prober: prober, timeout: timeout, logger: logger}
}

// Resolve runs the probe on first call; later calls return the cached state.
// It never returns an error: any failure selects the local store for the rest of the process.
func (s *Selector) Resolve(ctx context.Context) BackendState {
	s.once.Do(func() {
		s.state = s.probe(ctx)
	})
	return s.state
}

func (s *Selector) probe(ctx context.Context) BackendState {
	if s.prober == nil {
		s.logger.Info("remote store not configured, using local storage")
		return BackendState{}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.prober.Probe(probeCtx); err != nil {
		s.logger.Warn("remote store unavailable, using local storage", slog.String("error", err.Error()))
		return BackendState{}
	}

	s.logger.Info("remote store available")
	return BackendState{RemoteAvailable: true}
}

// IsPlaceholderURL reports whether a configured URL is empty or still a template value.
func IsPlaceholderURL(databaseURL string) bool {
	trimmed := strings.TrimSpace(databaseURL)
	return trimmed == "" || strings.Contains(trimmed, placeholderMarker)
}
