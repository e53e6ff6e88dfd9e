package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskscheduler/internal/metrics"
)

// DefaultSunEntity is the entity carrying the next sunrise and sunset.
const DefaultSunEntity = "sun.sun"

// SolarContext holds the latest known sunrise/sunset instants.
type SolarContext struct {
	provider StateProvider
	entityID string
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	snap *SolarSnapshot
}

// NewSolarContext creates a context that reads entityID from provider.
func NewSolarContext(provider StateProvider, entityID string, logger zerolog.Logger) *SolarContext {
	if entityID == "" {
		entityID = DefaultSunEntity
	}
	return &SolarContext{
		provider: provider,
		entityID: entityID,
		logger:   logger.With().Str("component", "solar").Logger(),
		now:      time.Now,
	}
}

// Refresh fetches the sun entity and replaces the snapshot. On failure the
// previous snapshot is kept.
func (s *SolarContext) Refresh(ctx context.Context) (SolarSnapshot, error) {
	snap, err := s.fetch(ctx)
	metrics.ObserveSolarRefresh(err == nil)
	if err != nil {
		s.logger.Warn().Err(err).Bool("stale", s.Snapshot() != nil).Msg("solar refresh failed")
		return SolarSnapshot{}, err
	}
	s.mu.Lock()
	s.snap = &snap
	s.mu.Unlock()
	s.logger.Info().Time("sunrise", snap.Sunrise).Time("sunset", snap.Sunset).Msg("solar times updated")
	return snap, nil
}

func (s *SolarContext) fetch(ctx context.Context) (SolarSnapshot, error) {
	if s.provider == nil {
		return SolarSnapshot{}, fmt.Errorf("no state provider configured")
	}
	state, err := s.provider.GetState(ctx, s.entityID)
	if err != nil {
		return SolarSnapshot{}, fmt.Errorf("get %s: %w", s.entityID, err)
	}
	sunrise, err := timeAttribute(state.Attributes, "next_rising")
	if err != nil {
		return SolarSnapshot{}, err
	}
	sunset, err := timeAttribute(state.Attributes, "next_setting")
	if err != nil {
		return SolarSnapshot{}, err
	}
	return SolarSnapshot{Sunrise: sunrise, Sunset: sunset, FetchedAt: s.now()}, nil
}

// Snapshot returns a copy of the current snapshot, or nil if no refresh has
// ever succeeded.
func (s *SolarContext) Snapshot() *SolarSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	c := *s.snap
	return &c
}

func timeAttribute(attrs map[string]any, key string) (time.Time, error) {
	raw, ok := attrs[key]
	if !ok {
		return time.Time{}, fmt.Errorf("attribute %s missing", key)
	}
	str, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("attribute %s: unexpected type %T", key, raw)
	}
	t, err := ParseTimestamp(str, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("attribute %s: %w", key, err)
	}
	return t, nil
}
