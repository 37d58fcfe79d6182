// Package state implements the COLD/WARM/HOT token state machine, TTL
// transitions, alert cooldown, and the HOT-promotion backfill trigger.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rawblock/swap-sentinel/pkg/models"
)

const activeMintsKey = "hot:mints:active"

func profileKey(mint string) string { return "hot:" + mint }

// Manager owns transitions for every mint's TokenProfile, backed by the
// same Redis instance as the counter store under a `hot:{mint}` key.
type Manager struct {
	rdb           *redis.Client
	hotTTL        time.Duration
	warmTTL       time.Duration
	alertCooldown time.Duration
}

// NewManager constructs a state manager with the given TTL defaults
// (HOT_TTL 1h, WARM_TTL 30m, alert cooldown 300s are the usual values —
// hot-reloadable by the caller re-reading config and constructing field
// assignments, not by this struct itself).
func NewManager(rdb *redis.Client, hotTTL, warmTTL, alertCooldown time.Duration) *Manager {
	return &Manager{rdb: rdb, hotTTL: hotTTL, warmTTL: warmTTL, alertCooldown: alertCooldown}
}

func (m *Manager) load(ctx context.Context, mint string) (models.TokenProfile, error) {
	raw, err := m.rdb.Get(ctx, profileKey(mint)).Bytes()
	if err == redis.Nil {
		return models.TokenProfile{Mint: mint, State: models.StateCold}, nil
	}
	if err != nil {
		return models.TokenProfile{}, err
	}
	var p models.TokenProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.TokenProfile{}, fmt.Errorf("decode profile for %s: %w", mint, err)
	}
	return p, nil
}

func (m *Manager) save(ctx context.Context, p models.TokenProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	pipe := m.rdb.Pipeline()
	pipe.Set(ctx, profileKey(p.Mint), raw, 0)
	pipe.ZAdd(ctx, activeMintsKey, redis.Z{Score: float64(p.LastActivityAt.Unix()), Member: p.Mint})
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the current profile, creating an implicit COLD profile for an
// unseen mint.
func (m *Manager) Get(ctx context.Context, mint string) (models.TokenProfile, error) {
	return m.load(ctx, mint)
}

// RecordActivity advances COLD -> WARM on the first SwapEvent or
// MintTouchEvent for a mint and always refreshes LastActivityAt. It returns
// true iff this call performed the COLD -> WARM transition.
func (m *Manager) RecordActivity(ctx context.Context, mint string, now time.Time) (models.TokenProfile, bool, error) {
	p, err := m.load(ctx, mint)
	if err != nil {
		return models.TokenProfile{}, false, err
	}
	promoted := false
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}
	if p.State == models.StateCold {
		p.State = models.StateWarm
		p.StateSince = now
		promoted = true
	}
	p.Mint = mint
	p.LastActivityAt = now
	if err := m.save(ctx, p); err != nil {
		return models.TokenProfile{}, false, err
	}
	return p, promoted, nil
}

// RecordTrigger advances a mint to HOT whenever any TriggerRule fires,
// scheduling hot_ttl_expires_at = now + hotTTL, and returns true iff this
// call performed the WARM -> HOT transition (the signal the orchestrator
// uses to schedule backfill).
func (m *Manager) RecordTrigger(ctx context.Context, mint string, now time.Time) (models.TokenProfile, bool, error) {
	p, err := m.load(ctx, mint)
	if err != nil {
		return models.TokenProfile{}, false, err
	}
	promoted := p.State != models.StateHot
	if promoted {
		p.StateSince = now
	}
	p.Mint = mint
	p.State = models.StateHot
	p.HotTTLExpiresAt = now.Add(m.hotTTL)
	p.LastActivityAt = now
	if err := m.save(ctx, p); err != nil {
		return models.TokenProfile{}, false, err
	}
	return p, promoted, nil
}

// Transition describes one state change observed during a Tick sweep.
type Transition struct {
	Mint string
	From models.TokenState
	To   models.TokenState
}

// Tick sweeps every mint with recorded activity and applies the two
// time-based demotions: HOT -> WARM at hot_ttl_expires_at with no refiring,
// and WARM -> COLD after warmTTL of inactivity. Intended to be called once
// per detector tick, every second.
func (m *Manager) Tick(ctx context.Context, now time.Time) ([]Transition, error) {
	mints, err := m.rdb.ZRange(ctx, activeMintsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list active mints: %w", err)
	}

	var transitions []Transition
	for _, mint := range mints {
		p, err := m.load(ctx, mint)
		if err != nil {
			continue
		}

		switch p.State {
		case models.StateHot:
			if !p.HotTTLExpiresAt.IsZero() && !now.Before(p.HotTTLExpiresAt) {
				transitions = append(transitions, Transition{Mint: mint, From: models.StateHot, To: models.StateWarm})
				p.State = models.StateWarm
				p.StateSince = now
				if err := m.save(ctx, p); err != nil {
					return transitions, err
				}
			}
		case models.StateWarm:
			if now.Sub(p.LastActivityAt) >= m.warmTTL {
				transitions = append(transitions, Transition{Mint: mint, From: models.StateWarm, To: models.StateCold})
				p.State = models.StateCold
				p.StateSince = now
				if err := m.save(ctx, p); err != nil {
					return transitions, err
				}
				if err := m.rdb.ZRem(ctx, activeMintsKey, mint).Err(); err != nil {
					return transitions, err
				}
			}
		}
	}
	return transitions, nil
}

// ShouldAlert reports whether an alert may be emitted for mint right now.
// The cooldown gates alert emission independent of the mint's current
// HOT/WARM/COLD state.
func (m *Manager) ShouldAlert(ctx context.Context, mint string, now time.Time) (bool, error) {
	p, err := m.load(ctx, mint)
	if err != nil {
		return false, err
	}
	return !p.IsAlertCoolingDown(now, m.alertCooldown), nil
}

// RecordAlertSent stamps LastAlertAt so subsequent fires within the
// cooldown window are suppressed.
func (m *Manager) RecordAlertSent(ctx context.Context, mint string, now time.Time) error {
	p, err := m.load(ctx, mint)
	if err != nil {
		return err
	}
	p.Mint = mint
	p.LastAlertAt = now
	return m.save(ctx, p)
}
