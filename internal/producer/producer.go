package producer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
)

// Config describes one upstream producer as configured at startup.
type Config struct {
	ID                     int
	Name                   string
	Scope                  string
	Available              bool
	MaxInactivitySeconds   int
	MaxRecoveryTimeMinutes int
	// RecoveryWindowMinutes bounds how far back an "after" cursor may point.
	// Zero means MaxRecoveryTimeMinutes.
	RecoveryWindowMinutes int
}

// Diagnostics is the bookkeeping the recovery issuer leaves on a producer.
type Diagnostics struct {
	LastRecoveryRequestAt    time.Time
	LastRecoveryResponseCode int
	LastRequestID            int64
}

// Producer is an upstream data source. One instance exists per configured
// producer for the life of the process; recovery code mutates it under its own lock.
type Producer struct {
	id                  int
	name                string
	scope               string
	scopes              feed.ScopeSet
	available           bool
	maxInactivity       time.Duration
	maxRecoveryDuration time.Duration
	maxAfterAge         time.Duration

	mu                            sync.RWMutex
	disabled                      bool
	down                          bool
	lastTimestampBeforeDisconnect time.Time
	timeOfLastAlive               time.Time
	diagnostics                   Diagnostics
	eventRecoveries               map[int64]string
}

// New validates cfg and builds a Producer. New producers start down.
func New(cfg Config) (*Producer, error) {
	if cfg.ID <= 0 {
		return nil, fmt.Errorf("producer id must be positive, got %d", cfg.ID)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("producer %d: name is required", cfg.ID)
	}
	scopes, err := feed.ParseScopes(cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("producer %d: %w", cfg.ID, err)
	}
	if cfg.MaxInactivitySeconds <= 0 {
		return nil, fmt.Errorf("producer %d: max inactivity must be positive", cfg.ID)
	}
	if cfg.MaxRecoveryTimeMinutes <= 0 {
		return nil, fmt.Errorf("producer %d: max recovery time must be positive", cfg.ID)
	}

	window := cfg.RecoveryWindowMinutes
	if window <= 0 {
		window = cfg.MaxRecoveryTimeMinutes
	}

	return &Producer{
		id:                  cfg.ID,
		name:                cfg.Name,
		scope:               cfg.Scope,
		scopes:              scopes,
		available:           cfg.Available,
		maxInactivity:       time.Duration(cfg.MaxInactivitySeconds) * time.Second,
		maxRecoveryDuration: time.Duration(cfg.MaxRecoveryTimeMinutes) * time.Minute,
		maxAfterAge:         time.Duration(window) * time.Minute,
		down:                true,
		eventRecoveries:     make(map[int64]string),
	}, nil
}

func (p *Producer) ID() int                      { return p.id }
func (p *Producer) Name() string                 { return p.name }
func (p *Producer) Scope() string                { return p.scope }
func (p *Producer) Scopes() feed.ScopeSet        { return p.scopes }
func (p *Producer) IsAvailable() bool            { return p.available }
func (p *Producer) IgnoresRecovery() bool        { return p.scopes.IsReplay() }
func (p *Producer) MaxInactivity() time.Duration { return p.maxInactivity }

// MaxRecoveryDuration is how long a recovery may run before it is timed out.
func (p *Producer) MaxRecoveryDuration() time.Duration { return p.maxRecoveryDuration }

// MaxAfterAge is the oldest "after" cursor the server accepts, measured back from now.
func (p *Producer) MaxAfterAge() time.Duration { return p.maxAfterAge }

func (p *Producer) String() string {
	return fmt.Sprintf("%d-%s", p.id, p.name)
}

// Key identifies the producer for deduplication.
func (p *Producer) Key() string {
	return fmt.Sprintf("%d:%s", p.id, strings.ToLower(p.name))
}

// Equal compares id and case-insensitive name.
func (p *Producer) Equal(other *Producer) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Key() == other.Key()
}

func (p *Producer) IsDisabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.disabled
}

func (p *Producer) SetDisabled(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = disabled
}

// IsProducerDown is true unless the producer's recovery status is Completed.
func (p *Producer) IsProducerDown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.down
}

func (p *Producer) SetProducerDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

// LastTimestampBeforeDisconnect is the recovery cursor. Zero means full recovery.
func (p *Producer) LastTimestampBeforeDisconnect() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastTimestampBeforeDisconnect
}

func (p *Producer) SetLastTimestampBeforeDisconnect(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTimestampBeforeDisconnect = t
}

func (p *Producer) TimeOfLastAlive() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeOfLastAlive
}

func (p *Producer) SetTimeOfLastAlive(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeOfLastAlive = t
}

// RecordRecoveryRequest stores what the last recovery request looked like.
func (p *Producer) RecordRecoveryRequest(at time.Time, responseCode int, requestID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diagnostics = Diagnostics{
		LastRecoveryRequestAt:    at,
		LastRecoveryResponseCode: responseCode,
		LastRequestID:            requestID,
	}
}

func (p *Producer) Diagnostics() Diagnostics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.diagnostics
}

// AddEventRecovery remembers an in-flight event-level recovery request.
func (p *Producer) AddEventRecovery(requestID int64, eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventRecoveries[requestID] = eventID
}

// TakeEventRecovery removes and returns the event for an event-level request id.
func (p *Producer) TakeEventRecovery(requestID int64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	eventID, ok := p.eventRecoveries[requestID]
	if ok {
		delete(p.eventRecoveries, requestID)
	}
	return eventID, ok
}

// ClearEventRecoveries forgets every unfinished event-level request and
// returns how many there were.
func (p *Producer) ClearEventRecoveries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.eventRecoveries)
	p.eventRecoveries = make(map[int64]string)
	return n
}

// PendingEventRecoveries returns the number of unfinished event-level requests.
func (p *Producer) PendingEventRecoveries() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.eventRecoveries)
}
