package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/clock"
	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

// MessageConsumer receives user-session messages that were not held back.
type MessageConsumer func(msg feed.Message, interest feed.MessageInterest)

// FatalProducer reports a producer that reached FatalError.
type FatalProducer struct {
	ProducerID int
	At         time.Time
}

// FeedRecovery owns one Manager per available producer and routes feed
// messages to them.
type FeedRecovery struct {
	registry   *producer.Registry
	managers   map[int]*Manager
	dispatcher *Dispatcher
	interests  feed.InterestSet
	interval   time.Duration
	logger     *zap.Logger

	consumerMu sync.RWMutex
	consumer   MessageConsumer

	fatal     chan FatalProducer
	fatalOnce sync.Map
}

// NewFeedRecovery builds managers for every available producer in reg.
func NewFeedRecovery(reg *producer.Registry, issuer Issuer, interests feed.InterestSet, opts Options, checkInterval time.Duration, clk clock.Clock, dispatcher *Dispatcher, logger *zap.Logger) (*FeedRecovery, error) {
	if len(interests) == 0 {
		return nil, fmt.Errorf("at least one session interest is required")
	}
	if checkInterval <= 0 {
		return nil, fmt.Errorf("status check interval must be positive")
	}

	fr := &FeedRecovery{
		registry:   reg,
		managers:   make(map[int]*Manager),
		dispatcher: dispatcher,
		interests:  interests,
		interval:   checkInterval,
		logger:     logger,
		fatal:      make(chan FatalProducer, len(reg.All())+1),
	}

	for _, p := range reg.All() {
		if !p.IsAvailable() {
			logger.Info("producer not available, skipping", zap.Int("producer", p.ID()))
			continue
		}
		m, err := NewManager(p, issuer, interests, opts, clk, dispatcher, logger)
		if err != nil {
			return nil, err
		}
		fr.managers[p.ID()] = m
	}

	dispatcher.Subscribe(ListenerFuncs{StatusChanged: fr.onStatusChanged})
	return fr, nil
}

// SetConsumer installs the downstream consumer of user-session messages.
func (fr *FeedRecovery) SetConsumer(c MessageConsumer) {
	fr.consumerMu.Lock()
	defer fr.consumerMu.Unlock()
	fr.consumer = c
}

// Interests returns the user session interests this feed was opened with.
func (fr *FeedRecovery) Interests() feed.InterestSet {
	return fr.interests
}

// FatalErrors yields producers that can no longer be recovered. The owner
// decides whether to stop the whole feed.
func (fr *FeedRecovery) FatalErrors() <-chan FatalProducer {
	return fr.fatal
}

// Manager returns the manager for a producer id.
func (fr *FeedRecovery) Manager(producerID int) (*Manager, error) {
	m, ok := fr.managers[producerID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", producer.ErrUnknownProducer, producerID)
	}
	return m, nil
}

// HandleSystemMessage routes a system session message.
func (fr *FeedRecovery) HandleSystemMessage(ctx context.Context, msg feed.Message) {
	m, ok := fr.managers[msg.ProducerID()]
	if !ok {
		fr.logger.Debug("system message for unknown producer", zap.Int("producer", msg.ProducerID()))
		return
	}
	m.ProcessSystemMessage(ctx, msg)
}

// HandleUserMessage routes a user session message and forwards it to the
// consumer unless it was stashed.
func (fr *FeedRecovery) HandleUserMessage(ctx context.Context, msg feed.Message, interest feed.MessageInterest) {
	if m, ok := fr.managers[msg.ProducerID()]; ok {
		if m.ProcessUserMessage(ctx, msg, interest) {
			return
		}
	} else {
		fr.logger.Debug("user message for unknown producer",
			zap.Int("producer", msg.ProducerID()),
			zap.String("interest", interest.Name()),
		)
	}

	fr.consumerMu.RLock()
	consumer := fr.consumer
	fr.consumerMu.RUnlock()
	if consumer != nil {
		consumer(msg, interest)
	}
}

// ConnectionShutdown tells every producer the feed connection was lost.
func (fr *FeedRecovery) ConnectionShutdown() {
	for _, m := range fr.sortedManagers() {
		m.ConnectionShutdown()
	}
}

// CheckStatus re-evaluates every producer once.
func (fr *FeedRecovery) CheckStatus(ctx context.Context) {
	for _, m := range fr.sortedManagers() {
		m.CheckStatus(ctx)
	}
}

// RecoverEvent requests a single-event recovery on a producer.
func (fr *FeedRecovery) RecoverEvent(ctx context.Context, producerID int, eventID string) (int64, error) {
	m, err := fr.Manager(producerID)
	if err != nil {
		return 0, err
	}
	return m.RecoverEvent(ctx, eventID)
}

// Snapshots returns the state of every managed producer ordered by id.
func (fr *FeedRecovery) Snapshots() []Snapshot {
	managers := fr.sortedManagers()
	out := make([]Snapshot, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Snapshot())
	}
	return out
}

// Run calls CheckStatus on a fixed interval until ctx is cancelled.
func (fr *FeedRecovery) Run(ctx context.Context) {
	fr.logger.Info("producer status checks starting",
		zap.Duration("interval", fr.interval),
		zap.Int("producers", len(fr.managers)),
	)

	ticker := time.NewTicker(fr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fr.logger.Info("producer status checks stopping")
			return
		case <-ticker.C:
			fr.CheckStatus(ctx)
		}
	}
}

func (fr *FeedRecovery) sortedManagers() []*Manager {
	out := make([]*Manager, 0, len(fr.managers))
	for _, p := range fr.registry.All() {
		if m, ok := fr.managers[p.ID()]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (fr *FeedRecovery) onStatusChanged(e StatusChanged) {
	if e.New != FatalError {
		return
	}
	if _, reported := fr.fatalOnce.LoadOrStore(e.ProducerID, true); reported {
		return
	}
	select {
	case fr.fatal <- FatalProducer{ProducerID: e.ProducerID, At: e.At}:
	default:
		fr.logger.Error("fatal producer channel full", zap.Int("producer", e.ProducerID))
	}
}
