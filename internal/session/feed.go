package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
)

// Feed runs the system session plus one session per user interest.
type Feed struct {
	sessions []*Session
	decoder  *Decoder
	logger   *zap.Logger
}

// NewFeed builds the sessions for interests. The system session is always added.
func NewFeed(cfg Config, interests feed.InterestSet, handler Handler, logger *zap.Logger) (*Feed, error) {
	if len(interests) == 0 {
		return nil, fmt.Errorf("at least one session interest is required")
	}
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}

	f := &Feed{decoder: decoder, logger: logger}
	f.sessions = append(f.sessions, New(cfg, feed.SystemAlive, handler, decoder, logger))
	for _, mi := range interests.Sorted() {
		if mi == feed.SystemAlive {
			continue
		}
		f.sessions = append(f.sessions, New(cfg, mi, handler, decoder, logger))
	}
	return f, nil
}

func (f *Feed) Sessions() []*Session { return f.sessions }

// Run runs every session until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	defer f.decoder.Close()

	names := make([]string, 0, len(f.sessions))
	for _, s := range f.sessions {
		names = append(names, s.Interest().Name())
	}
	f.logger.Info("feed sessions starting", zap.Strings("interests", names))

	var wg sync.WaitGroup
	for _, s := range f.sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}
	wg.Wait()

	f.logger.Info("feed sessions stopped")
}
