package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/api"
	"github.com/dgnsrekt/oddsfeed-client/internal/clock"
	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/notify"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
	"github.com/dgnsrekt/oddsfeed-client/internal/server"
	"github.com/dgnsrekt/oddsfeed-client/internal/session"
)

const (
	sseKeepAlive    = 15 * time.Second
	shutdownTimeout = 30 * time.Second
)

func runCmd() *cobra.Command {
	var exitOnFatal bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the feed and keep every producer recovered",
		Long: `Connect the system session and one session per configured interest,
track producer liveness and request recoveries whenever a producer falls
behind or goes silent.

Examples:
  # Run with the default config search path
  oddsfeed run

  # Stop as soon as a producer can no longer be recovered
  oddsfeed run --exit-on-fatal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), exitOnFatal)
		},
	}

	cmd.Flags().BoolVar(&exitOnFatal, "exit-on-fatal", false, "exit when a producer reaches a fatal error")
	return cmd
}

func runClient(parent context.Context, exitOnFatal bool) error {
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	interests, err := cfg.Interests()
	if err != nil {
		return err
	}

	reg, err := producer.NewRegistry(cfg.ProducerConfigs())
	if err != nil {
		return fmt.Errorf("building producers: %w", err)
	}

	client := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.AccessToken,
		cfg.API.RatePerMinute,
		cfg.API.Timeout(),
		cfg.API.RetryDelayDuration(),
		cfg.API.RetryCount,
		logger,
	)

	dispatcher := recovery.NewDispatcher(cfg.Feed.NotificationQueueSize, logger)

	fr, err := recovery.NewFeedRecovery(reg, client, interests, cfg.RecoveryOptions(), cfg.StatusCheckInterval(), clock.Real{}, dispatcher, logger)
	if err != nil {
		return fmt.Errorf("building feed recovery: %w", err)
	}

	consume := func(msg feed.Message, interest feed.MessageInterest) {
		logger.Debug("message",
			zap.String("kind", msg.Kind().String()),
			zap.Int("producer", msg.ProducerID()),
			zap.String("interest", interest.Name()),
		)
	}
	fr.SetConsumer(consume)

	dispatcher.Subscribe(notify.NewListener(notify.New(&cfg.Notify, logger), logger))
	dispatcher.Subscribe(recovery.ListenerFuncs{
		StatusChanged: func(e recovery.StatusChanged) {
			logger.Info("producer status changed",
				zap.Int("producer", e.ProducerID),
				zap.String("name", e.ProducerName),
				zap.Stringer("old", e.Old),
				zap.Stringer("new", e.New),
			)
		},
		EventRecoveryCompleted: func(e recovery.EventRecoveryCompleted) {
			logger.Info("event recovery completed",
				zap.Int("producer", e.ProducerID),
				zap.String("event_id", e.EventID),
				zap.Int("released", len(e.Released)),
				zap.Bool("abandoned", e.Abandoned),
			)
			for _, held := range e.Released {
				consume(held.Message, held.Interest)
			}
		},
	})

	var broadcaster *server.Broadcaster
	if cfg.Server.Enabled {
		broadcaster = server.NewBroadcaster(fr, sseKeepAlive, logger)
		dispatcher.Subscribe(broadcaster)
	}

	sessions, err := session.NewFeed(session.Config{
		URL:               cfg.Feed.WSURL,
		AccessToken:       cfg.API.AccessToken,
		NodeID:            cfg.Feed.NodeID,
		ReconnectDelay:    time.Duration(cfg.Feed.ReconnectDelaySec) * time.Second,
		MaxReconnectDelay: time.Duration(cfg.Feed.MaxReconnectDelaySec) * time.Second,
	}, interests, fr, logger)
	if err != nil {
		return fmt.Errorf("building sessions: %w", err)
	}

	logger.Info("starting odds feed client",
		zap.Strings("sessions", interests.Names()),
		zap.Int("producers", len(reg.Active())),
		zap.String("ws_url", cfg.Feed.WSURL),
	)

	var wg sync.WaitGroup
	start := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	start(dispatcher.Run)
	start(fr.Run)
	start(sessions.Run)

	var httpServer *http.Server
	if cfg.Server.Enabled {
		start(broadcaster.Run)

		httpServer = &http.Server{
			Addr:        cfg.Server.Addr,
			Handler:     server.NewRouter(server.NewServer(fr, reg, logger), broadcaster, logger),
			ReadTimeout: 30 * time.Second,
			// No write timeout: /events streams stay open.
		}

		go func() {
			logger.Info("starting status server", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", zap.Error(err))
				cancel()
			}
		}()
	}

	var runErr error
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case fatal := <-fr.FatalErrors():
			logger.Error("producer can no longer be recovered",
				zap.Int("producer", fatal.ProducerID),
				zap.Time("at", fatal.At),
			)
			if exitOnFatal {
				runErr = fmt.Errorf("producer %d reached a fatal error", fatal.ProducerID)
				done = true
			}
		}
	}

	logger.Info("shutting down...")
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}

	wg.Wait()
	logger.Info("odds feed client stopped")
	return runErr
}
