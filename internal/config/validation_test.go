package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/oddsfeed-client/internal/notify"
)

func validConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "https://api.betradar.com",
			AccessToken: "token",
			TimeoutSec:  30,
			RetryCount:  3,
		},
		Feed: FeedConfig{
			WSURL:                  "wss://stream.betradar.com/feed",
			Sessions:               []string{"all"},
			InactivitySeconds:      20,
			MaxRecoveryTimeMinutes: 360,
			StatusCheckIntervalSec: 20,
			NotificationQueueSize:  16,
		},
		Producers: DefaultProducers(),
		Logging:   LoggingConfig{Level: "info"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_SupportedSessionCombinations(t *testing.T) {
	combos := [][]string{
		{"all"},
		{"high_priority", "low_priority"},
		{"live", "prematch", "virtual"},
		{"prematch"},
	}
	for _, sessions := range combos {
		cfg := validConfig()
		cfg.Feed.Sessions = sessions
		if err := cfg.Validate(); err != nil {
			t.Errorf("sessions %v should be valid, got: %v", sessions, err)
		}
	}
}

func TestValidate_UnsupportedSessionCombination(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.Sessions = []string{"all", "live"}

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs.UnsupportedSessions) != 2 {
		t.Errorf("expected the unsupported combination to be reported, got %v", verrs.UnsupportedSessions)
	}
	if !strings.Contains(err.Error(), "Unsupported session combination: all, live") {
		t.Errorf("error should name the combination, got: %v", err)
	}
}

func TestValidate_InvalidSession(t *testing.T) {
	cfg := validConfig()
	cfg.Feed.Sessions = []string{"all", "outrights", "system_alive"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid sessions")
	}
	if !strings.Contains(err.Error(), "outrights") || !strings.Contains(err.Error(), "system_alive") {
		t.Errorf("error should list invalid sessions, got: %v", err)
	}
	if !strings.Contains(err.Error(), "Valid sessions:") {
		t.Errorf("error should show valid sessions, got: %v", err)
	}
}

func TestValidate_InvalidProducers(t *testing.T) {
	cfg := validConfig()
	cfg.Producers = []ProducerConfig{
		{ID: 1, Name: "LO", Scope: "live", Available: true},
		{ID: 1, Name: "LO2", Scope: "live", Available: true},
		{ID: 2, Name: "Bad", Scope: "outer_space", Available: true},
	}

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs.InvalidProducers) != 2 {
		t.Fatalf("expected 2 invalid producers, got %+v", verrs.InvalidProducers)
	}
	if verrs.InvalidProducers[0].Reason != "duplicate id" {
		t.Errorf("unexpected reason %q", verrs.InvalidProducers[0].Reason)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.API.AccessToken = ""
	cfg.Feed.WSURL = "https://stream.betradar.com/feed"
	cfg.Feed.InactivitySeconds = 0
	cfg.Logging.Level = "verbose"
	cfg.Notify = notify.Config{Enabled: true, Priority: "default"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for multiple issues")
	}

	errStr := err.Error()
	for _, want := range []string{
		"api.access_token",
		"feed.ws_url must use ws or wss",
		"feed.inactivity_seconds must be > 0",
		`logging.level "verbose"`,
		"notify.topic is required",
	} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}
