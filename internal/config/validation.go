package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

// InvalidProducer is a producer entry that cannot be used.
type InvalidProducer struct {
	ID     int
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Missing             []string
	InvalidSettings     []string
	InvalidSessions     []string
	UnsupportedSessions []string
	InvalidProducers    []InvalidProducer
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.InvalidSettings) > 0 || len(e.InvalidSessions) > 0 ||
		len(e.UnsupportedSessions) > 0 || len(e.InvalidProducers) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.Missing) > 0 {
		sb.WriteString("\nMissing settings:\n")
		for _, m := range e.Missing {
			sb.WriteString(fmt.Sprintf("  - %s\n", m))
		}
	}

	if len(e.InvalidSettings) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, s := range e.InvalidSettings {
			sb.WriteString(fmt.Sprintf("  - %s\n", s))
		}
	}

	if len(e.InvalidSessions) > 0 {
		sb.WriteString("\nInvalid sessions:\n")
		for _, s := range e.InvalidSessions {
			sb.WriteString(fmt.Sprintf("  - %s\n", s))
		}
		sb.WriteString(fmt.Sprintf("\nValid sessions: %s\n", validSessionsList()))
	}

	if len(e.UnsupportedSessions) > 0 {
		sb.WriteString(fmt.Sprintf("\nUnsupported session combination: %s\n", strings.Join(e.UnsupportedSessions, ", ")))
		sb.WriteString("Open a single session, high_priority with low_priority, or only scoped sessions (live, prematch, virtual)\n")
	}

	if len(e.InvalidProducers) > 0 {
		sb.WriteString("\nInvalid producers:\n")
		for _, p := range e.InvalidProducers {
			sb.WriteString(fmt.Sprintf("  - %d: %s\n", p.ID, p.Reason))
		}
	}

	return sb.String()
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.AccessToken == "" {
		errs.Missing = append(errs.Missing, "api.access_token (set ODDSFEED_ACCESS_TOKEN env var)")
	}
	validateURL(errs, "api.base_url", c.API.BaseURL, "http", "https")
	validateURL(errs, "feed.ws_url", c.Feed.WSURL, "ws", "wss")

	positive := []struct {
		name  string
		value int
	}{
		{"api.timeout_sec", c.API.TimeoutSec},
		{"feed.inactivity_seconds", c.Feed.InactivitySeconds},
		{"feed.max_recovery_time_minutes", c.Feed.MaxRecoveryTimeMinutes},
		{"feed.status_check_interval_sec", c.Feed.StatusCheckIntervalSec},
		{"feed.notification_queue_size", c.Feed.NotificationQueueSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs.InvalidSettings = append(errs.InvalidSettings, fmt.Sprintf("%s must be > 0, got %d", p.name, p.value))
		}
	}
	if c.API.RetryCount < 0 {
		errs.InvalidSettings = append(errs.InvalidSettings, fmt.Sprintf("api.retry_count must be >= 0, got %d", c.API.RetryCount))
	}
	if c.Logging.Level != "" && !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs.InvalidSettings = append(errs.InvalidSettings, fmt.Sprintf("logging.level %q is not a valid level", c.Logging.Level))
	}
	if err := c.Notify.Validate(); err != nil {
		errs.InvalidSettings = append(errs.InvalidSettings, err.Error())
	}

	validateSessions(errs, c.Feed.Sessions)
	validateProducers(errs, c.ProducerConfigs())

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(errs *ValidationErrors, name, raw string, schemes ...string) {
	if raw == "" {
		errs.Missing = append(errs.Missing, name)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		errs.InvalidSettings = append(errs.InvalidSettings, fmt.Sprintf("%s %q is not a valid URL", name, raw))
		return
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return
		}
	}
	errs.InvalidSettings = append(errs.InvalidSettings, fmt.Sprintf("%s must use %s, got %q", name, strings.Join(schemes, " or "), u.Scheme))
}

// validateSessions rejects unknown session names and combinations recovery
// cannot decide completion for.
func validateSessions(errs *ValidationErrors, sessions []string) {
	if len(sessions) == 0 {
		errs.Missing = append(errs.Missing, "feed.sessions")
		return
	}

	set := feed.InterestSet{}
	for _, name := range sessions {
		mi, err := feed.ParseInterest(name)
		if err != nil || mi == feed.SystemAlive {
			errs.InvalidSessions = append(errs.InvalidSessions, name)
			continue
		}
		set.Add(mi)
	}
	if len(errs.InvalidSessions) > 0 {
		return
	}

	// Completion never depends on producer scope when the combination is unsupported.
	if _, err := recovery.RequiredInterests(set, 0); err != nil {
		var unsupported *recovery.UnsupportedInterestsError
		if errors.As(err, &unsupported) {
			errs.UnsupportedSessions = unsupported.Interests
		}
	}
}

func validateProducers(errs *ValidationErrors, cfgs []producer.Config) {
	seen := make(map[int]bool, len(cfgs))
	for _, cfg := range cfgs {
		if seen[cfg.ID] {
			errs.InvalidProducers = append(errs.InvalidProducers, InvalidProducer{ID: cfg.ID, Reason: "duplicate id"})
			continue
		}
		seen[cfg.ID] = true

		if _, err := producer.New(cfg); err != nil {
			errs.InvalidProducers = append(errs.InvalidProducers, InvalidProducer{ID: cfg.ID, Reason: err.Error()})
		}
	}
}

func validSessionsList() string {
	names := []string{
		feed.All.Name(), feed.LiveOnly.Name(), feed.PrematchOnly.Name(), feed.VirtualSports.Name(),
		feed.HighPriority.Name(), feed.LowPriority.Name(),
	}
	return strings.Join(names, ", ")
}
