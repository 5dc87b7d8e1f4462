package config

// DefaultProducers lists the producers a standard bookmaker account sees when
// no producers are configured.
func DefaultProducers() []ProducerConfig {
	return []ProducerConfig{
		{ID: 1, Name: "LO", Scope: "live", Available: true, RecoveryWindowMinutes: 4320},
		{ID: 3, Name: "Ctrl", Scope: "prematch", Available: true, RecoveryWindowMinutes: 4320},
		{ID: 4, Name: "BetPal", Scope: "live", Available: true, RecoveryWindowMinutes: 4320},
		{ID: 5, Name: "PremiumCricket", Scope: "live|prematch", Available: true, RecoveryWindowMinutes: 4320},
		{ID: 6, Name: "VF", Scope: "virt", Available: true, RecoveryWindowMinutes: 180},
		{ID: 7, Name: "WNS", Scope: "prematch", Available: true, RecoveryWindowMinutes: 4320},
		{ID: 8, Name: "VBL", Scope: "virt", Available: true, RecoveryWindowMinutes: 180},
		{ID: 9, Name: "VTO", Scope: "virt", Available: true, RecoveryWindowMinutes: 180},
		{ID: 15, Name: "Replay", Scope: "replay", Available: true},
	}
}

// validLogLevels mirrors the levels zap accepts.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
	"dpanic": true, "panic": true, "fatal": true,
}
