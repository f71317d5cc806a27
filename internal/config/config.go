package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string  `json:"serverAddress"`
	DatabasePath  string  `json:"databasePath"`
	DatabaseURL   string  `json:"databaseUrl"`
	Sessions      Session `json:"sessions"`
	Sync          Sync    `json:"sync"`
	Storage       Storage `json:"storage"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Session configuration for the legacy sync protocol
type Session struct {
	// LifetimeSeconds is how long an inactive session stays valid
	LifetimeSeconds int `json:"lifetimeSeconds"`
	// DBUpdateDebounceSeconds bounds write amplification on the durable
	// last-used timestamp
	DBUpdateDebounceSeconds int `json:"dbUpdateDebounceSeconds"`
}

// Sync configuration for coordination and caching
type Sync struct {
	// WriteTokenTTLHours is how long a used write token suppresses replays
	WriteTokenTTLHours int `json:"writeTokenTtlHours"`
	// DownloadCacheTTLMinutes bounds memoized whole-library payloads
	DownloadCacheTTLMinutes int `json:"downloadCacheTtlMinutes"`
	// QueueThreshold is the changed-object count above which downloads and
	// uploads are queued instead of processed synchronously
	QueueThreshold int `json:"queueThreshold"`
	// BackgroundProcessing enables the queue path at all
	BackgroundProcessing bool `json:"backgroundProcessing"`
	// MaxNoteBytes rejects oversized note fields before full validation
	MaxNoteBytes int `json:"maxNoteBytes"`
	// UploadTimeoutSeconds is the synchronous upload execution budget
	UploadTimeoutSeconds int `json:"uploadTimeoutSeconds"`
}

// Storage configuration for binary attachments
type Storage struct {
	// DefaultQuotaBytes is the per-user storage entitlement
	DefaultQuotaBytes int64 `json:"defaultQuotaBytes"`
	// MaxUploadSlots caps concurrent pending uploads per user
	MaxUploadSlots int `json:"maxUploadSlots"`
	// UploadSlotTTLMinutes expires unused upload authorizations
	UploadSlotTTLMinutes int `json:"uploadSlotTtlMinutes"`
	// SlotRetryAfterSeconds is the Retry-After hint on slot exhaustion
	SlotRetryAfterSeconds int `json:"slotRetryAfterSeconds"`
	// UploadBaseURL is where authorized clients send their file bytes
	UploadBaseURL string `json:"uploadBaseUrl"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "libsync.db",
		Sessions: Session{
			LifetimeSeconds:         3600,
			DBUpdateDebounceSeconds: 1200,
		},
		Sync: Sync{
			WriteTokenTTLHours:      12,
			DownloadCacheTTLMinutes: 30,
			QueueThreshold:          5,
			BackgroundProcessing:    true,
			MaxNoteBytes:            250000,
			UploadTimeoutSeconds:    300,
		},
		Storage: Storage{
			DefaultQuotaBytes:     300 << 20,
			MaxUploadSlots:        5,
			UploadSlotTTLMinutes:  60,
			SlotRetryAfterSeconds: 30,
			UploadBaseURL:         "http://localhost:5000/upload",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if lifetime := os.Getenv("SESSION_LIFETIME_SECONDS"); lifetime != "" {
		if secs, err := strconv.Atoi(lifetime); err == nil && secs > 0 {
			cfg.Sessions.LifetimeSeconds = secs
		}
	}
	if threshold := os.Getenv("SYNC_QUEUE_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil && n >= 0 {
			cfg.Sync.QueueThreshold = n
		}
	}
	if bg := os.Getenv("SYNC_BACKGROUND_PROCESSING"); bg != "" {
		cfg.Sync.BackgroundProcessing = bg == "true" || bg == "1"
	}
	if quota := os.Getenv("STORAGE_DEFAULT_QUOTA_BYTES"); quota != "" {
		if n, err := strconv.ParseInt(quota, 10, 64); err == nil && n > 0 {
			cfg.Storage.DefaultQuotaBytes = n
		}
	}
	if base := os.Getenv("STORAGE_UPLOAD_BASE_URL"); base != "" {
		cfg.Storage.UploadBaseURL = base
	}

	return cfg, nil
}
