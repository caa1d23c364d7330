package config

import (
	"time"

	"github.com/evermem/evermem/internal/ledger"
)

type Config struct {
	MemoryPath string
	DeviceID   string
	Timezone   string

	Thresholds ThresholdConfig
	Decay      ledger.DecayPolicy
	Extractor  LLMConfig
	Embedder   EmbedderConfig
	Sync       SyncConfig
	Schedule   ScheduleConfig
}

// ThresholdConfig carries the similarity cutoffs for ingestion.
type ThresholdConfig struct {
	Duplicate float64
	Merge     float64
}

type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string
}

// SyncConfig enables multi-device reconciliation through an
// S3-compatible object store. Disabled unless credentials are set.
type SyncConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type EmbedderConfig struct {
	Provider string
	BaseURL  string
	Model    string
}

// ScheduleConfig holds cron expressions for the background passes and
// the per-operation timeout for foreground calls.
type ScheduleConfig struct {
	DecayCron string
	SyncCron  string
	MineCron  string
	OpTimeout time.Duration
}
