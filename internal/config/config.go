// Package config loads runtime settings from the environment, with a
// YAML file override for the decay policy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func Load() (*Config, error) {
	memoryPath := os.Getenv("EVERMEM_MEMORY")
	if memoryPath == "" {
		memoryPath = "evermem.db"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	decay, err := loadDecayPolicy()
	if err != nil {
		return nil, err
	}

	extractorConfig, err := loadExtractorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		MemoryPath: memoryPath,
		DeviceID:   os.Getenv("EVERMEM_DEVICE_ID"),
		Timezone:   timezone,
		Thresholds: loadThresholds(),
		Decay:      decay,
		Extractor:  extractorConfig,
		Embedder:   loadEmbedderConfig(),
		Sync:       loadSyncConfig(),
		Schedule:   loadScheduleConfig(),
	}, nil
}

func loadThresholds() ThresholdConfig {
	th := ThresholdConfig{
		Duplicate: 0.97,
		Merge:     0.85,
	}

	if v, err := strconv.ParseFloat(os.Getenv("EVERMEM_DUPLICATE_THRESHOLD"), 64); err == nil && v > 0 && v <= 1 {
		th.Duplicate = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("EVERMEM_MERGE_THRESHOLD"), 64); err == nil && v > 0 && v <= 1 {
		th.Merge = v
	}

	return th
}

func loadSyncConfig() SyncConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	bucket := os.Getenv("EVERMEM_SYNC_BUCKET")
	if bucket == "" {
		bucket = "evermem-sync"
	}

	return SyncConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    bucket,
	}
}

func loadEmbedderConfig() EmbedderConfig {
	provider := os.Getenv("EMBEDDER_PROVIDER")
	if provider == "" {
		provider = "ollama"
	}

	return EmbedderConfig{
		Provider: provider,
		BaseURL:  os.Getenv("EMBEDDER_URL"),
		Model:    os.Getenv("EMBEDDER_MODEL"),
	}
}

// loadExtractorConfig selects the miner's extractor. Without a
// provider the heuristic extractor runs, so no key is required.
func loadExtractorConfig() (LLMConfig, error) {
	provider := os.Getenv("EXTRACTOR_PROVIDER")
	if provider == "" || provider == "heuristic" {
		return LLMConfig{}, nil
	}

	apiKey, err := getAPIKey(provider)
	if err != nil {
		return LLMConfig{}, err
	}

	return LLMConfig{
		Provider: provider,
		APIKey:   apiKey,
		Model:    os.Getenv("EXTRACTOR_MODEL"),
	}, nil
}

func getAPIKey(provider string) (string, error) {
	if key := os.Getenv("EXTRACTOR_API_KEY"); key != "" {
		return key, nil
	}

	switch provider {
	case "claude":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return key, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
}

func loadScheduleConfig() ScheduleConfig {
	decayCron := os.Getenv("EVERMEM_DECAY_CRON")
	if decayCron == "" {
		decayCron = "0 3 * * *" // daily, 3am
	}

	syncCron := os.Getenv("EVERMEM_SYNC_CRON")
	if syncCron == "" {
		syncCron = "*/30 * * * *"
	}

	mineCron := os.Getenv("EVERMEM_MINE_CRON")
	if mineCron == "" {
		mineCron = "0 4 * * *"
	}

	opTimeout := 30 * time.Second
	if v, err := time.ParseDuration(os.Getenv("EVERMEM_OP_TIMEOUT")); err == nil && v > 0 {
		opTimeout = v
	}

	return ScheduleConfig{
		DecayCron: decayCron,
		SyncCron:  syncCron,
		MineCron:  mineCron,
		OpTimeout: opTimeout,
	}
}
