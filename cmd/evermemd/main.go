package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/evermem/evermem/internal/config"
	"github.com/evermem/evermem/internal/conflict"
	"github.com/evermem/evermem/internal/embedder"
	"github.com/evermem/evermem/internal/ledger"
	"github.com/evermem/evermem/internal/llm"
	"github.com/evermem/evermem/internal/logger"
	"github.com/evermem/evermem/internal/miner"
	"github.com/evermem/evermem/internal/service"
	"github.com/evermem/evermem/internal/simindex"
	"github.com/evermem/evermem/internal/syncer"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	store, err := ledger.OpenWithPolicy(cfg.MemoryPath, cfg.Decay)
	if err != nil {
		logger.Fatal("failed to open ledger", "error", err)
	}
	defer store.Close()

	index, err := simindex.New(store.DB())
	if err != nil {
		logger.Fatal("failed to open similarity index", "error", err)
	}

	emb, err := embedder.New(embedder.Config{
		Provider: cfg.Embedder.Provider,
		BaseURL:  cfg.Embedder.BaseURL,
		Model:    cfg.Embedder.Model,
	})
	if err != nil {
		logger.Fatal("failed to create embedder", "error", err)
	}

	var extractor miner.Extractor
	if cfg.Extractor.Provider != "" {
		model, err := llm.New(llm.Config{
			Provider: cfg.Extractor.Provider,
			APIKey:   cfg.Extractor.APIKey,
			Model:    cfg.Extractor.Model,
		})
		if err != nil {
			logger.Fatal("failed to create extractor llm", "error", err)
		}
		extractor = miner.NewLLMExtractor(model)
	} else {
		extractor = miner.NewHeuristicExtractor()
	}
	logger.Info("extractor configured", "method", extractor.Method())

	thresholds := conflict.Thresholds{
		Duplicate: cfg.Thresholds.Duplicate,
		Merge:     cfg.Thresholds.Merge,
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = syncer.DeviceIdentity()
	}

	var reconciler *syncer.Reconciler
	if cfg.Sync.Enabled {
		objects, err := syncer.NewMinioStore(syncer.MinioConfig{
			Endpoint:  cfg.Sync.Endpoint,
			AccessKey: cfg.Sync.AccessKey,
			SecretKey: cfg.Sync.SecretKey,
			UseSSL:    cfg.Sync.UseSSL,
			Bucket:    cfg.Sync.Bucket,
		})
		if err != nil {
			logger.Error("failed to create sync store", "error", err)
		} else {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := objects.Init(initCtx); err != nil {
				logger.Error("failed to init sync bucket", "error", err)
			} else {
				reconciler, err = syncer.New(store, objects, deviceID, thresholds)
				if err != nil {
					logger.Fatal("failed to create reconciler", "error", err)
				}
				logger.Info("sync enabled", "endpoint", cfg.Sync.Endpoint, "device", deviceID)
			}
			cancel()
		}
	}

	svc, err := service.New(service.Options{
		Store:      store,
		Index:      index,
		Embedder:   emb,
		Extractor:  extractor,
		Sync:       reconciler,
		Thresholds: thresholds,
		OpTimeout:  cfg.Schedule.OpTimeout,
	})
	if err != nil {
		logger.Fatal("failed to create service", "error", err)
	}

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		tz = time.UTC
	}

	scheduler := cron.New(cron.WithLocation(tz))

	if _, err := scheduler.AddFunc(cfg.Schedule.DecayCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		result, err := svc.RunDecay(ctx)
		if err != nil {
			logger.Error("decay pass failed", "error", err)
			return
		}
		logger.Info("decay pass complete",
			"evaluated", result.Evaluated, "archived", result.Archived,
			"review", result.MarkedForReview, "failed", result.Failed)
	}); err != nil {
		logger.Fatal("invalid decay schedule", "cron", cfg.Schedule.DecayCron, "error", err)
	}

	if _, err := scheduler.AddFunc(cfg.Schedule.MineCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		result, err := svc.MineConversations(ctx, nil)
		if err != nil {
			logger.Error("mining pass failed", "error", err)
			return
		}
		logger.Info("mining pass complete",
			"scanned", result.Scanned, "created", result.Created,
			"merged", result.Merged, "skipped", result.Skipped,
			"conflicts", result.ConflictPending)
	}); err != nil {
		logger.Fatal("invalid mining schedule", "cron", cfg.Schedule.MineCron, "error", err)
	}

	if reconciler != nil {
		if _, err := scheduler.AddFunc(cfg.Schedule.SyncCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			report, err := svc.TriggerSync(ctx)
			if err != nil {
				logger.Error("sync pass failed", "error", err)
				return
			}
			logger.Info("sync pass complete",
				"peers", len(report.PeerDevices), "added", report.Added,
				"fast_forwarded", report.FastForwarded, "merged", report.Merged,
				"conflicted", report.Conflicted)
		}); err != nil {
			logger.Fatal("invalid sync schedule", "cron", cfg.Schedule.SyncCron, "error", err)
		}
	}

	scheduler.Start()
	logger.Info("evermemd started", "db", cfg.MemoryPath, "device", deviceID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	<-scheduler.Stop().Done()
}
