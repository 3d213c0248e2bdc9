// Command estream-harness soaks the resilient stream client against the
// in-memory substrate. It drives a configurable append/fetch workload with
// injected faults and slow reads, checkpoints segment metadata through the
// key-value store, and serves retry/slow-fetch metrics over HTTP.
//
// Usage:
//
//	estream-harness [--config path/to/config.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/snehjoshi/estream/internal/config"
	"github.com/snehjoshi/estream/internal/identity"
	"github.com/snehjoshi/estream/internal/kvstore"
	"github.com/snehjoshi/estream/internal/substrate/memory"
	"github.com/snehjoshi/estream/pkg/api"
	"github.com/snehjoshi/estream/pkg/client"
	"github.com/snehjoshi/estream/pkg/logstream"
	"github.com/snehjoshi/estream/pkg/segmeta"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "estream-harness: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "estream.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	// ── 3. Initialise writer identity ────────────────────────────────────────
	dataDir := filepath.Dir(cfg.KV.Path)
	w, err := identity.New(dataDir, "auto")
	if err != nil {
		return fmt.Errorf("init writer identity: %w", err)
	}
	logger = logger.With(zap.String("writer_id", w.ID().String()))

	logger.Info("estream harness starting",
		zap.Int("streams", cfg.Workload.Streams),
		zap.Duration("retry_delay", cfg.Client.RetryDelay()),
		zap.Duration("slow_fetch_budget", cfg.Client.SlowFetchTimeout()),
	)

	// ── 4. Open the metadata checkpoint store ────────────────────────────────
	store, err := kvstore.Open(cfg.KV.Path)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	// Stamp the store with the writer generation that owns its checkpoints.
	if _, err := store.PutKV([]api.KeyValue{{Key: identity.WriterKey, Value: []byte(w.ID().String())}}).Get(context.Background()); err != nil {
		return fmt.Errorf("stamp writer identity: %w", err)
	}

	// ── 5. Build substrate and resilient client ──────────────────────────────
	substrate := memory.NewClient()
	c := client.New(substrate,
		client.WithLogger(logger.Named("client")),
		client.WithConfig(client.Config{
			RetryDelay:            cfg.Client.RetryDelay(),
			SlowFetchTimeout:      cfg.Client.SlowFetchTimeout(),
			StreamCallbackWorkers: cfg.Client.StreamCallbackWorkers,
			AppendCallbackWorkers: cfg.Client.AppendCallbackWorkers,
			FetchCallbackWorkers:  cfg.Client.FetchCallbackWorkers,
			CallbackQueueDepth:    cfg.Client.CallbackQueueDepth,
			RetryRate:             rate.Limit(cfg.Client.RetryRate),
			RetryBurst:            cfg.Client.RetryBurst,
		}),
	)

	// ── 6. Build the stream lifecycle manager ────────────────────────────────
	m := logstream.NewManager(c, cfg.Stream.ReplicaCount, cfg.Stream.Epoch, nil, logger.Named("logstream"))
	m.SetListener(logstream.ListenerFunc(func(streamID int64, ev logstream.MetaEvent) {
		logger.Info("stream metadata event",
			zap.String("type", ev.Type.String()),
			zap.String("name", ev.Name),
			zap.Int64("stream", streamID),
		)
	}))

	// ── 7. Start the workload ────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workload.Streams; i++ {
		name := fmt.Sprintf("segment-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			driveStream(ctx, logger.Named("workload"), cfg, m, substrate, store, name)
		}()
	}

	// ── 8. Serve metrics ─────────────────────────────────────────────────────
	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			logger.Info("metrics server listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, c.MetricsHandler()); err != nil {
				logger.Warn("metrics server error", zap.Error(err))
			}
		}()
	}

	// ── 9. Shut down on SIGINT / SIGTERM ─────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	wg.Wait()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := m.Close(shutCtx); err != nil {
		logger.Warn("manager close error", zap.Error(err))
	}
	if err := c.Close(); err != nil {
		logger.Warn("client close error", zap.Error(err))
	}

	logger.Info("estream harness stopped")
	return nil
}

// driveStream appends to one logical stream, fetches what it wrote, and
// checkpoints the segment's slice ranges after every append. Fault and
// slow-read injection follow the workload cadence knobs.
func driveStream(ctx context.Context, log *zap.Logger, cfg *config.Config, m *logstream.Manager, substrate *memory.Client, store *kvstore.Store, name string) {
	s, err := m.GetStream(name)
	if err != nil {
		log.Error("get stream", zap.String("name", name), zap.Error(err))
		return
	}

	payload := make([]byte, cfg.Workload.PayloadBytes)
	meta := &segmeta.SegmentMeta{
		CreateMs:     time.Now().UnixMilli(),
		StreamSuffix: name,
	}
	interval := time.Duration(cfg.Workload.AppendIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for iter := 1; ; iter++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n := cfg.Workload.FaultEveryN; n > 0 && iter%n == 0 {
			substrate.Faults().FailFetches(1)
		}
		if n := cfg.Workload.SlowFetchEveryN; n > 0 && iter%n == 0 {
			substrate.Faults().SetFetchDelay(2 * cfg.Client.SlowFetchTimeout())
		} else {
			substrate.Faults().SetFetchDelay(0)
		}

		res, err := s.Append(api.RecordBatch{
			Count:         1,
			BaseTimestamp: time.Now().UnixMilli(),
			Payload:       payload,
		}).Get(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("append failed", zap.String("name", name), zap.Error(err))
			continue
		}

		meta.BaseOffset = s.StartOffset()
		meta.LastModifiedMs = time.Now().UnixMilli()
		meta.Log = segmeta.SliceRange{Start: s.StartOffset(), End: s.NextOffset()}
		checkpoint(ctx, log, store, name, meta)

		if _, err := s.Fetch(res.BaseOffset, res.BaseOffset+1, 0).Get(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Info("fetch signal", zap.String("name", name), zap.Error(err))
		}
	}
}

// checkpoint persists the segment's slice-range metadata under its name.
func checkpoint(ctx context.Context, log *zap.Logger, store *kvstore.Store, name string, meta *segmeta.SegmentMeta) {
	data, err := meta.Encode()
	if err != nil {
		log.Error("encode segment meta", zap.String("name", name), zap.Error(err))
		return
	}
	if _, err := store.PutKV([]api.KeyValue{{Key: name, Value: data}}).Get(ctx); err != nil && ctx.Err() == nil {
		log.Error("checkpoint segment meta", zap.String("name", name), zap.Error(err))
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
