package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// WarmerConfig holds warm-up worker pool configuration.
type WarmerConfig struct {
	// MaxConcurrency is the maximum number of entries warmed in parallel.
	MaxConcurrency int

	// Timeout bounds each individual compute+store.
	Timeout time.Duration
}

// DefaultWarmerConfig returns safe defaults for startup warming.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		MaxConcurrency: 4,
		Timeout:        10 * time.Second,
	}
}

// WarmEntry describes one entry to pre-populate.
type WarmEntry struct {
	Namespace string
	Name      string
	Options   SetOptions
	Compute   func(ctx context.Context) (any, error)
}

// WarmReport summarizes a warming run.
type WarmReport struct {
	Warmed   int           `json:"warmed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Warmer pre-populates many entries concurrently through a bounded worker
// pool, so startup warming cannot stampede the data sources behind the
// compute functions.
type Warmer struct {
	svc    *Service
	config WarmerConfig
}

// NewWarmer creates a warmer over a cache service.
func NewWarmer(svc *Service, config WarmerConfig) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Warmer{
		svc:    svc,
		config: config,
	}
}

// WarmAll warms every entry, skipping ones already cached unless force is
// set. Failures are logged and counted; they never abort the run.
func (w *Warmer) WarmAll(ctx context.Context, entries []WarmEntry, force bool) WarmReport {
	start := time.Now()

	log.Info().
		Int("entries", len(entries)).
		Bool("force", force).
		Msg("Starting cache warm-up")

	queue := make(chan WarmEntry, len(entries))
	for _, entry := range entries {
		queue <- entry
	}
	close(queue)

	var mu sync.Mutex
	report := WarmReport{}

	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range queue {
				select {
				case <-ctx.Done():
					return
				default:
				}

				entryCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
				err := w.warmOne(entryCtx, entry, force)
				cancel()

				mu.Lock()
				if err != nil {
					report.Failed++
				} else {
					report.Warmed++
				}
				mu.Unlock()

				if err != nil {
					log.Warn().
						Err(err).
						Str("namespace", entry.Namespace).
						Str("key", entry.Name).
						Msg("Cache warm-up entry failed")
				}
			}
		}()
	}
	wg.Wait()

	report.Duration = time.Since(start)
	log.Info().
		Int("warmed", report.Warmed).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Cache warm-up complete")

	return report
}

func (w *Warmer) warmOne(ctx context.Context, entry WarmEntry, force bool) error {
	if force {
		value, err := entry.Compute(ctx)
		if err != nil {
			return err
		}
		return w.svc.Set(ctx, entry.Namespace, entry.Name, value, entry.Options)
	}
	return w.svc.Warm(ctx, entry.Namespace, entry.Name, entry.Options, entry.Compute)
}
