// Package forgetting implements decay maintenance: a periodic sweep scores
// every non-pinned memory and soft-deletes (demotes) or hard-deletes rows
// whose forget score clears the configured gates, while memories worth
// keeping fresh are scheduled for spaced review.
package forgetting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mementolabs/memento/internal/ranking"
	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

// Weights blend the forget-score components.
type Weights struct {
	Recency     float64 `yaml:"recency"`
	Disuse      float64 `yaml:"disuse"`
	Duplication float64 `yaml:"duplication"`
	Importance  float64 `yaml:"importance"`
}

// Config tunes the controller.
type Config struct {
	Weights Weights

	// SoftThreshold and HardThreshold gate the two delete modes.
	SoftThreshold float64
	HardThreshold float64

	// TTLSoftDays and TTLHardDays are minimum ages per memory type before
	// the respective gate may fire.
	TTLSoftDays map[types.MemoryType]float64
	TTLHardDays map[types.MemoryType]float64

	// ReviewThreshold selects spaced-review candidates.
	ReviewThreshold float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Recency:     0.35,
			Disuse:      0.25,
			Duplication: 0.20,
			Importance:  0.20,
		},
		SoftThreshold: 0.60,
		HardThreshold: 0.80,
		TTLSoftDays: map[types.MemoryType]float64{
			types.TypeWorking:    2,
			types.TypeEpisodic:   30,
			types.TypeSemantic:   180,
			types.TypeProcedural: 90,
		},
		TTLHardDays: map[types.MemoryType]float64{
			types.TypeWorking:    7,
			types.TypeEpisodic:   180,
			types.TypeSemantic:   365,
			types.TypeProcedural: 180,
		},
		ReviewThreshold: 0.70,
	}
}

// Report summarizes one sweep.
type Report struct {
	Scanned     int
	SoftDeleted int
	HardDeleted int
	Reviewed    int

	// ContentionRetries counts delete operations that needed backoff;
	// the scheduler checkpoints the store after a stormy sweep.
	ContentionRetries int

	Skipped bool
}

// Controller runs the sweep. It is single-flight: a sweep requested while
// one is in progress is coalesced into a no-op.
type Controller struct {
	gw     storage.Gateway
	logger *log.Logger

	mu  sync.Mutex
	cfg Config

	sweepMu sync.Mutex
	retry   storage.RetryPolicy
}

// NewController builds the controller over a storage gateway.
func NewController(gw storage.Gateway, cfg Config, logger *log.Logger) *Controller {
	if cfg.SoftThreshold == 0 && cfg.HardThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		gw:     gw,
		cfg:    cfg,
		logger: logger,
		retry:  storage.DefaultRetryPolicy(),
	}
}

// SetConfig swaps tunables; the next sweep uses them.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Controller) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ForgetScore computes the decay score for one memory, given its strongest
// same-type duplication in [0,1]. Pure; higher means more forgettable. All
// four terms are oriented so the score spans [0,1] when the weights sum to
// one: importance protects by subtracting from its own term, not from the
// whole score, which keeps the 0.60/0.80 gates reachable.
func ForgetScore(w Weights, m *types.Memory, duplication float64, now time.Time) float64 {
	recency := ranking.Recency(m, now)
	usage := ranking.Usage(m)
	importance := ranking.Importance(m)

	return w.Recency*(1-recency) +
		w.Disuse*(1-usage) +
		w.Duplication*duplication +
		w.Importance*(1-importance)
}

// Sweep runs one full pass: score, soft-delete, hard-delete, review. It is
// safe to run concurrently with reads; concurrent sweeps coalesce.
func (c *Controller) Sweep(ctx context.Context) (Report, error) {
	if !c.sweepMu.TryLock() {
		return Report{Skipped: true}, nil
	}
	defer c.sweepMu.Unlock()

	cfg := c.config()
	now := time.Now()

	rows, err := c.gw.ScanCandidates(ctx, types.Filter{}, storage.OrderCreatedDesc)
	if err != nil {
		return Report{}, fmt.Errorf("forgetting: scan: %w", err)
	}

	report := Report{Scanned: len(rows)}
	dup := c.duplicationWithinType(ctx, rows)

	var softIDs, hardIDs []string
	for i := range rows {
		m := &rows[i]
		if m.Pinned {
			continue
		}

		score := ForgetScore(cfg.Weights, m, dup[m.ID], now)
		age := m.AgeDays(now)

		if score >= cfg.SoftThreshold && age >= cfg.TTLSoftDays[m.Type] {
			softIDs = append(softIDs, m.ID)
		}
		if score >= cfg.HardThreshold && age >= cfg.TTLHardDays[m.Type] {
			hardIDs = append(hardIDs, m.ID)
		}
	}

	// Soft deletes land before hard deletes within the same pass.
	for _, id := range softIDs {
		err := storage.WithRetry(ctx, c.retry, func() error {
			_, err := c.gw.SoftDelete(ctx, id)
			return err
		})
		if err != nil {
			c.noteDeleteError(&report, "soft delete", id, err)
			continue
		}
		report.SoftDeleted++
	}

	for _, id := range hardIDs {
		err := storage.WithRetry(ctx, c.retry, func() error {
			err := c.gw.HardDelete(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			c.noteDeleteError(&report, "hard delete", id, err)
			continue
		}
		report.HardDeleted++
	}

	reviewed, err := c.reviewPass(ctx, cfg, rows, now)
	if err != nil {
		return report, err
	}
	report.Reviewed = reviewed

	return report, nil
}

func (c *Controller) noteDeleteError(report *Report, op, id string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	report.ContentionRetries++
	if c.logger != nil {
		c.logger.Printf("forgetting: %s %s failed: %v", op, id, err)
	}
}

// duplicationWithinType returns, per memory id, the strongest similarity to
// another memory of the same type. Stored embeddings are preferred; content
// token overlap is the fallback.
func (c *Controller) duplicationWithinType(ctx context.Context, rows []types.Memory) map[string]float64 {
	byType := make(map[types.MemoryType][]*ranking.Candidate)
	for i := range rows {
		cand := &ranking.Candidate{Memory: rows[i]}
		if vec, _, err := c.gw.GetEmbedding(ctx, rows[i].ID); err == nil {
			cand.Vector = vec
		}
		byType[rows[i].Type] = append(byType[rows[i].Type], cand)
	}

	dup := make(map[string]float64, len(rows))
	for _, group := range byType {
		for i, a := range group {
			best := 0.0
			for j, b := range group {
				if i == j {
					continue
				}
				if sim := ranking.Similarity(a, b); sim > best {
					best = sim
				}
			}
			dup[a.Memory.ID] = best
		}
	}
	return dup
}
