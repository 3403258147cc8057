package forgetting

import (
	"context"
	"math"
	"time"

	"github.com/mementolabs/memento/internal/ranking"
	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

// Spaced-review bounds. Intervals outside [1, 365] days are clamped.
const (
	minReviewIntervalDays = 1
	maxReviewIntervalDays = 365

	// reviewFeedbackWindow is how many recent feedback events influence
	// the interval multiplier.
	reviewFeedbackWindow = 10

	baseReviewMultiplier = 2.0
)

// ReviewScore measures how much a memory deserves a refreshed review slot.
// Importance dominates; active usage and fading recency add pressure.
func ReviewScore(m *types.Memory, now time.Time) float64 {
	importance := ranking.Importance(m)
	usage := ranking.Usage(m)
	staleness := 1 - ranking.Recency(m, now)
	return 0.5*importance + 0.3*usage + 0.2*staleness
}

// ReviewMultiplier derives the interval growth factor from recent feedback
// and importance. Helpful or used signals stretch the interval; unhelpful
// signals shrink it. The result stays within [0.5, 3.0].
func ReviewMultiplier(events []types.Feedback, importance float64) float64 {
	mult := baseReviewMultiplier
	for _, fb := range events {
		switch fb.EventType {
		case types.EventHelpful, types.EventUsed, types.EventCited:
			mult += 0.25
		case types.EventUnhelpful:
			mult *= 0.5
		}
	}

	// Important memories come back sooner.
	mult *= 1.25 - 0.5*importance

	return math.Min(3.0, math.Max(0.5, mult))
}

// NextInterval applies the multiplier to the current interval and clamps.
func NextInterval(currentDays float64, multiplier float64) float64 {
	next := currentDays * multiplier
	if next < minReviewIntervalDays {
		return minReviewIntervalDays
	}
	if next > maxReviewIntervalDays {
		return maxReviewIntervalDays
	}
	return next
}

// reviewPass refreshes last_accessed for review candidates, which resets
// the recency anchor the next interval is measured from. The schema carries
// no dedicated last_review column; last_accessed doubles as the review
// timestamp.
func (c *Controller) reviewPass(ctx context.Context, cfg Config, rows []types.Memory, now time.Time) (int, error) {
	reviewed := 0
	for i := range rows {
		m := &rows[i]
		if ReviewScore(m, now) < cfg.ReviewThreshold {
			continue
		}

		events, err := c.gw.FeedbackFor(ctx, m.ID, reviewFeedbackWindow)
		if err != nil {
			continue
		}

		current := currentIntervalDays(m, now)
		next := NextInterval(current, ReviewMultiplier(events, ranking.Importance(m)))

		err = c.gw.UpdateFlags(ctx, m.ID, storage.FlagUpdate{TouchLastAccessed: true})
		if err != nil {
			continue
		}
		reviewed++
		if c.logger != nil {
			c.logger.Printf("forgetting: reviewed %s, next interval %.1fd", m.ID, next)
		}
	}
	return reviewed, nil
}

// currentIntervalDays is the elapsed time since the last review anchor.
func currentIntervalDays(m *types.Memory, now time.Time) float64 {
	anchor := m.CreatedAt
	if m.LastAccessed != nil && m.LastAccessed.After(anchor) {
		anchor = *m.LastAccessed
	}
	days := now.Sub(anchor).Hours() / 24
	if days < minReviewIntervalDays {
		return minReviewIntervalDays
	}
	return days
}
