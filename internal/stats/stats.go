// Package stats derives the most frequent corrected labels from the store.
package stats

import (
	"context"
	"sort"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/store"
)

// TopN is the number of labels reported.
const TopN = 5

// Counter aggregates corrections by corrected label.
type Counter interface {
	CountByCorrectedLabel(ctx context.Context) ([]store.LabelTally, error)
}

// Aggregator computes the top corrected labels. It holds no state; every
// call reflects the store at call time.
type Aggregator struct {
	counter Counter
}

// NewAggregator creates an Aggregator.
func NewAggregator(counter Counter) *Aggregator {
	return &Aggregator{counter: counter}
}

// Top returns at most TopN labels by descending count. Ties go to the label
// whose first correction has the lower id.
func (a *Aggregator) Top(ctx context.Context) ([]feedback.LabelCount, error) {
	tallies, err := a.counter.CountByCorrectedLabel(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tallies, func(i, j int) bool {
		if tallies[i].Count != tallies[j].Count {
			return tallies[i].Count > tallies[j].Count
		}
		return tallies[i].FirstID < tallies[j].FirstID
	})
	if len(tallies) > TopN {
		tallies = tallies[:TopN]
	}

	out := make([]feedback.LabelCount, len(tallies))
	for i, t := range tallies {
		out[i] = feedback.LabelCount{Label: t.Label, Count: t.Count}
	}
	return out, nil
}
