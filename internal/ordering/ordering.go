// Package ordering defines the closed set of queue fill strategies and the
// comparators they map to. Strategies never build query text; they sort
// candidate items the store has already selected.
package ordering

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// Strategy selects the order eligible items enter a queue.
type Strategy string

const (
	// Random is a uniform shuffle, reshuffled on every call. The only valid
	// strategy before a trained model exists.
	Random Strategy = "random"
	// LeastConfident prioritizes items the model is least sure about
	// (descending least-confident score).
	LeastConfident Strategy = "least confident"
	// MarginSampling prioritizes items with the smallest gap between the
	// top two label probabilities (ascending margin).
	MarginSampling Strategy = "margin sampling"
	// Entropy prioritizes items with the highest prediction entropy
	// (descending).
	Entropy Strategy = "entropy"
)

// ErrInvalidOrdering marks an unrecognized strategy name. It is a fatal
// input error, never retried.
var ErrInvalidOrdering = errors.New("invalid ordering strategy")

var all = []Strategy{Random, LeastConfident, MarginSampling, Entropy}

// Parse validates a strategy name.
func Parse(name string) (Strategy, error) {
	normalized := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, s := range all {
		if normalized == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrdering, name)
}

// RequiresModel reports whether a strategy needs uncertainty scores from a
// trained model.
func (s Strategy) RequiresModel() bool {
	return s != Random
}

// Sort orders candidates in place according to the strategy. Ties among
// scored items, and all unscored items, break by ascending item ID so
// non-random fills are deterministic.
func Sort(candidates []store.Candidate, strategy Strategy) {
	switch strategy {
	case Random:
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	case LeastConfident:
		sortByScore(candidates, func(c store.Candidate) float64 { return -c.LeastConfident })
	case MarginSampling:
		sortByScore(candidates, func(c store.Candidate) float64 { return c.Margin })
	case Entropy:
		sortByScore(candidates, func(c store.Candidate) float64 { return -c.Entropy })
	}
}

// sortByScore orders ascending by key, scored items before unscored ones.
func sortByScore(candidates []store.Candidate, key func(store.Candidate) float64) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Scored != b.Scored {
			return a.Scored
		}
		if a.Scored && key(a) != key(b) {
			return key(a) < key(b)
		}
		return a.ItemID < b.ItemID
	})
}

// IDs extracts the ordered item identifiers from candidates.
func IDs(candidates []store.Candidate) []int64 {
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ItemID
	}
	return ids
}
