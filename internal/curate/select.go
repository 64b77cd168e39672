// Package curate assembles the ranked feed of a daily slot from recently
// ingested items.
package curate

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"github.com/thomaskoefod/trendframe/internal/dedupe"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

// Limits bound how many items a feed takes per category and in total.
type Limits struct {
	TargetPerCategory int
	MaxPerCategory    int
	MaxTotal          int
}

func (l Limits) PerCategoryCap() int {
	return max(l.TargetPerCategory, l.MaxPerCategory)
}

func (l Limits) TotalCap() int {
	return max(l.PerCategoryCap(), l.MaxTotal)
}

// PoolSize is how many candidates a feed build considers.
func (l Limits) PoolSize() int {
	return max(300, l.MaxTotal*20)
}

type bucket struct {
	category string
	items    []models.Candidate
	cursor   int
	// deferred holds items passed over because their domain was already
	// used, oldest first.
	deferred []models.Candidate
	taken    int
}

// next returns the next item whose domain is still unused. When only
// used-domain items remain it returns the earliest deferred one instead.
func (b *bucket) next(used map[string]bool) (models.Candidate, bool) {
	for b.cursor < len(b.items) {
		c := b.items[b.cursor]
		b.cursor++
		if !used[dedupe.Domain(c.CanonicalURL)] {
			return c, true
		}
		b.deferred = append(b.deferred, c)
	}
	if len(b.deferred) > 0 {
		c := b.deferred[0]
		b.deferred = b.deferred[1:]
		return c, true
	}
	return models.Candidate{}, false
}

// Select picks a category- and domain-diverse subset of pool, which must be
// ordered best score first. Categories are served in order of their best
// candidate; within a category the order is shuffled with rng.
//
// Pass 1 takes up to TargetPerCategory rounds of one item per category. Pass 2
// then fills each category in turn up to PerCategoryCap. Neither pass exceeds
// TotalCap.
func Select(pool []models.Candidate, lim Limits, rng *rand.Rand) []models.Candidate {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	buckets := groupByCategory(pool)
	for _, b := range buckets {
		rng.Shuffle(len(b.items), func(i, j int) {
			b.items[i], b.items[j] = b.items[j], b.items[i]
		})
	}

	perCategoryCap, totalCap := lim.PerCategoryCap(), lim.TotalCap()
	picked := make([]models.Candidate, 0, min(totalCap, len(pool)))
	used := make(map[string]bool)

	take := func(b *bucket) bool {
		c, ok := b.next(used)
		if !ok {
			return false
		}
		used[dedupe.Domain(c.CanonicalURL)] = true
		picked = append(picked, c)
		b.taken++
		return true
	}

	for range lim.TargetPerCategory {
		for _, b := range buckets {
			if len(picked) >= totalCap {
				return picked
			}
			if b.taken < perCategoryCap {
				take(b)
			}
		}
	}

	for _, b := range buckets {
		for b.taken < perCategoryCap && len(picked) < totalCap {
			if !take(b) {
				break
			}
		}
	}
	return picked
}

// groupByCategory buckets pool by category. Buckets are ordered by their first
// (best scoring) candidate, score descending, then category name.
func groupByCategory(pool []models.Candidate) []*bucket {
	index := make(map[string]*bucket)
	var buckets []*bucket
	for _, c := range pool {
		b, ok := index[c.Category]
		if !ok {
			b = &bucket{category: c.Category}
			index[c.Category] = b
			buckets = append(buckets, b)
		}
		b.items = append(b.items, c)
	}

	slices.SortStableFunc(buckets, func(a, b *bucket) int {
		if c := cmp.Compare(b.items[0].Score, a.items[0].Score); c != 0 {
			return c
		}
		return cmp.Compare(a.category, b.category)
	})
	return buckets
}
