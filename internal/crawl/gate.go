package crawl

import (
	"sync/atomic"

	"github.com/nvisser/tablehawk/internal/listing"
)

// limitGate tracks records produced by a run against an optional ceiling.
// A limit of zero or less means unbounded. Page loops consult reached before
// issuing another fetch; the final join trims any overshoot from pages that
// were already in flight.
type limitGate struct {
	limit int64
	count atomic.Int64
}

func newLimitGate(limit int) *limitGate {
	return &limitGate{limit: int64(limit)}
}

func (g *limitGate) add(n int) {
	if n > 0 {
		g.count.Add(int64(n))
	}
}

func (g *limitGate) reached() bool {
	return g.limit > 0 && g.count.Load() >= g.limit
}

func (g *limitGate) trim(records []listing.Restaurant) []listing.Restaurant {
	if g.limit > 0 && int64(len(records)) > g.limit {
		return records[:g.limit]
	}
	return records
}
