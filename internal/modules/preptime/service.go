// README: Prep-time lookup: resolves an order's items to a ready duration.
package preptime

import (
	"context"
	"sort"
	"sync/atomic"
	"time"
)

// Source loads the item table (Postgres or YAML file).
type Source interface {
	LoadProfile(ctx context.Context) (Profile, error)
}

type Option func(*Lookup)

// WithFallback makes unknown items resolve to d instead of failing. Hosts opt in
// when they prefer an estimate over leaving the order pending.
func WithFallback(d time.Duration) Option {
	return func(l *Lookup) { l.fallback = d }
}

func WithAggregator(a Aggregator) Option {
	return func(l *Lookup) { l.agg = a }
}

type Lookup struct {
	profile  atomic.Pointer[Profile]
	agg      Aggregator
	fallback time.Duration
}

func NewLookup(p Profile, opts ...Option) *Lookup {
	l := &Lookup{agg: MaxAggregator{}}
	for _, opt := range opts {
		opt(l)
	}
	l.Replace(p)
	return l
}

func (l *Lookup) Replace(p Profile) {
	cp := make(Profile, len(p))
	for k, v := range p {
		cp[k] = v
	}
	l.profile.Store(&cp)
}

// Reload pulls a fresh table from src. On error the current table stays active.
func (l *Lookup) Reload(ctx context.Context, src Source) (int, error) {
	p, err := src.LoadProfile(ctx)
	if err != nil {
		return 0, err
	}
	l.Replace(p)
	return len(p), nil
}

func (l *Lookup) Aggregator() Aggregator { return l.agg }

// EstimateReadyDuration returns how long the kitchen needs for items (item -> quantity).
// Items are visited in name order so the first unknown item reported is stable.
func (l *Lookup) EstimateReadyDuration(items map[string]int) (time.Duration, error) {
	lines, err := l.Resolve(items)
	if err != nil {
		return 0, err
	}
	return l.agg.Aggregate(lines), nil
}

func (l *Lookup) Resolve(items map[string]int) ([]ItemPrep, error) {
	profile := *l.profile.Load()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]ItemPrep, 0, len(names))
	for _, name := range names {
		d, ok := profile[NormalizeItem(name)]
		if !ok {
			if l.fallback <= 0 {
				return nil, &UnknownItemError{Item: name}
			}
			d = l.fallback
		}
		lines = append(lines, ItemPrep{Item: name, Quantity: items[name], Duration: d})
	}
	return lines, nil
}
