// Package referral maintains the sponsorship forest: depth-bounded downline
// views, per-user downline stats and upline stat propagation after a join.
package referral

type Engine struct {
	Tree   *TreeBuilder
	Stats  *StatsAggregator
	Upline *UplinePropagator
	Codes  *CodeAllocator
}

type Option func(*Engine)

// WithLocker serializes stats recomputation per user.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.Stats.locker = l }
}

// WithStatsListener registers a callback fired after every stats write.
func WithStatsListener(fn StatsListener) Option {
	return func(e *Engine) { e.Stats.listener = fn }
}

func NewEngine(users UserDirectory, store StatsStore, opts ...Option) *Engine {
	tree := NewTreeBuilder(users)
	stats := NewStatsAggregator(tree, store)
	e := &Engine{
		Tree:   tree,
		Stats:  stats,
		Upline: NewUplinePropagator(users, stats),
		Codes:  NewCodeAllocator(users),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
