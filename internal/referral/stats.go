package referral

import "context"

type StatsAggregator struct {
	tree     *TreeBuilder
	store    StatsStore
	locker   Locker
	listener StatsListener
}

func NewStatsAggregator(tree *TreeBuilder, store StatsStore) *StatsAggregator {
	return &StatsAggregator{tree: tree, store: store}
}

// Aggregate derives the stats record for userID from its downline entries.
func Aggregate(userID string, entries []TreeEntry) Stats {
	s := Stats{
		UserID:         userID,
		TotalTeamSize:  len(entries),
		LevelBreakdown: make(map[int]int),
	}
	for _, e := range entries {
		s.LevelBreakdown[e.Level]++
	}
	s.DirectCount = s.LevelBreakdown[1]
	return s
}

// Recompute rebuilds userID's stats from the full MaxDepth downline and
// replaces whatever record was stored before.
func (a *StatsAggregator) Recompute(ctx context.Context, userID string) (Stats, error) {
	if a.locker != nil {
		unlock, err := a.locker.Lock(ctx, "referral:stats:"+userID)
		if err != nil {
			return Stats{}, err
		}
		defer unlock()
	}

	entries, err := a.tree.Build(ctx, &userID, MaxDepth)
	if err != nil {
		return Stats{}, err
	}
	stats := Aggregate(userID, entries)
	if err := a.store.Upsert(ctx, stats); err != nil {
		return Stats{}, storeErr("upsert stats", err)
	}
	if a.listener != nil {
		a.listener(ctx, stats)
	}
	return stats, nil
}

// Get returns the stored record for userID, or nil if none exists yet.
func (a *StatsAggregator) Get(ctx context.Context, userID string) (*Stats, error) {
	s, err := a.store.Get(ctx, userID)
	if err != nil {
		return nil, storeErr("get stats", err)
	}
	return s, nil
}
