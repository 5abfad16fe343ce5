package referral

import (
	"context"
	"log"

	"github.com/shinyyama/referral-backend/internal/reqctx"
)

type UplinePropagator struct {
	users UserDirectory
	stats *StatsAggregator
}

func NewUplinePropagator(users UserDirectory, stats *StatsAggregator) *UplinePropagator {
	return &UplinePropagator{users: users, stats: stats}
}

// Ancestors walks the sponsor chain of userID, nearest first, for at most
// MaxDepth hops. The walk ends at a forest root or at a sponsor reference that
// no longer resolves.
func (p *UplinePropagator) Ancestors(ctx context.Context, userID string) ([]string, error) {
	cur, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeErr("find user", err)
	}
	if cur == nil {
		log.Printf("[referral] job=%s user %s not found; nothing to propagate", reqctx.JobID(ctx), userID)
		return nil, nil
	}

	visited := map[string]struct{}{cur.ID: {}}
	var ancestors []string
	for hop := 0; hop < MaxDepth && cur.SponsorID != nil; hop++ {
		sponsorID := *cur.SponsorID
		if _, ok := visited[sponsorID]; ok {
			log.Printf("[referral] job=%s sponsor cycle at %s above %s; stopping walk", reqctx.JobID(ctx), sponsorID, cur.ID)
			break
		}
		parent, err := p.users.FindByID(ctx, sponsorID)
		if err != nil {
			return nil, storeErr("find sponsor", err)
		}
		if parent == nil {
			log.Printf("[referral] job=%s sponsor %s of %s not found; chain truncated", reqctx.JobID(ctx), sponsorID, cur.ID)
			break
		}
		visited[parent.ID] = struct{}{}
		ancestors = append(ancestors, parent.ID)
		cur = parent
	}
	return ancestors, nil
}

// OnUserJoined recomputes the stats of every ancestor of a newly stored user.
// A failed recompute does not stop the remaining ancestors; all failures are
// reported together in a *PropagationError.
func (p *UplinePropagator) OnUserJoined(ctx context.Context, newUserID string) error {
	ancestors, err := p.Ancestors(ctx, newUserID)
	if err != nil {
		return err
	}
	return p.RecomputeAncestors(ctx, newUserID, ancestors)
}

// RecomputeAncestors recomputes exactly the given ancestors of newUserID, once
// each. Retrying a join event passes only the IDs a previous PropagationError
// reported, so ancestors that already succeeded are not written again.
func (p *UplinePropagator) RecomputeAncestors(ctx context.Context, newUserID string, ancestors []string) error {
	var failed map[string]error
	for _, id := range ancestors {
		if _, err := p.stats.Recompute(ctx, id); err != nil {
			log.Printf("[referral] job=%s recompute %s failed: %v", reqctx.JobID(ctx), id, err)
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[id] = err
		}
	}
	if failed != nil {
		return &PropagationError{UserID: newUserID, Failed: failed}
	}
	return nil
}
