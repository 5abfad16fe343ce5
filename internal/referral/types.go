package referral

import "context"

// MaxDepth is the deepest sponsorship level tracked anywhere in the system.
const MaxDepth = 20

// UserNode is one participant in the sponsorship forest.
type UserNode struct {
	ID           string
	Username     string
	Email        string
	ReferralCode string
	SponsorID    *string // nil for a forest root
	Active       bool
}

// IsRoot reports whether the node has no sponsor.
func (n UserNode) IsRoot() bool {
	return n.SponsorID == nil
}

// TreeEntry is a UserNode annotated with its distance from the query root.
type TreeEntry struct {
	UserNode
	Level int
}

// Stats is the aggregate downline summary stored per user.
type Stats struct {
	UserID         string
	DirectCount    int
	TotalTeamSize  int
	LevelBreakdown map[int]int // sparse: only levels with a non-zero count
}

// UserDirectory is the read side of the user store. Lookups return (nil, nil)
// when the record does not exist.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*UserNode, error)
	FindByReferralCode(ctx context.Context, code string) (*UserNode, error)
	ListRoots(ctx context.Context) ([]UserNode, error)
	ListChildren(ctx context.Context, sponsorIDs []string) ([]UserNode, error)
}

// StatsStore persists one Stats record per user. Get returns (nil, nil) when
// no record has been computed yet.
type StatsStore interface {
	Get(ctx context.Context, userID string) (*Stats, error)
	Upsert(ctx context.Context, stats Stats) error
}

// Locker serializes work keyed by an arbitrary string.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// StatsListener is notified after a stats record has been written.
type StatsListener func(ctx context.Context, stats Stats)
