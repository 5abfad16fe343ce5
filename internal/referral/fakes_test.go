package referral

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errBoom = errors.New("boom")

type memDirectory struct {
	mu    sync.Mutex
	users map[string]UserNode
	// failFind makes FindByID fail for the listed ids.
	failFind map[string]bool
	// reverse makes ListChildren return rows in descending id order.
	reverse bool
	// batches records the number of sponsor ids in each ListChildren call.
	batches []int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{users: make(map[string]UserNode), failFind: make(map[string]bool)}
}

// add stores a user; sponsor "" means root.
func (d *memDirectory) add(id, sponsor string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := UserNode{ID: id, ReferralCode: "CODE" + id, Active: true}
	if sponsor != "" {
		s := sponsor
		n.SponsorID = &s
	}
	d.users[id] = n
}

func (d *memDirectory) FindByID(ctx context.Context, id string) (*UserNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFind[id] {
		return nil, errBoom
	}
	n, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (d *memDirectory) FindByReferralCode(ctx context.Context, code string) (*UserNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.users {
		if n.ReferralCode == code {
			n := n
			return &n, nil
		}
	}
	return nil, nil
}

func (d *memDirectory) ListRoots(ctx context.Context) ([]UserNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []UserNode
	for _, n := range d.users {
		if n.SponsorID == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (d *memDirectory) ListChildren(ctx context.Context, sponsorIDs []string) ([]UserNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, len(sponsorIDs))
	want := make(map[string]bool, len(sponsorIDs))
	for _, id := range sponsorIDs {
		want[id] = true
	}
	var out []UserNode
	for _, n := range d.users {
		if n.SponsorID != nil && want[*n.SponsorID] {
			out = append(out, n)
		}
	}
	if d.reverse {
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				if out[j].ID > out[i].ID {
					out[i], out[j] = out[j], out[i]
				}
			}
		}
	}
	return out, nil
}

type memStats struct {
	mu      sync.Mutex
	records map[string]Stats
	writes  map[string]int
	failFor map[string]bool
}

func newMemStats() *memStats {
	return &memStats{records: make(map[string]Stats), writes: make(map[string]int), failFor: make(map[string]bool)}
}

func (s *memStats) Get(ctx context.Context, userID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memStats) Upsert(ctx context.Context, stats Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[stats.UserID] {
		return errBoom
	}
	s.records[stats.UserID] = stats
	s.writes[stats.UserID]++
	return nil
}

// chain builds u1 <- u2 <- ... <- un, u1 being the root.
func chain(d *memDirectory, n int) {
	d.add("u01", "")
	for i := 2; i <= n; i++ {
		d.add(fmt.Sprintf("u%02d", i), fmt.Sprintf("u%02d", i-1))
	}
}

func ptr(s string) *string { return &s }
