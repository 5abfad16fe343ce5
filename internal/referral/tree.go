package referral

import (
	"context"
	"fmt"
	"sort"
)

// childLookupBatch bounds the number of sponsor IDs sent in one ListChildren call.
const childLookupBatch = 500

type TreeBuilder struct {
	users UserDirectory
}

func NewTreeBuilder(users UserDirectory) *TreeBuilder {
	return &TreeBuilder{users: users}
}

// ValidateDepth rejects depths outside 1..MaxDepth.
func ValidateDepth(depth int) error {
	if depth > MaxDepth {
		return &ValidationError{Field: "depth", Message: fmt.Sprintf("max depth is %d", MaxDepth)}
	}
	if depth < 1 {
		return &ValidationError{Field: "depth", Message: "depth must be at least 1"}
	}
	return nil
}

// Build returns the downline of rootID, level by level, up to maxDepth. The
// root itself is never part of the result and an unknown rootID yields an
// empty result. A nil rootID queries the whole forest from a virtual level-0
// root: users without a sponsor are level 1 and everyone else is levelled
// relative to them.
func (b *TreeBuilder) Build(ctx context.Context, rootID *string, maxDepth int) ([]TreeEntry, error) {
	if err := ValidateDepth(maxDepth); err != nil {
		return nil, err
	}

	entries := []TreeEntry{}
	var frontier []string
	start := 1
	if rootID == nil {
		roots, err := b.roots(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range roots {
			entries = append(entries, TreeEntry{UserNode: r, Level: 1})
			frontier = append(frontier, r.ID)
		}
		start = 2
	} else {
		root, err := b.users.FindByID(ctx, *rootID)
		if err != nil {
			return nil, storeErr("find user", err)
		}
		if root == nil {
			return entries, nil
		}
		frontier = []string{root.ID}
	}

	seen := make(map[string]struct{}, len(frontier))
	for _, id := range frontier {
		seen[id] = struct{}{}
	}

	for level := start; level <= maxDepth && len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		children, err := b.children(ctx, frontier)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, len(children))
		for _, child := range children {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			entries = append(entries, TreeEntry{UserNode: child, Level: level})
			next = append(next, child.ID)
		}
		frontier = next
	}
	return entries, nil
}

func (b *TreeBuilder) roots(ctx context.Context) ([]UserNode, error) {
	roots, err := b.users.ListRoots(ctx)
	if err != nil {
		return nil, storeErr("list roots", err)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })
	return roots, nil
}

// children returns the direct children of frontier grouped by sponsor in
// frontier order, each group sorted by ID, so sibling subtrees never interleave
// regardless of the order the store returns rows in.
func (b *TreeBuilder) children(ctx context.Context, frontier []string) ([]UserNode, error) {
	bySponsor := make(map[string][]UserNode)
	for start := 0; start < len(frontier); start += childLookupBatch {
		end := min(start+childLookupBatch, len(frontier))
		nodes, err := b.users.ListChildren(ctx, frontier[start:end])
		if err != nil {
			return nil, storeErr("list children", err)
		}
		for _, n := range nodes {
			if n.SponsorID == nil {
				continue
			}
			bySponsor[*n.SponsorID] = append(bySponsor[*n.SponsorID], n)
		}
	}

	out := make([]UserNode, 0)
	for _, id := range frontier {
		group := bySponsor[id]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		out = append(out, group...)
	}
	return out, nil
}
