package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shinyyama/referral-backend/internal/model"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/repository"
	"gorm.io/gorm"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User
	// createErr, when set, is returned by the next Create call.
	createErr error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]model.User)}
}

func (r *memUserRepo) put(id, sponsor, code string) {
	u := model.User{ID: id, Email: id + "@example.com", Username: id, Role: model.RoleUser, Active: true, ReferralCode: code}
	if sponsor != "" {
		s := sponsor
		u.SponsorID = &s
	}
	r.users[id] = u
}

func (r *memUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		err := r.createErr
		r.createErr = nil
		return err
	}
	for _, u := range r.users {
		if u.ID == user.ID || u.Email == user.Email || u.Username == user.Username || u.ReferralCode == user.ReferralCode {
			return repository.ErrDuplicateKey
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) find(match func(model.User) bool) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			u := u
			return &u
		}
	}
	return nil
}

func (r *memUserRepo) Get(ctx context.Context, id string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.ID == id }), nil
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Email == email }), nil
}

func (r *memUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Username == username }), nil
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (*referral.UserNode, error) {
	u, _ := r.Get(ctx, id)
	if u == nil {
		return nil, nil
	}
	n := repository.ToNode(u)
	return &n, nil
}

func (r *memUserRepo) FindByReferralCode(ctx context.Context, code string) (*referral.UserNode, error) {
	u := r.find(func(u model.User) bool { return u.ReferralCode == code })
	if u == nil {
		return nil, nil
	}
	n := repository.ToNode(u)
	return &n, nil
}

func (r *memUserRepo) nodes(match func(model.User) bool) []referral.UserNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []referral.UserNode
	for _, u := range r.users {
		if match(u) {
			u := u
			out = append(out, repository.ToNode(&u))
		}
	}
	return out
}

func (r *memUserRepo) ListRoots(ctx context.Context) ([]referral.UserNode, error) {
	return r.nodes(func(u model.User) bool { return u.SponsorID == nil }), nil
}

func (r *memUserRepo) ListChildren(ctx context.Context, sponsorIDs []string) ([]referral.UserNode, error) {
	want := map[string]bool{}
	for _, id := range sponsorIDs {
		want[id] = true
	}
	return r.nodes(func(u model.User) bool { return u.SponsorID != nil && want[*u.SponsorID] }), nil
}

func (r *memUserRepo) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Active = active
	r.users[id] = u
	return nil
}

func (r *memUserRepo) Counts(ctx context.Context) (repository.UserCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c repository.UserCounts
	for _, u := range r.users {
		c.Total++
		if u.Active {
			c.Active++
		}
		if u.SponsorID != nil {
			c.WithSponsor++
		}
	}
	return c, nil
}

func (r *memUserRepo) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id := range r.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memStatsStore struct {
	mu      sync.Mutex
	records map[string]referral.Stats
	upserts int
	// writes counts successful upserts per user.
	writes map[string]int
	// failOnce makes the next upsert for each listed user fail.
	failOnce map[string]bool
}

var errUpsert = errors.New("upsert failed")

func newMemStatsStore() *memStatsStore {
	return &memStatsStore{
		records:  make(map[string]referral.Stats),
		writes:   make(map[string]int),
		failOnce: make(map[string]bool),
	}
}

func (s *memStatsStore) Get(ctx context.Context, userID string) (*referral.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memStatsStore) Upsert(ctx context.Context, st referral.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnce[st.UserID] {
		delete(s.failOnce, st.UserID)
		return errUpsert
	}
	s.records[st.UserID] = st
	s.upserts++
	s.writes[st.UserID]++
	return nil
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, userID)
	return true
}

func newTestService(users *memUserRepo, stats *memStatsStore, queue PropagationQueue) (ReferralService, *referral.Engine) {
	engine := referral.NewEngine(users, stats)
	if queue == nil {
		queue = InlinePropagation{Propagator: engine.Upline}
	}
	return NewReferralService(users, stats, engine, queue, "https://domain.com/register"), engine
}

func strPtr(s string) *string { return &s }
