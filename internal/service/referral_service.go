package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shinyyama/referral-backend/internal/model"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/repository"
	"github.com/shinyyama/referral-backend/internal/reqctx"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("not_found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrAlreadyJoined   = errors.New("user already joined")
	ErrRoleNotAllowed  = errors.New("cannot register as admin or super_admin")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrUsernameMissing = errors.New("username is required")
)

// joinAttempts bounds retries when a freshly drawn code loses an insert race.
const joinAttempts = 3

const recomputePageSize = 500

type JoinInput struct {
	// ID is the caller's identity when authenticated; empty generates one.
	ID           string
	Email        string
	Username     string
	Role         string
	ReferralCode *string
}

type ReferralLink struct {
	Link string
	Code string
}

type Overview struct {
	TotalUsers         int64
	ActiveUsers        int64
	TotalReferralsMade int64
}

type RecomputeReport struct {
	Recomputed int
	Failed     int
}

type ReferralService interface {
	Tree(ctx context.Context, rootID *string, depth int) ([]referral.TreeEntry, error)
	Stats(ctx context.Context, userID string) (*referral.Stats, error)
	Join(ctx context.Context, in JoinInput) (*model.User, error)
	Me(ctx context.Context, userID string) (*model.User, error)
	Link(ctx context.Context, userID string) (*ReferralLink, error)
	Overview(ctx context.Context) (*Overview, error)
	Deactivate(ctx context.Context, userID string) error
	EnsureRoot(ctx context.Context, email, username, code string) (*model.User, error)
	RecomputeAll(ctx context.Context) (RecomputeReport, error)
}

type referralService struct {
	users    repository.UserRepository
	stats    referral.StatsStore
	engine   *referral.Engine
	queue    PropagationQueue
	linkBase string
	flight   singleflight.Group
}

func NewReferralService(users repository.UserRepository, stats referral.StatsStore, engine *referral.Engine, queue PropagationQueue, linkBase string) ReferralService {
	return &referralService{users: users, stats: stats, engine: engine, queue: queue, linkBase: linkBase}
}

func (s *referralService) Tree(ctx context.Context, rootID *string, depth int) ([]referral.TreeEntry, error) {
	return s.engine.Tree.Build(ctx, rootID, depth)
}

// Stats returns the stored record, computing it on first access. Concurrent
// first accesses for the same user share one recompute, which runs detached
// from the first caller's cancellation so the others are not failed by it.
func (s *referralService) Stats(ctx context.Context, userID string) (*referral.Stats, error) {
	st, err := s.engine.Stats.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st != nil {
		return st, nil
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}

	shared := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do(userID, func() (any, error) {
		return s.engine.Stats.Recompute(shared, userID)
	})
	if err != nil {
		return nil, err
	}
	computed := v.(referral.Stats)
	return &computed, nil
}

func (s *referralService) Join(ctx context.Context, in JoinInput) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.TrimSpace(in.Username)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if username == "" {
		return nil, ErrUsernameMissing
	}
	if in.Role != "" && in.Role != model.RoleUser {
		return nil, ErrRoleNotAllowed
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.checkTaken(ctx, id, email, username); err != nil {
		return nil, err
	}

	var user *model.User
	for attempt := 0; attempt < joinAttempts; attempt++ {
		res, err := s.engine.Codes.OnJoin(ctx, id, in.ReferralCode)
		if err != nil {
			return nil, err
		}
		user = &model.User{
			ID:           id,
			Email:        email,
			Username:     username,
			Role:         model.RoleUser,
			Active:       true,
			ReferralCode: res.AssignedCode,
			SponsorID:    res.SponsorID,
		}
		err = s.users.Create(ctx, user)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, err
		}
		if err := s.checkTaken(ctx, id, email, username); err != nil {
			return nil, err
		}
		// Only the referral code can have collided; draw again.
		user = nil
	}
	if user == nil {
		return nil, referral.ErrCodeExhausted
	}

	if err := s.stats.Upsert(ctx, referral.Stats{UserID: id, LevelBreakdown: map[int]int{}}); err != nil {
		log.Printf("[join] initial stats for %s failed: %v", id, err)
	}

	if user.SponsorID != nil {
		if !s.queue.Enqueue(reqctx.WithUID(ctx, id), id) {
			log.Printf("[join] propagation for %s not queued; stats stay stale until recompute", id)
		}
	} else if in.ReferralCode != nil && strings.TrimSpace(*in.ReferralCode) != "" {
		log.Printf("[join] referral code %q did not resolve; %s joined as root", *in.ReferralCode, id)
	}
	return user, nil
}

func (s *referralService) checkTaken(ctx context.Context, id, email, username string) error {
	if u, err := s.users.Get(ctx, id); err != nil {
		return err
	} else if u != nil {
		return ErrAlreadyJoined
	}
	if u, err := s.users.FindByEmail(ctx, email); err != nil {
		return err
	} else if u != nil {
		return ErrEmailTaken
	}
	if u, err := s.users.FindByUsername(ctx, username); err != nil {
		return err
	} else if u != nil {
		return ErrUsernameTaken
	}
	return nil
}

func (s *referralService) Me(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *referralService) Link(ctx context.Context, userID string) (*ReferralLink, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(s.linkBase)
	if err != nil {
		return nil, fmt.Errorf("parse link base: %w", err)
	}
	q := base.Query()
	q.Set("ref", u.ReferralCode)
	base.RawQuery = q.Encode()
	return &ReferralLink{Link: base.String(), Code: u.ReferralCode}, nil
}

func (s *referralService) Overview(ctx context.Context) (*Overview, error) {
	c, err := s.users.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &Overview{
		TotalUsers:         c.Total,
		ActiveUsers:        c.Active,
		TotalReferralsMade: c.WithSponsor,
	}, nil
}

// Deactivate flags a user inactive. The user keeps its place in the forest.
func (s *referralService) Deactivate(ctx context.Context, userID string) error {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// EnsureRoot creates the bootstrap root user unless one already owns code.
func (s *referralService) EnsureRoot(ctx context.Context, email, username, code string) (*model.User, error) {
	code = referral.NormalizeCode(code)
	if existing, err := s.users.FindByReferralCode(ctx, code); err != nil {
		return nil, err
	} else if existing != nil {
		return s.Me(ctx, existing.ID)
	}
	if existing, err := s.users.FindByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	root := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		Role:         model.RoleSuperAdmin,
		Active:       true,
		ReferralCode: code,
	}
	if err := s.users.Create(ctx, root); err != nil {
		return nil, err
	}
	if err := s.stats.Upsert(ctx, referral.Stats{UserID: root.ID, LevelBreakdown: map[int]int{}}); err != nil {
		log.Printf("[bootstrap] initial stats for %s failed: %v", root.ID, err)
	}
	log.Printf("[bootstrap] created root %s with code %s", root.ID, code)
	return root, nil
}

// RecomputeAll rebuilds every user's stats. It is the recovery path for
// propagations that were dropped or failed permanently.
func (s *referralService) RecomputeAll(ctx context.Context) (RecomputeReport, error) {
	var report RecomputeReport
	after := ""
	for {
		ids, err := s.users.ListIDs(ctx, after, recomputePageSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			return report, nil
		}
		for _, id := range ids {
			if _, err := s.engine.Stats.Recompute(ctx, id); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return report, ctxErr
				}
				log.Printf("[recompute] %s failed: %v", id, err)
				report.Failed++
				continue
			}
			report.Recomputed++
		}
		after = ids[len(ids)-1]
	}
}
