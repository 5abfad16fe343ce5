package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/referral-backend/internal/model"
	"github.com/shinyyama/referral-backend/internal/referral"
	"gorm.io/gorm"
)

var (
	ErrDBNotReady   = errors.New("database not initialized")
	ErrDuplicateKey = errors.New("duplicate key")
)

// UserCounts summarizes the whole user table.
type UserCounts struct {
	Total       int64
	Active      int64
	WithSponsor int64
}

// UserRepository stores users and serves the sponsorship forest lookups.
type UserRepository interface {
	referral.UserDirectory
	Create(ctx context.Context, user *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	Counts(ctx context.Context) (UserCounts, error)
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// ToNode projects a stored user onto the sponsorship forest.
func ToNode(u *model.User) referral.UserNode {
	return referral.UserNode{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		ReferralCode: u.ReferralCode,
		SponsorID:    u.SponsorID,
		Active:       u.Active,
	}
}

func toNodes(users []model.User) []referral.UserNode {
	out := make([]referral.UserNode, 0, len(users))
	for i := range users {
		out = append(out, ToNode(&users[i]))
	}
	return out
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id string) (*model.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *userRepository) first(ctx context.Context, query string, arg any) (*model.User, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var u model.User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*referral.UserNode, error) {
	u, err := r.Get(ctx, id)
	if err != nil || u == nil {
		return nil, err
	}
	n := ToNode(u)
	return &n, nil
}

func (r *userRepository) FindByReferralCode(ctx context.Context, code string) (*referral.UserNode, error) {
	u, err := r.first(ctx, "referral_code = ?", code)
	if err != nil || u == nil {
		return nil, err
	}
	n := ToNode(u)
	return &n, nil
}

func (r *userRepository) ListRoots(ctx context.Context) ([]referral.UserNode, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var users []model.User
	if err := r.db.WithContext(ctx).
		Where("sponsor_id IS NULL").
		Order("id").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return toNodes(users), nil
}

func (r *userRepository) ListChildren(ctx context.Context, sponsorIDs []string) ([]referral.UserNode, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if len(sponsorIDs) == 0 {
		return nil, nil
	}
	var users []model.User
	if err := r.db.WithContext(ctx).
		Where("sponsor_id IN ?", sponsorIDs).
		Order("sponsor_id, id").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return toNodes(users), nil
}

func (r *userRepository) SetActive(ctx context.Context, id string, active bool) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *userRepository) Counts(ctx context.Context) (UserCounts, error) {
	if r.db == nil {
		return UserCounts{}, ErrDBNotReady
	}
	var c UserCounts
	q := r.db.WithContext(ctx).Model(&model.User{})
	if err := q.Count(&c.Total).Error; err != nil {
		return UserCounts{}, err
	}
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("is_active = ?", true).Count(&c.Active).Error; err != nil {
		return UserCounts{}, err
	}
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("sponsor_id IS NOT NULL").Count(&c.WithSponsor).Error; err != nil {
		return UserCounts{}, err
	}
	return c, nil
}

// ListIDs pages through user ids in ascending order, starting after afterID.
func (r *userRepository) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
