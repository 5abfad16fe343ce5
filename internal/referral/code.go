package referral

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"strings"
)

const (
	CodeLength   = 8
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxCodeAttempts = 10
)

// CodeAllocator draws referral codes and resolves them back to sponsors.
type CodeAllocator struct {
	users  UserDirectory
	random io.Reader
}

func NewCodeAllocator(users UserDirectory) *CodeAllocator {
	return &CodeAllocator{users: users, random: rand.Reader}
}

// Allocate draws one code. It does not check uniqueness.
func (a *CodeAllocator) Allocate() (string, error) {
	var sb strings.Builder
	sb.Grow(CodeLength)
	limit := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(a.random, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(CodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// AllocateUnique draws codes until one is not taken in the directory.
func (a *CodeAllocator) AllocateUnique(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := a.Allocate()
		if err != nil {
			return "", err
		}
		taken, err := a.users.FindByReferralCode(ctx, code)
		if err != nil {
			return "", storeErr("find by code", err)
		}
		if taken == nil {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve maps a referral code to its owner's ID. Empty and unknown codes
// resolve to nil so the join proceeds without a sponsor.
func (a *CodeAllocator) Resolve(ctx context.Context, code string) (*string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil
	}
	owner, err := a.users.FindByReferralCode(ctx, code)
	if err != nil {
		return nil, storeErr("find by code", err)
	}
	if owner == nil {
		return nil, nil
	}
	id := owner.ID
	return &id, nil
}

// JoinResult is what the host needs to persist a new user.
type JoinResult struct {
	AssignedCode string
	SponsorID    *string
}

// OnJoin allocates a fresh code for newUserID and resolves its sponsor.
func (a *CodeAllocator) OnJoin(ctx context.Context, newUserID string, sponsorCode *string) (JoinResult, error) {
	var res JoinResult
	if sponsorCode != nil {
		sponsorID, err := a.Resolve(ctx, *sponsorCode)
		if err != nil {
			return JoinResult{}, err
		}
		if sponsorID != nil && *sponsorID != newUserID {
			res.SponsorID = sponsorID
		}
	}
	code, err := a.AllocateUnique(ctx)
	if err != nil {
		return JoinResult{}, err
	}
	res.AssignedCode = code
	return res, nil
}
