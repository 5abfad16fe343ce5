package reqctx

import "context"

type ctxKey string

const (
	keyJobID ctxKey = "referral_job_id"
	keyUID   ctxKey = "referral_uid"
)

// WithJobID stores the propagation job id used to correlate logs.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyJobID, id)
}

// JobID returns the propagation job id, or "-" when none is set.
func JobID(ctx context.Context) string {
	v, _ := ctx.Value(keyJobID).(string)
	if v == "" {
		return "-"
	}
	return v
}

// WithUID stores the id of the user who triggered the work.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, keyUID, uid)
}

// UID returns the triggering user id if present.
func UID(ctx context.Context) string {
	v, _ := ctx.Value(keyUID).(string)
	return v
}
