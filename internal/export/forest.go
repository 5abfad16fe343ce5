// Package export writes snapshots of the referral forest to Cloud Storage.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/shinyyama/referral-backend/internal/referral"
)

type Node struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	ReferralCode string  `json:"referralCode"`
	SponsorID    *string `json:"sponsorId"`
	IsActive     bool    `json:"isActive"`
	Level        int     `json:"level"`
}

type Snapshot struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Depth       int       `json:"depth"`
	Roots       int       `json:"roots"`
	Nodes       []Node    `json:"nodes"`
}

// NewSnapshot keeps forest entries in tree order; level-1 entries are the
// forest roots. Emails are left out of exports.
func NewSnapshot(entries []referral.TreeEntry, depth int, at time.Time) Snapshot {
	snap := Snapshot{GeneratedAt: at.UTC(), Depth: depth, Nodes: make([]Node, 0, len(entries))}
	for _, e := range entries {
		if e.Level == 1 {
			snap.Roots++
		}
		snap.Nodes = append(snap.Nodes, Node{
			ID:           e.ID,
			Username:     e.Username,
			ReferralCode: e.ReferralCode,
			SponsorID:    e.SponsorID,
			IsActive:     e.Active,
			Level:        e.Level,
		})
	}
	return snap
}

func (s Snapshot) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// ObjectPath names a snapshot object by its generation time.
func ObjectPath(at time.Time) string {
	return fmt.Sprintf("exports/forest/%s.json", at.UTC().Format("20060102T150405Z"))
}

// Upload stores the snapshot with a download token and returns its URL.
func Upload(ctx context.Context, client *storage.Client, bucket, objectPath string, snap Snapshot) (string, error) {
	token := uuid.NewString()
	w := client.Bucket(bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"firebaseStorageDownloadTokens": token,
	}
	if err := snap.Write(w); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket, url.PathEscape(objectPath), token), nil
}
