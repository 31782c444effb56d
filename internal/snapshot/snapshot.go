// Package snapshot writes point-in-time copies of ledger documents to Cloud
// Storage and reads them back.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/spend-assistant/internal/domain"
)

const (
	// ObjectPrefix is the folder all snapshots live under.
	ObjectPrefix = "ledgers"

	timestampLayout = "20060102T150405Z"
	contentType     = "application/json"
)

// ObjectStore reads and writes whole objects.
type ObjectStore interface {
	Put(ctx context.Context, bucket, object, contentType string, data []byte) error
	Get(ctx context.Context, bucket, object string) ([]byte, error)
}

// Uploader stores ledger snapshots in one bucket.
type Uploader struct {
	objects ObjectStore
	bucket  string
	now     func() time.Time
}

// NewUploader creates an Uploader for bucket.
func NewUploader(objects ObjectStore, bucket string) *Uploader {
	return &Uploader{objects: objects, bucket: bucket, now: time.Now}
}

// ObjectName returns ledgers/<user>/<timestamp>.json. The user ID is path
// escaped so it always stays one path segment.
func ObjectName(userID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", ObjectPrefix, url.PathEscape(userID), at.UTC().Format(timestampLayout))
}

// Upload writes doc and returns its gs:// URI. Documents whose balance does
// not match their entries are refused.
func (u *Uploader) Upload(ctx context.Context, doc domain.LedgerDocument) (string, error) {
	if doc.UserID == "" {
		return "", fmt.Errorf("Upload: user ID is required")
	}
	if err := doc.Verify(); err != nil {
		return "", fmt.Errorf("Upload: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("Upload: marshal: %w", err)
	}

	object := ObjectName(doc.UserID, u.now())
	if err := u.objects.Put(ctx, u.bucket, object, contentType, data); err != nil {
		return "", fmt.Errorf("Upload: writing %s: %w", object, err)
	}
	return "gs://" + u.bucket + "/" + object, nil
}

// Fetch reads back the snapshot at uri.
func (u *Uploader) Fetch(ctx context.Context, uri string) (domain.LedgerDocument, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return domain.LedgerDocument{}, err
	}

	data, err := u.objects.Get(ctx, bucket, object)
	if err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("Fetch: reading %s: %w", uri, err)
	}

	var doc domain.LedgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("Fetch: decoding %s: %w", uri, err)
	}
	return doc, nil
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
