// Package storage presigns upload and download URLs for keepsake media.
// The server never proxies media bytes; clients talk to the object store
// directly using the URLs produced here.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PresignExpiry is how long a presigned URL stays usable.
const PresignExpiry = 15 * time.Minute

// BlobStore issues presigned URLs for objects in a single bucket.
type BlobStore interface {
	PresignPut(ctx context.Context, key string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// NewStorageKey returns a fresh object key namespaced by vault and date.
func NewStorageKey(vaultID string, now time.Time) string {
	return fmt.Sprintf("vaults/%s/%d/%02d/%02d/%v", vaultID, now.Year(), now.Month(), now.Day(), uuid.New())
}
