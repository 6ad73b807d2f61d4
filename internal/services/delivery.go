package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdfocrflow/internal/gcp"
)

// ArchiveSink receives finished result archives.
type ArchiveSink interface {
	Deliver(ctx context.Context, objectName string, data []byte) (string, error)
}

// GCSSink writes result archives to a bucket. Existing objects are left untouched.
type GCSSink struct {
	client *storage.Client
	bucket string
}

func NewGCSSink(client *storage.Client, bucket string) *GCSSink {
	return &GCSSink{client: client, bucket: bucket}
}

// Deliver uploads data and returns its gs:// URI.
func (s *GCSSink) Deliver(ctx context.Context, objectName string, data []byte) (string, error) {
	if _, err := gcp.SaveToGCSAtomically(ctx, s.client.Bucket(s.bucket), objectName, "application/zip", data); err != nil {
		return "", fmt.Errorf("failed to deliver %s: %w", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}
