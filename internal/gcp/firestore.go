package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

// NewFirestoreClient creates a Firestore client for the given project ID.
// It returns nil without error when collection is empty, since job records are optional.
func NewFirestoreClient(ctx context.Context, projectID, collection string) (*firestore.Client, error) {
	if collection == "" {
		return nil, nil
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}
