package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/pdfocrflow/internal/models"
)

// JobRecorder keeps an audit record of each job.
type JobRecorder interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateStatus(ctx context.Context, jobID, status, errDetails string, fields map[string]interface{}) error
}

// FirestoreRecorder stores job records in a Firestore collection keyed by job ID.
type FirestoreRecorder struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreRecorder(client *firestore.Client, collection string) *FirestoreRecorder {
	return &FirestoreRecorder{client: client, collection: collection}
}

func (r *FirestoreRecorder) CreateJob(ctx context.Context, job *models.Job) error {
	if _, err := r.client.Collection(r.collection).Doc(job.JobID).Set(ctx, job); err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

func (r *FirestoreRecorder) UpdateStatus(ctx context.Context, jobID, status, errDetails string, fields map[string]interface{}) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	if _, err := r.client.Collection(r.collection).Doc(jobID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

type noopRecorder struct{}

func (noopRecorder) CreateJob(context.Context, *models.Job) error { return nil }
func (noopRecorder) UpdateStatus(context.Context, string, string, string, map[string]interface{}) error {
	return nil
}
