package backup

import (
	"context"
	"time"
)

// RemoteObject represents a backup object stored in a bucket
type RemoteObject struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// ProgressFunc receives the percentage of an upload completed so far, 0 to 100
type ProgressFunc func(percent int)

// ObjectStore interface for the bucket operations a backup run needs.
// Every method returns ErrBucketNotFound without calling the underlying operation when the bucket is missing.
type ObjectStore interface {
	// BucketExists reports whether the bucket exists
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// UploadMultipart uploads a local file in parts, reporting progress as it goes
	UploadMultipart(ctx context.Context, localPath, bucket, key string, onProgress ProgressFunc) error

	// ListObjects returns every object in the bucket
	ListObjects(ctx context.Context, bucket string) ([]RemoteObject, error)

	// DeleteObject removes a single object
	DeleteObject(ctx context.Context, bucket, key string) error
}
