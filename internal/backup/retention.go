package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const day = 24 * time.Hour

// RetentionEnforcer deletes bucket objects older than a retention window
type RetentionEnforcer struct {
	store  ObjectStore
	logger *slog.Logger
}

// NewRetentionEnforcer creates a new retention enforcer
func NewRetentionEnforcer(store ObjectStore, logger *slog.Logger) *RetentionEnforcer {
	return &RetentionEnforcer{
		store:  store,
		logger: logger,
	}
}

// Enforce deletes every object in the bucket that is at least retentionDays old at now.
// Deletions are independent: a failed delete is logged and the remaining objects are still processed.
// It returns the number of objects deleted and the joined delete failures, if any.
func (re *RetentionEnforcer) Enforce(ctx context.Context, bucket string, retentionDays int, now time.Time) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d", retentionDays)
	}

	exists, err := re.store.BucketExists(ctx, bucket)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	objects, err := re.store.ListObjects(ctx, bucket)
	if err != nil {
		return 0, fmt.Errorf("failed to list objects: %w", err)
	}

	for _, obj := range objects {
		if obj.LastModified.IsZero() {
			re.logger.Warn("Skipping object without a last modified time", "bucket", bucket, "key", obj.Key)
		}
	}

	expired := ExpiredObjects(objects, retentionDays, now)
	if len(expired) == 0 {
		re.logger.Info("No objects older than retention window", "bucket", bucket, "retention_days", retentionDays, "objects", len(objects))
		return 0, nil
	}

	deleted := 0
	var errs []error
	for _, obj := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		re.logger.Info(fmt.Sprintf("Deleting object %s in bucket %s", obj.Key, bucket), "age_days", AgeInDays(obj.LastModified, now))

		if err := re.store.DeleteObject(ctx, bucket, obj.Key); err != nil {
			re.logger.Error("Failed to delete object", "key", obj.Key, "error", err)
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	re.logger.Info("Retention pass complete", "bucket", bucket, "deleted_count", deleted, "failed_count", len(errs))
	return deleted, errors.Join(errs...)
}

// ExpiredObjects returns the objects whose age in whole days is at least retentionDays.
// The boundary is inclusive. Objects without a last modified time are never expired.
func ExpiredObjects(objects []RemoteObject, retentionDays int, now time.Time) []RemoteObject {
	var expired []RemoteObject
	for _, obj := range objects {
		if obj.LastModified.IsZero() {
			continue
		}
		if AgeInDays(obj.LastModified, now) >= retentionDays {
			expired = append(expired, obj)
		}
	}
	return expired
}

// AgeInDays is the number of whole days between lastModified and now, truncated toward zero.
// Timestamps in the future have age 0.
func AgeInDays(lastModified, now time.Time) int {
	return max(0, int(now.Sub(lastModified)/day))
}
