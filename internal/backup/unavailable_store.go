package backup

import "context"

// UnavailableStore is an ObjectStore that could not be constructed, usually because the
// storage configuration is incomplete. Every operation fails with the construction error,
// so the failure surfaces in the upload and retention stages instead of aborting the run.
type UnavailableStore struct {
	err error
}

// NewUnavailableStore creates a store that fails every call with err
func NewUnavailableStore(err error) *UnavailableStore {
	return &UnavailableStore{err: err}
}

func (u *UnavailableStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return false, u.err
}

func (u *UnavailableStore) UploadMultipart(ctx context.Context, localPath, bucket, key string, onProgress ProgressFunc) error {
	return u.err
}

func (u *UnavailableStore) ListObjects(ctx context.Context, bucket string) ([]RemoteObject, error) {
	return nil, u.err
}

func (u *UnavailableStore) DeleteObject(ctx context.Context, bucket, key string) error {
	return u.err
}
