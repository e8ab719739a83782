package backup

import "errors"

var (
	// ErrBucketNotFound is returned by every ObjectStore operation when the target bucket does not exist
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrNoFilesFound is returned when file selection yields nothing to archive
	ErrNoFilesFound = errors.New("no files found to back up")

	// ErrFileNotFound is returned when an upload is asked to send a local file that is not there
	ErrFileNotFound = errors.New("file not found")

	// ErrIO wraps read/write failures while selecting or archiving files
	ErrIO = errors.New("i/o failure")
)

// Error kinds reported in stage log lines
const (
	KindBucketNotFound = "BucketNotFound"
	KindNoFilesFound   = "NoFilesFound"
	KindFileNotFound   = "FileNotFound"
	KindIOFailure      = "IOFailure"
	KindUnhandled      = "Unhandled"
)

// Kind classifies err into one of the error kinds so callers can branch without string matching.
// A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBucketNotFound):
		return KindBucketNotFound
	case errors.Is(err, ErrNoFilesFound):
		return KindNoFilesFound
	case errors.Is(err, ErrFileNotFound):
		return KindFileNotFound
	case errors.Is(err, ErrIO):
		return KindIOFailure
	default:
		return KindUnhandled
	}
}
