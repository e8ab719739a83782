package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/juju/clock"
)

// TimestampLayout names run artifacts, e.g. 2024-01-31-23-59
const TimestampLayout = "2006-01-02-15-04"

// Stage identifies one independently guarded phase of a run
type Stage string

const (
	StageArchive   Stage = "archive"
	StageUpload    Stage = "upload"
	StageRetention Stage = "retention"
)

// RunOptions configures a single backup run
type RunOptions struct {
	Directories      []string
	Ignores          []string
	RetentionDays    int
	Bucket           string
	WorkDir          string
	CompressionLevel int

	// SkipUploadOnArchiveFailure skips the upload stage when the archive stage failed
	SkipUploadOnArchiveFailure bool
	// SkipRetentionOnUploadFailure skips the retention stage when the upload stage failed or was skipped
	SkipRetentionOnUploadFailure bool
}

// Result describes what a run did. Stages that succeeded or were skipped have no entry in Errors.
type Result struct {
	ArchivePath string
	ObjectKey   string
	Deleted     int
	Skipped     []Stage
	Errors      map[Stage]error
}

// Failed reports whether the given stage returned an error
func (r Result) Failed(stage Stage) bool {
	_, ok := r.Errors[stage]
	return ok
}

// Runner sequences the archive, upload and retention stages of a backup run
type Runner struct {
	store     ObjectStore
	archiver  *Archiver
	retention *RetentionEnforcer
	clock     clock.Clock
	logger    *slog.Logger
	opts      RunOptions
}

// NewRunner creates a new runner
func NewRunner(store ObjectStore, clk clock.Clock, logger *slog.Logger, opts RunOptions) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Runner{
		store:     store,
		archiver:  NewArchiver(clk, logger),
		retention: NewRetentionEnforcer(store, logger),
		clock:     clk,
		logger:    logger,
		opts:      opts,
	}
}

// Run executes one backup run started at startedAt. A failing stage is logged and later stages still run
// unless the skip options say otherwise.
func (r *Runner) Run(ctx context.Context, startedAt time.Time) Result {
	stamp := startedAt.Format(TimestampLayout)
	archivePath := filepath.Join(r.opts.WorkDir, stamp+".zip")

	result := Result{
		ArchivePath: archivePath,
		ObjectKey:   filepath.Base(archivePath),
		Errors:      make(map[Stage]error),
	}

	r.logger.Info("Started backup " + stamp)

	r.guard(&result, StageArchive, func() error {
		return r.createArchive(ctx, archivePath)
	})

	switch {
	case r.opts.SkipUploadOnArchiveFailure && result.Failed(StageArchive):
		result.Skipped = append(result.Skipped, StageUpload)
		r.logger.Warn("Skipping upload because archive creation failed")
	default:
		r.guard(&result, StageUpload, func() error {
			return r.upload(ctx, archivePath, result.ObjectKey)
		})
	}

	uploadFailed := result.Failed(StageUpload) || slices.Contains(result.Skipped, StageUpload)
	switch {
	case r.opts.SkipRetentionOnUploadFailure && uploadFailed:
		result.Skipped = append(result.Skipped, StageRetention)
		r.logger.Warn("Skipping retention because the upload did not succeed")
	default:
		r.guard(&result, StageRetention, func() error {
			deleted, err := r.retention.Enforce(ctx, r.opts.Bucket, r.opts.RetentionDays, r.clock.Now())
			result.Deleted = deleted
			return err
		})
	}

	r.logger.Info("Done! Closing application", "failed_stages", len(result.Errors))
	return result
}

func (r *Runner) createArchive(ctx context.Context, archivePath string) error {
	files, err := SelectFiles(r.opts.Directories, r.opts.Ignores)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create work directory: %w", ErrIO, err)
	}

	return r.archiver.Build(ctx, files, archivePath, r.opts.CompressionLevel)
}

func (r *Runner) upload(ctx context.Context, archivePath, key string) error {
	progress := NewProgressLogger(r.logger)
	return r.store.UploadMultipart(ctx, archivePath, r.opts.Bucket, key, progress.Report)
}

// guard runs one stage, recording and logging its error. A panic inside the stage is recovered as an unhandled error.
func (r *Runner) guard(result *Result, stage Stage, fn func() error) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("unhandled failure in %s stage: %v", stage, p)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	result.Errors[stage] = err
	r.logStageError(stage, err)
}

func (r *Runner) logStageError(stage Stage, err error) {
	kind := Kind(err)

	var msg string
	switch {
	case stage == StageArchive && kind == KindNoFilesFound:
		msg = "There are no files to zip check the config."
	case stage == StageArchive:
		msg = "Error while creating zip archive"
	case stage == StageUpload:
		msg = "Error while uploading archive"
	default:
		msg = "Error while deleting old backups"
	}

	r.logger.Error(msg, "stage", string(stage), "kind", kind, "error", err)
}
