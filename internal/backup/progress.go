package backup

import (
	"fmt"
	"io"
	"log/slog"
)

// progressReader counts bytes read from an upload body and reports them as a percentage of size
type progressReader struct {
	reader     io.Reader
	size       int64
	read       int64
	onProgress ProgressFunc
}

func newProgressReader(reader io.Reader, size int64, onProgress ProgressFunc) io.Reader {
	if onProgress == nil {
		return reader
	}
	return &progressReader{
		reader:     reader,
		size:       size,
		onProgress: onProgress,
	}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)

	if n > 0 || err == io.EOF {
		r.onProgress(r.percent(err == io.EOF))
	}

	return n, err
}

func (r *progressReader) percent(done bool) int {
	if r.size <= 0 {
		if done {
			return 100
		}
		return 0
	}
	percent := int(r.read * 100 / r.size)
	if percent > 100 {
		percent = 100
	}
	return percent
}

// ProgressLogger logs upload progress, skipping notifications that repeat the last reported percentage.
// Use one ProgressLogger per upload.
type ProgressLogger struct {
	logger      *slog.Logger
	lastPercent int
}

// NewProgressLogger creates a progress logger that has not reported anything yet
func NewProgressLogger(logger *slog.Logger) *ProgressLogger {
	return &ProgressLogger{
		logger:      logger,
		lastPercent: -1,
	}
}

// Report is a ProgressFunc
func (p *ProgressLogger) Report(percent int) {
	if percent == p.lastPercent {
		return
	}
	p.lastPercent = percent
	p.logger.Info(fmt.Sprintf("Upload status of backup: %d%%", percent), "percent", percent)
}
