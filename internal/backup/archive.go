package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/klauspost/compress/flate"
)

const (
	// archiveBufferSize is the single working buffer shared by every file copied into an archive
	archiveBufferSize = 1024 * 1024

	MinCompressionLevel = 1
	MaxCompressionLevel = 9
)

// Archiver builds zip archives from a list of local files
type Archiver struct {
	clock  clock.Clock
	logger *slog.Logger
}

// NewArchiver creates a new archiver. Entry timestamps are taken from clk at build time.
func NewArchiver(clk clock.Clock, logger *slog.Logger) *Archiver {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Archiver{
		clock:  clk,
		logger: logger,
	}
}

// Build writes files into a new zip archive at outputPath, one entry per file named after its full path.
// Files are processed strictly one after another through a single 1 MiB buffer.
// On failure the partially written archive is left on disk and must not be used.
func (a *Archiver) Build(ctx context.Context, files []string, outputPath string, compressionLevel int) error {
	if compressionLevel < MinCompressionLevel || compressionLevel > MaxCompressionLevel {
		return fmt.Errorf("compression level %d out of range %d-%d", compressionLevel, MinCompressionLevel, MaxCompressionLevel)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create archive %s: %w", ErrIO, outputPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, compressionLevel)
	})

	a.logger.Info("Zipping files", "count", len(files), "archive", outputPath, "compression_level", compressionLevel)

	buffer := make([]byte, archiveBufferSize)
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.logger.Info(fmt.Sprintf("Zipping %s (%d/%d)", file, i+1, len(files)))

		if err := a.addFile(zw, file, buffer); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: failed to finalize archive %s: %w", ErrIO, outputPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: failed to close archive %s: %w", ErrIO, outputPath, err)
	}

	if info, err := os.Stat(outputPath); err == nil {
		a.logger.Info("Archive created", "archive", outputPath, "size", humanize.Bytes(uint64(info.Size())))
	}

	return nil
}

func (a *Archiver) addFile(zw *zip.Writer, file string, buffer []byte) error {
	in, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", ErrIO, file, err)
	}
	defer in.Close()

	header := &zip.FileHeader{
		Name:     filepath.ToSlash(file),
		Method:   zip.Deflate,
		Modified: a.clock.Now(),
	}

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("%w: failed to create entry for %s: %w", ErrIO, file, err)
	}

	for {
		n, readErr := in.Read(buffer)
		if n > 0 {
			if _, err := entry.Write(buffer[:n]); err != nil {
				return fmt.Errorf("%w: failed to write %s: %w", ErrIO, file, err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: failed to read %s: %w", ErrIO, file, readErr)
		}
	}
}
