// Package inspector lists the files kept under the storage root.
package inspector

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/maneesh/dropstream/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("dropstream-inspector")

// Inspector produces Stored File Records for a directory.
//
// Owner is the user the process runs as, not the file's owner on disk.
type Inspector struct {
	owner string
}

// New creates an inspector reporting the current process user as owner
func New() *Inspector {
	return &Inspector{owner: processOwner()}
}

// NewWithOwner creates an inspector reporting a fixed owner
func NewWithOwner(owner string) *Inspector {
	return &Inspector{owner: owner}
}

// ListFiles returns a record for every regular file directly under dir, sorted by name
func (i *Inspector) ListFiles(ctx context.Context, dir string) ([]models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "inspector.list_files",
		trace.WithAttributes(attribute.String("dir", dir)),
	)
	defer span.End()

	entries, err := os.ReadDir(dir)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	records := make([]models.FileRecord, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				// removed between ReadDir and Stat
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}

		records = append(records, models.FileRecord{
			Size:         FormatSize(info.Size()),
			LastModified: createdAt(path, info).UTC(),
			Owner:        i.owner,
			File:         entry.Name(),
		})
	}

	span.SetAttributes(attribute.Int("file_count", len(records)))
	return records, nil
}

// FormatSize renders a byte count in SI units, e.g. 2539665 -> "2.54 MB"
func FormatSize(size int64) string {
	value, prefix := humanize.ComputeSI(float64(size))
	if prefix == "" {
		return fmt.Sprintf("%d B", size)
	}
	return fmt.Sprintf("%.2f %sB", value, strings.ToUpper(prefix))
}

func processOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
