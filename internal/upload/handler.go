// Package upload streams multipart request bodies to the storage root while reporting
// throttled progress for every file part.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/dropstream/internal/chunker"
	"github.com/maneesh/dropstream/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("dropstream-upload")

// Notifier delivers progress events to a session
type Notifier interface {
	Emit(ctx context.Context, sessionID, event string, payload models.ProgressEvent) error
}

// MirrorWriter receives a copy of a file part. Close commits it, Abort discards it.
type MirrorWriter interface {
	io.WriteCloser
	Abort(cause error)
}

// Mirror opens a secondary destination for each file part
type Mirror interface {
	Open(ctx context.Context, fileName string) (MirrorWriter, error)
}

// Ledger records completed file parts
type Ledger interface {
	Record(ctx context.Context, record models.UploadRecord) error
}

// Options configures a Handler. Only DownloadsDir is required.
// A MessageTimeDelay of zero reports progress after every chunk.
type Options struct {
	SessionID        string
	DownloadsDir     string
	MessageTimeDelay time.Duration
	ChunkSize        int64
	Notifier         Notifier
	Mirror           Mirror
	Ledger           Ledger
	Clock            Clock
	Logger           logrus.FieldLogger
}

// Handler turns one multipart request body into files under DownloadsDir
type Handler struct {
	opts    Options
	chunker *chunker.Chunker
	logger  logrus.FieldLogger
}

// NewHandler creates an upload handler bound to a single request
func NewHandler(opts Options) *Handler {
	if opts.MessageTimeDelay < 0 {
		opts.MessageTimeDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Handler{
		opts:    opts,
		chunker: chunker.NewChunker(opts.ChunkSize),
		logger:  opts.Logger.WithField("session_id", opts.SessionID),
	}
}

// Parser is returned by RegisterEvents; feed the request body to Consume
type Parser struct {
	handler  *Handler
	boundary string
	onFinish func()
	consumed bool
}

// RegisterEvents validates the multipart headers and prepares a parser for the body.
// onFinish runs once, after every file part has been written, and never after a failure.
func (h *Handler) RegisterEvents(header http.Header, onFinish func()) (*Parser, error) {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return nil, fmt.Errorf("%w: missing Content-Type", models.ErrMalformedRequest)
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedRequest, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("%w: unsupported content type %q", models.ErrMalformedRequest, mediaType)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: missing multipart boundary", models.ErrMalformedRequest)
	}

	if onFinish == nil {
		onFinish = func() {}
	}
	return &Parser{handler: h, boundary: boundary, onFinish: onFinish}, nil
}

// Consume drains body, writing each file part in arrival order
func (p *Parser) Consume(ctx context.Context, body io.Reader) error {
	if p.consumed {
		return errors.New("upload parser already consumed")
	}
	p.consumed = true

	tracked := &bodyReader{r: body}
	reader := multipart.NewReader(tracked, p.boundary)
	for {
		if err := ctx.Err(); err != nil {
			return &models.UploadIOError{FileName: requestBodyName, Op: "read", Err: err}
		}

		part, err := reader.NextPart()
		// a wrapped EOF means the body ended before the closing boundary
		if err == io.EOF {
			break
		}
		if err != nil {
			if tracked.err != nil {
				return &models.UploadIOError{FileName: requestBodyName, Op: "read", Err: tracked.err}
			}
			return fmt.Errorf("%w: %v", models.ErrMalformedRequest, err)
		}

		err = p.handler.onPart(ctx, part)
		part.Close()
		if err != nil {
			return err
		}
	}

	p.onFinish()
	return nil
}

// requestBodyName labels read failures that happen between parts
const requestBodyName = "request body"

// bodyReader remembers the first transport error so it can be told apart from bad framing
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF && b.err == nil {
		b.err = err
	}
	return n, err
}

func (h *Handler) onPart(ctx context.Context, part *multipart.Part) error {
	fileName := part.FileName()
	if fileName == "" {
		// plain form field
		if _, err := io.Copy(io.Discard, part); err != nil {
			return &models.UploadIOError{FileName: part.FormName(), Op: "read", Err: err}
		}
		return nil
	}
	return h.onFile(ctx, part.FormName(), part, fileName)
}

func (h *Handler) onFile(ctx context.Context, fieldName string, file io.Reader, declared string) error {
	ctx, span := tracer.Start(ctx, "upload.file",
		trace.WithAttributes(
			attribute.String("field_name", fieldName),
			attribute.String("declared_name", declared),
			attribute.Int64("chunk_size", h.chunker.ChunkSize()),
		),
	)
	defer span.End()

	dest, err := resolveDestination(h.opts.DownloadsDir, declared)
	if err != nil {
		ioErr := &models.UploadIOError{FileName: declared, Op: "resolve", Err: err}
		span.RecordError(ioErr)
		return ioErr
	}
	fileName := filepath.Base(dest)

	sink, err := openFileSink(ctx, dest, fileName, h.opts.Mirror)
	if err != nil {
		span.RecordError(err)
		return err
	}

	pipeline := &partPipeline{
		source: h.chunker,
		progress: &progressStage{
			next:      sink,
			state:     NewProgressState(h.opts.Clock.Now()),
			fileName:  fileName,
			sessionID: h.opts.SessionID,
			delay:     h.opts.MessageTimeDelay,
			clock:     h.opts.Clock,
			notifier:  h.opts.Notifier,
			logger:    h.logger,
		},
		sink: sink,
	}

	summary, err := pipeline.Run(ctx, file)
	if err != nil {
		span.RecordError(err)
		h.logger.WithError(err).WithField("file_name", fileName).Error("file part failed")
		return err
	}

	span.SetAttributes(
		attribute.Int64("file_size", summary.TotalSize),
		attribute.Int("chunk_count", summary.ChunkCount),
	)
	h.logger.WithFields(logrus.Fields{
		"file_name": fileName,
		"bytes":     summary.TotalSize,
		"chunks":    summary.ChunkCount,
	}).Info("file part stored")

	h.record(ctx, models.UploadRecord{
		ID:         uuid.New().String(),
		SessionID:  h.opts.SessionID,
		FieldName:  fieldName,
		FileName:   fileName,
		Size:       summary.TotalSize,
		SHA256:     summary.Hash,
		ChunkCount: summary.ChunkCount,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (h *Handler) record(ctx context.Context, rec models.UploadRecord) {
	if h.opts.Ledger == nil {
		return
	}
	if err := h.opts.Ledger.Record(ctx, rec); err != nil {
		// Log error but don't fail the upload
		h.logger.WithError(err).WithField("file_name", rec.FileName).Warn("failed to record upload")
	}
}
