package upload

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/maneesh/dropstream/internal/chunker"
	"github.com/maneesh/dropstream/internal/models"
)

// chunkWriter is implemented by every stage downstream of the chunk source
type chunkWriter interface {
	WriteChunk(ctx context.Context, chunk models.ChunkData) error
}

// fileSink writes chunks to the destination file and, when configured, to a mirror
type fileSink struct {
	fileName string
	file     *os.File
	mirror   MirrorWriter
}

func openFileSink(ctx context.Context, dest, fileName string, mirror Mirror) (*fileSink, error) {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|noFollow, 0o644)
	if err != nil {
		return nil, &models.UploadIOError{FileName: fileName, Op: "open", Err: err}
	}

	sink := &fileSink{fileName: fileName, file: f}
	if mirror != nil {
		mw, err := mirror.Open(ctx, fileName)
		if err != nil {
			f.Close()
			return nil, &models.UploadIOError{FileName: fileName, Op: "mirror", Err: err}
		}
		sink.mirror = mw
	}
	return sink, nil
}

func (s *fileSink) WriteChunk(_ context.Context, chunk models.ChunkData) error {
	if _, err := s.file.Write(chunk.Data); err != nil {
		return &models.UploadIOError{FileName: s.fileName, Op: "write", Err: err}
	}
	if s.mirror != nil {
		if _, err := s.mirror.Write(chunk.Data); err != nil {
			return &models.UploadIOError{FileName: s.fileName, Op: "mirror", Err: err}
		}
	}
	return nil
}

// Close flushes the destination and waits for the mirror to accept the object
func (s *fileSink) Close() error {
	if err := s.file.Close(); err != nil {
		if s.mirror != nil {
			s.mirror.Abort(err)
		}
		return &models.UploadIOError{FileName: s.fileName, Op: "close", Err: err}
	}
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			return &models.UploadIOError{FileName: s.fileName, Op: "mirror", Err: err}
		}
	}
	return nil
}

// Abort releases the sink after a failure. The partially written file stays on disk.
func (s *fileSink) Abort(cause error) {
	s.file.Close()
	if s.mirror != nil {
		s.mirror.Abort(cause)
	}
}

// partPipeline composes source -> progress -> sink for one file part. Each chunk is
// written before the next one is read, so memory stays bounded by the chunk size.
type partPipeline struct {
	source   *chunker.Chunker
	progress *progressStage
	sink     *fileSink
}

func (p *partPipeline) Run(ctx context.Context, r io.Reader) (chunker.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	summary, err := p.source.Stream(ctx, r, func(chunk models.ChunkData) error {
		return p.progress.WriteChunk(ctx, chunk)
	})
	if err != nil {
		cancel()
		p.sink.Abort(err)
		return summary, sourceError(p.sink.fileName, err)
	}

	if err := p.sink.Close(); err != nil {
		return summary, err
	}
	p.progress.flush(ctx)
	return summary, nil
}

// sourceError leaves stage errors untouched and tags read failures with the part name
func sourceError(fileName string, err error) error {
	var ioErr *models.UploadIOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &models.UploadIOError{FileName: fileName, Op: "read", Err: err}
}
