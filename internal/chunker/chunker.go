package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/maneesh/dropstream/internal/models"
)

// DefaultChunkSize is used when a chunker is created with a non-positive size
const DefaultChunkSize = 64 * 1024

// Chunker splits a byte stream into ordered chunks
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the maximum size of a produced chunk
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Summary describes a stream once every chunk has been handed off
type Summary struct {
	TotalSize  int64
	ChunkCount int
	Hash       string
}

// Stream reads from reader and hands each chunk to fn in order. A chunk is whatever a
// single Read produced, capped at the chunk size; its buffer is only valid until fn returns.
func (c *Chunker) Stream(ctx context.Context, reader io.Reader, fn func(models.ChunkData) error) (Summary, error) {
	var summary Summary
	hasher := sha256.New()
	buffer := make([]byte, c.chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		n, err := reader.Read(buffer)
		if n > 0 {
			chunk := models.ChunkData{
				Data:       buffer[:n],
				OrderIndex: summary.ChunkCount,
				Size:       int64(n),
			}
			hasher.Write(chunk.Data)

			if fnErr := fn(chunk); fnErr != nil {
				return summary, fnErr
			}

			summary.TotalSize += int64(n)
			summary.ChunkCount++
		}

		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return summary, fmt.Errorf("error reading chunk: %w", err)
		}
	}

	summary.Hash = encode(hasher)
	return summary, nil
}

func encode(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
