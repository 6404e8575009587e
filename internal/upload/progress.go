package upload

import (
	"context"
	"time"

	"github.com/maneesh/dropstream/internal/models"
	"github.com/sirupsen/logrus"
)

// Clock supplies the wall-clock time used for throttling
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time { return time.Now() }

// ProgressState tracks how much of one file part has been processed and when the
// last notification went out.
type ProgressState struct {
	BytesProcessed int64
	LastEmit       time.Time

	emitted int64
}

// NewProgressState starts tracking a part at the given time
func NewProgressState(start time.Time) *ProgressState {
	return &ProgressState{LastEmit: start}
}

// Advance adds n processed bytes and reports whether a notification is due at now.
// LastEmit only changes when Advance returns true.
func (s *ProgressState) Advance(n int64, now time.Time, delay time.Duration) bool {
	s.BytesProcessed += n
	if now.Sub(s.LastEmit) < delay {
		return false
	}
	s.markEmitted(now)
	return true
}

// Pending reports whether bytes were processed after the last notification
func (s *ProgressState) Pending() bool {
	return s.BytesProcessed != s.emitted
}

func (s *ProgressState) markEmitted(now time.Time) {
	if now.After(s.LastEmit) {
		s.LastEmit = now
	}
	s.emitted = s.BytesProcessed
}

// progressStage forwards chunks to the next stage and reports throttled progress
// for them afterwards.
type progressStage struct {
	next      chunkWriter
	state     *ProgressState
	fileName  string
	sessionID string
	delay     time.Duration
	clock     Clock
	notifier  Notifier
	logger    logrus.FieldLogger

	// index of the last chunk forwarded
	chunkIndex int
}

func (s *progressStage) WriteChunk(ctx context.Context, chunk models.ChunkData) error {
	if err := s.next.WriteChunk(ctx, chunk); err != nil {
		return err
	}
	s.chunkIndex = chunk.OrderIndex

	if s.state.Advance(chunk.Size, s.clock.Now(), s.delay) {
		s.emit(ctx)
	}
	return nil
}

// flush sends the final byte count if the throttle held it back
func (s *progressStage) flush(ctx context.Context) {
	if !s.state.Pending() {
		return
	}
	s.state.markEmitted(s.clock.Now())
	s.emit(ctx)
}

func (s *progressStage) emit(ctx context.Context) {
	if s.notifier == nil || s.sessionID == "" {
		return
	}

	event := models.ProgressEvent{
		ProcessedAlready: s.state.BytesProcessed,
		FileName:         s.fileName,
	}
	fields := logrus.Fields{
		"file_name":   s.fileName,
		"bytes":       event.ProcessedAlready,
		"session_id":  s.sessionID,
		"chunk_index": s.chunkIndex,
	}

	if err := s.notifier.Emit(ctx, s.sessionID, models.UploadEvent, event); err != nil {
		deliveryErr := &models.NotificationDeliveryError{SessionID: s.sessionID, Err: err}
		s.logger.WithFields(fields).WithError(deliveryErr).Warn("progress notification dropped")
		return
	}

	s.logger.WithFields(fields).Info("progress notification sent")
}
