package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/maneesh/dropstream/internal/models"
)

type emitCall struct {
	SessionID string
	Event     string
	Payload   models.ProgressEvent
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []emitCall
	err   error
}

func (n *recordingNotifier) Emit(_ context.Context, sessionID, event string, payload models.ProgressEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, emitCall{SessionID: sessionID, Event: event, Payload: payload})
	return n.err
}

func (n *recordingNotifier) Calls() []emitCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]emitCall(nil), n.calls...)
}

// fakeClock hands out the given instants in order and then repeats the last one
type fakeClock struct {
	mu    sync.Mutex
	times []time.Time
	next  int
}

func newFakeClock(times ...time.Time) *fakeClock {
	return &fakeClock{times: times}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next < len(c.times) {
		t := c.times[c.next]
		c.next++
		return t
	}
	return c.times[len(c.times)-1]
}

// chunkReader returns exactly one of its chunks per Read call
type chunkReader struct {
	chunks [][]byte
}

func newChunkReader(chunks ...string) *chunkReader {
	r := &chunkReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

type memoryMirror struct {
	mu      sync.Mutex
	objects map[string]*memoryMirrorWriter
	openErr error
}

func (m *memoryMirror) Open(_ context.Context, fileName string) (MirrorWriter, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string]*memoryMirrorWriter{}
	}
	w := &memoryMirrorWriter{}
	m.objects[fileName] = w
	return w, nil
}

type memoryMirrorWriter struct {
	buf       bytes.Buffer
	committed bool
	aborted   error
}

func (w *memoryMirrorWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memoryMirrorWriter) Close() error {
	w.committed = true
	return nil
}

func (w *memoryMirrorWriter) Abort(cause error) { w.aborted = cause }

type memoryLedger struct {
	mu      sync.Mutex
	records []models.UploadRecord
	err     error
}

func (l *memoryLedger) Record(_ context.Context, rec models.UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, rec)
	return nil
}

type formFile struct {
	field, name, content string
}

// multipartBody builds a form with the given file parts and one plain field
func multipartBody(files ...formFile) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	mw.WriteField("comment", "ignored")
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			panic(err)
		}
		part.Write([]byte(f.content))
	}
	mw.Close()
	return body, mw.FormDataContentType()
}

var errBoom = errors.New("boom")
