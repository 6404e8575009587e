package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/maneesh/dropstream/internal/config"
	"github.com/maneesh/dropstream/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	records []models.FileRecord
	err     error
	dirs    []string
}

func (l *fakeLister) ListFiles(_ context.Context, dir string) ([]models.FileRecord, error) {
	l.dirs = append(l.dirs, dir)
	return l.records, l.err
}

type sentEvent struct {
	sessionID string
	event     string
	payload   models.ProgressEvent
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *fakeNotifier) Emit(_ context.Context, sessionID, event string, payload models.ProgressEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{sessionID: sessionID, event: event, payload: payload})
	return nil
}

func (n *fakeNotifier) Events() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.events...)
}

type fakeLedger struct {
	mu      sync.Mutex
	records []models.UploadRecord
}

func (l *fakeLedger) Record(_ context.Context, rec models.UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func newTestDispatcher(t *testing.T, lister FileLister, notifier *fakeNotifier) (*Dispatcher, string) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()
	return NewDispatcher(DispatcherConfig{
		DownloadsDir:     dir,
		Lister:           lister,
		Notifier:         notifier,
		MessageTimeDelay: 300 * time.Millisecond,
		Logger:           logger,
	}), dir
}

func uploadRequest(t *testing.T, target, field, name, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestParseMethod(t *testing.T) {
	tests := map[string]Method{
		"GET":     MethodGet,
		"get":     MethodGet,
		"Post":    MethodPost,
		"OPTIONS": MethodOptions,
		"HEAD":    MethodOther,
		"PUT":     MethodOther,
		"DELETE":  MethodOther,
		"PATCH":   MethodOther,
		"BREW":    MethodOther,
		"":        MethodOther,
	}
	for in, want := range tests {
		require.Equal(t, want, ParseMethod(in), "method %q", in)
	}
}

func TestDispatcherSetsCORSOnEveryResponse(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeLister{}, &fakeNotifier{})

	for _, method := range []string{"GET", "POST", "OPTIONS", "HEAD", "PUT", "DELETE", "PATCH", "BREW"} {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(method, "/any/path", nil))
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), "method %s", method)
	}
}

func TestDispatcherListsFiles(t *testing.T) {
	modified := time.Date(2021, 10, 2, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{records: []models.FileRecord{
		{Size: "2.54 MB", LastModified: modified, Owner: "erickwendel", File: "file.png"},
	}}
	d, dir := newTestDispatcher(t, lister, &fakeNotifier{})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, []string{dir}, lister.dirs)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "2.54 MB", got[0]["size"])
	require.Equal(t, "erickwendel", got[0]["owner"])
	require.Equal(t, "file.png", got[0]["file"])
	require.Equal(t, "2021-10-02T12:00:00Z", got[0]["lastModified"])
}

func TestDispatcherListsEmptyDirectoryAsArray(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeLister{}, &fakeNotifier{})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestDispatcherListFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeLister{err: errors.New("permission denied")}, &fakeNotifier{})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"permission denied"}`, rec.Body.String())
}

func TestDispatcherPreflight(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeLister{}, &fakeNotifier{})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDispatcherRejectsOtherMethods(t *testing.T) {
	lister := &fakeLister{}
	d, _ := newTestDispatcher(t, lister, &fakeNotifier{})

	for _, method := range []string{"HEAD", "PUT", "DELETE", "PATCH", "BREW"} {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(method, "/", nil))

		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, "method %s", method)
		if method != "HEAD" {
			require.Equal(t, "Unsupported method", rec.Body.String())
		}
	}
	require.Empty(t, lister.dirs)
}

func TestDispatcherUploadsFile(t *testing.T) {
	notifier := &fakeNotifier{}
	d, dir := newTestDispatcher(t, &fakeLister{}, notifier)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, uploadRequest(t, "/?sessionId=10", "photo", "a.txt", "hello"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"result":"Files uploaded with success!"}`, rec.Body.String())

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	events := notifier.Events()
	require.NotEmpty(t, events)
	for _, ev := range events {
		require.Equal(t, "10", ev.sessionID)
		require.Equal(t, models.UploadEvent, ev.event)
		require.Equal(t, "a.txt", ev.payload.FileName)
	}
	require.Equal(t, int64(5), events[len(events)-1].payload.ProcessedAlready)
}

func TestDispatcherAcceptsSocketIDParameter(t *testing.T) {
	notifier := &fakeNotifier{}
	d, _ := newTestDispatcher(t, &fakeLister{}, notifier)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, uploadRequest(t, "/?socketId=legacy", "photo", "a.txt", "hello"))

	require.Equal(t, http.StatusOK, rec.Code)
	events := notifier.Events()
	require.NotEmpty(t, events)
	require.Equal(t, "legacy", events[0].sessionID)
}

func TestDispatcherUploadWithoutSession(t *testing.T) {
	notifier := &fakeNotifier{}
	d, dir := newTestDispatcher(t, &fakeLister{}, notifier)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, uploadRequest(t, "/", "photo", "a.txt", "hello"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, notifier.Events())
	_, err := os.Stat(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
}

func TestDispatcherRejectsMalformedUpload(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeLister{}, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodPost, "/?sessionId=10", bytes.NewBufferString(`{"not":"multipart"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Error)
}

func TestDispatcherReportsBodyReadFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeLister{}, &fakeNotifier{})

	req := httptest.NewRequest(http.MethodPost, "/?sessionId=10", iotest.ErrReader(errors.New("connection reset")))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "connection reset")
}

func TestDispatcherReportsWriteFailure(t *testing.T) {
	d, dir := newTestDispatcher(t, &fakeLister{}, &fakeNotifier{})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a.txt"), 0o755))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, uploadRequest(t, "/?sessionId=10", "photo", "a.txt", "hello"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "a.txt")
}

func TestDispatcherZeroDelayReportsEveryChunk(t *testing.T) {
	t.Setenv("DOWNLOADS_DIR", t.TempDir())
	t.Setenv("MESSAGE_TIME_DELAY_MS", "0")
	t.Setenv("CHUNK_SIZE_KB", "1")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.Zero(t, cfg.MessageTimeDelay)

	notifier := &fakeNotifier{}
	ledger := &fakeLedger{}
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(DispatcherConfig{
		DownloadsDir:     cfg.DownloadsDir,
		Lister:           &fakeLister{},
		Notifier:         notifier,
		Ledger:           ledger,
		MessageTimeDelay: cfg.MessageTimeDelay,
		ChunkSize:        cfg.GetChunkSizeBytes(),
		Logger:           logger,
	})

	content := strings.Repeat("x", 3000)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, uploadRequest(t, "/?sessionId=10", "photo", "big.bin", content))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ledger.records, 1)
	chunks := ledger.records[0].ChunkCount
	require.GreaterOrEqual(t, chunks, 3)

	events := notifier.Events()
	require.Len(t, events, chunks)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].payload.ProcessedAlready, events[i-1].payload.ProcessedAlready)
	}
	require.Equal(t, int64(len(content)), events[len(events)-1].payload.ProcessedAlready)
}
