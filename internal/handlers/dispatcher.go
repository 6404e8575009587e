package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/maneesh/dropstream/internal/models"
	"github.com/maneesh/dropstream/internal/upload"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("dropstream-handlers")

const uploadSuccessMessage = "Files uploaded with success!"

// Method is the closed set of request methods the dispatcher acts on
type Method int

const (
	MethodOther Method = iota
	MethodGet
	MethodPost
	MethodOptions
)

// ParseMethod maps an HTTP method name to a Method, ignoring case.
// Anything unrecognised is MethodOther.
func ParseMethod(method string) Method {
	switch strings.ToLower(method) {
	case "get":
		return MethodGet
	case "post":
		return MethodPost
	case "options":
		return MethodOptions
	default:
		return MethodOther
	}
}

// FileLister is the storage inspector as seen by the dispatcher
type FileLister interface {
	ListFiles(ctx context.Context, dir string) ([]models.FileRecord, error)
}

// DispatcherConfig wires the dispatcher to its collaborators
type DispatcherConfig struct {
	DownloadsDir     string
	Lister           FileLister
	Notifier         upload.Notifier
	Mirror           upload.Mirror
	Ledger           upload.Ledger
	Clock            upload.Clock
	MessageTimeDelay time.Duration
	ChunkSize        int64
	Logger           logrus.FieldLogger
}

// Dispatcher routes every request to list, upload, preflight or reject
type Dispatcher struct {
	cfg    DispatcherConfig
	logger logrus.FieldLogger
}

// NewDispatcher creates a dispatcher bound to one storage root
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{cfg: cfg, logger: logger}
}

// ServeHTTP handles every method on every path
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setAllowOrigin(w)

	switch ParseMethod(r.Method) {
	case MethodGet:
		d.list(w, r)
	case MethodPost:
		d.upload(w, r)
	case MethodOptions:
		d.options(w, r)
	default:
		d.unsupported(w, r)
	}
}

func (d *Dispatcher) list(w http.ResponseWriter, r *http.Request) {
	files, err := d.cfg.Lister.ListFiles(r.Context(), d.cfg.DownloadsDir)
	if err != nil {
		d.logger.WithError(err).Error("failed to list files")
		writeError(w, err)
		return
	}
	if files == nil {
		files = []models.FileRecord{}
	}

	writeJSON(w, http.StatusOK, files)
}

// upload streams the body to storage and answers only once it is fully drained
func (d *Dispatcher) upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_files",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	sessionID := sessionFromQuery(r)
	span.SetAttributes(attribute.String("session_id", sessionID))
	logger := d.logger.WithField("session_id", sessionID)

	handler := upload.NewHandler(upload.Options{
		SessionID:        sessionID,
		DownloadsDir:     d.cfg.DownloadsDir,
		MessageTimeDelay: d.cfg.MessageTimeDelay,
		ChunkSize:        d.cfg.ChunkSize,
		Notifier:         d.cfg.Notifier,
		Mirror:           d.cfg.Mirror,
		Ledger:           d.cfg.Ledger,
		Clock:            d.cfg.Clock,
		Logger:           logger,
	})

	onFinish := func() {
		writeJSON(w, http.StatusOK, models.UploadResponse{Result: uploadSuccessMessage})
	}

	parser, err := handler.RegisterEvents(r.Header, onFinish)
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Warn("rejected upload")
		writeError(w, err)
		return
	}

	if err := parser.Consume(ctx, r.Body); err != nil {
		span.RecordError(err)
		logger.WithError(err).Error("upload failed")
		writeError(w, err)
		return
	}

	logger.Info("Request finished with success!")
}

func (d *Dispatcher) options(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) unsupported(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, POST, OPTIONS")
	w.WriteHeader(http.StatusMethodNotAllowed)
	w.Write([]byte("Unsupported method"))
}

// sessionFromQuery reads sessionId, falling back to the older socketId parameter
func sessionFromQuery(r *http.Request) string {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("sessionId")); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get("socketId"))
}
