package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/maneesh/dropstream/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPingPeriod = 30 * time.Second
	socketPongWait   = 2 * socketPingPeriod
)

// Subscriber streams the progress events published for one session
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan models.Envelope, func() error, error)
}

// socketMessage is what the browser receives. The first message has type "connect"
// and carries the session id to pass as ?sessionId= on uploads.
type socketMessage struct {
	Type string                `json:"type"`
	ID   string                `json:"id,omitempty"`
	Data *models.ProgressEvent `json:"data,omitempty"`
}

// SocketHandler relays progress events to a browser over a WebSocket
type SocketHandler struct {
	subscriber Subscriber
	upgrader   websocket.Upgrader
	logger     logrus.FieldLogger
}

// NewSocketHandler creates the WebSocket relay
func NewSocketHandler(subscriber Subscriber, logger logrus.FieldLogger) *SocketHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SocketHandler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /socket
func (sh *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := sh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		sh.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	logger := sh.logger.WithField("session_id", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe, err := sh.subscriber.Subscribe(ctx, sessionID)
	if err != nil {
		logger.WithError(err).Error("failed to subscribe to progress channel")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "progress channel unavailable"),
			time.Now().Add(socketWriteWait))
		return
	}
	defer unsubscribe()

	if err := sh.write(conn, socketMessage{Type: "connect", ID: sessionID}); err != nil {
		return
	}
	logger.Info("progress socket connected")

	go sh.readUntilClosed(conn, cancel)

	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("progress socket closed")
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			data := env.Data
			if err := sh.write(conn, socketMessage{Type: env.Event, Data: &data}); err != nil {
				logger.WithError(err).Warn("failed to relay progress")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
				return
			}
		}
	}
}

func (sh *SocketHandler) write(conn *websocket.Conn, msg socketMessage) error {
	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(msg)
}

// readUntilClosed discards client frames so control frames are processed, and
// cancels the relay once the client goes away.
func (sh *SocketHandler) readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
