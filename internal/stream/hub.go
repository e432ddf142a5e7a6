package stream

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"netwatch-agent/internal/model"
)

// Hub pushes network_update envelopes to websocket clients.
type Hub struct {
	publisher    *Publisher
	nodeID       string
	buffer       int
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
	done         chan struct{}
	closeOnce    sync.Once
	upgrader     websocket.Upgrader
	origins      map[string]struct{}
}

// NewHub builds the websocket endpoint. Browser clients are accepted when their
// Origin matches the request host or one of allowedOrigins ("scheme://host[:port]").
func NewHub(publisher *Publisher, nodeID string, buffer int, writeTimeout, pingInterval time.Duration, allowedOrigins []string, logger *slog.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	h := &Hub{
		publisher:    publisher,
		nodeID:       nodeID,
		buffer:       buffer,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		done:         make(chan struct{}),
		origins:      make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			h.origins[o] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts non-browser clients (no Origin header), same-host pages
// and explicitly allowed origins. Any other page on the machine is refused.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := h.origins[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
}

// Close disconnects every websocket client. Hijacked connections are not
// tracked by http.Server.Shutdown.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) Handle(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", c.Request.RemoteAddr, "origin", c.Request.Header.Get("Origin"))
		return
	}
	defer ws.Close()

	sub := h.publisher.Subscribe(h.buffer)
	defer h.publisher.Unsubscribe(sub)
	h.logger.Info("websocket client connected", "subscriber_id", sub.ID, "remote", c.Request.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastSeq uint64
	if latest, ok := h.publisher.Latest(); ok {
		if err := h.write(ws, latest); err != nil {
			h.logger.Debug("websocket initial write failed", "subscriber_id", sub.ID, "error", err)
			return
		}
		lastSeq = latest.Sequence
	}

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("websocket client disconnected", "subscriber_id", sub.ID, "dropped", sub.Dropped())
			return
		case <-c.Request.Context().Done():
			return
		case <-h.done:
			deadline := time.Now().Add(h.writeTimeout)
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
			return
		case <-ping.C:
			deadline := time.Now().Add(h.writeTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.logger.Debug("websocket ping failed", "subscriber_id", sub.ID, "error", err)
				return
			}
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if u.Sequence <= lastSeq {
				continue
			}
			if err := h.write(ws, u); err != nil {
				h.logger.Debug("websocket write failed", "subscriber_id", sub.ID, "error", err)
				return
			}
			lastSeq = u.Sequence
		}
	}
}

func (h *Hub) write(ws *websocket.Conn, u model.NetworkUpdate) error {
	if err := ws.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(NewNetworkEnvelope(h.nodeID, u))
}
