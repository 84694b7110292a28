package events

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"taskrails/internal/domain"
	"taskrails/internal/observability"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// wsInbound is a client frame. Only "ping" is understood.
type wsInbound struct {
	Type string `json:"type"`
}

type wsOutbound struct {
	Type    string        `json:"type"`
	Event   *domain.Event `json:"event,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Handler streams hub events over a websocket. The optional "kind" query
// parameter restricts the stream to a comma-separated list of event kinds.
type Handler struct {
	hub    *Hub
	logger observability.Logger
}

// NewHandler creates the websocket endpoint for hub.
func NewHandler(hub *Hub, logger observability.Logger) *Handler {
	return &Handler{hub: hub, logger: observability.OrDiscard(logger).WithComponent("events.ws")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds := parseKinds(r.URL.Query().Get("kind"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	sub, unsubscribe := h.hub.Subscribe(ctx, DefaultBuffer)
	defer unsubscribe()

	writeCh := make(chan wsOutbound, DefaultBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if len(kinds) > 0 && !kinds[ev.Kind] {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(wsOutbound{Type: "event", Event: &ev}); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	push(writeCh, wsOutbound{Type: "subscribed"})
	h.logger.DebugContext(ctx, "event stream opened", "subscribers", h.hub.Subscribers())

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			push(writeCh, wsOutbound{Type: "pong"})
		default:
			push(writeCh, wsOutbound{Type: "error", Message: "unsupported type: " + in.Type})
		}
	}
}

func push(ch chan wsOutbound, out wsOutbound) {
	select {
	case ch <- out:
	default:
	}
}

func parseKinds(raw string) map[domain.EventKind]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[domain.EventKind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out[domain.EventKind(k)] = true
		}
	}
	return out
}
