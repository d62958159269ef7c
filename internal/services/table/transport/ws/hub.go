// Package ws pushes per-viewer table views over websockets and accepts
// intents from seated players.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/platform/logging"
	"github.com/louisbranch/cardtable/internal/platform/timeouts"
	"github.com/louisbranch/cardtable/internal/services/table/domain/event"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/visibility"
	"github.com/louisbranch/cardtable/internal/services/table/gamestore"
	"github.com/louisbranch/cardtable/internal/services/table/intent"
)

// Server message types.
const (
	MessageView     = "view"
	MessageRejected = "rejected"
	MessageError    = "error"
)

// ReasonSpectator rejects intents sent by the god viewer.
const ReasonSpectator = "Spectators cannot act"

// sendBuffer is how many pending messages a slow client may queue before
// messages are dropped.
const sendBuffer = 16

// Submitter runs intents through the intent pipeline.
type Submitter interface {
	Submit(ctx context.Context, gameID string, in rules.Intent, broadcast intent.BroadcastFunc) intent.Result
}

// Message is what the server sends to a client.
type Message struct {
	Type       string             `json:"type"`
	View       *visibility.View   `json:"view,omitempty"`
	LastAction *intent.LastAction `json:"lastAction,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// Config tunes the hub.
type Config struct {
	// OriginPatterns are extra origins allowed to connect.
	OriginPatterns []string
	// AllowGodView lets visibility.GodViewer connect as a read-only
	// spectator of every card.
	AllowGodView bool
}

// Hub tracks connected viewers per game.
type Hub struct {
	cfg       Config
	store     *gamestore.Store
	submitter Submitter
	logger    *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

type client struct {
	viewer string
	send   chan []byte
}

// NewHub creates a hub.
func NewHub(cfg Config, store *gamestore.Store, submitter Submitter, logger *zap.Logger) *Hub {
	logger = logging.OrNop(logger)
	return &Hub{
		cfg:       cfg,
		store:     store,
		submitter: submitter,
		logger:    logger,
		clients:   map[string]map[*client]struct{}{},
	}
}

// Broadcast sends every viewer of gameID its own view. It never blocks: a
// client whose buffer is full misses the update and catches up on the next.
func (h *Hub) Broadcast(gameID string, _ []event.Event, last *intent.LastAction) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	viewers := h.clients[gameID]
	if len(viewers) == 0 {
		return
	}
	snap, err := h.store.Snapshot(gameID)
	if err != nil {
		h.logger.Debug("broadcast for missing game", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	for c := range viewers {
		view := visibility.BuildView(snap.State, snap.Salt, c.viewer)
		data, err := json.Marshal(Message{Type: MessageView, View: &view, LastAction: last})
		if err != nil {
			h.logger.Error("encode view", zap.String("game_id", gameID), zap.Error(err))
			return
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping update for slow client",
				zap.String("game_id", gameID),
				zap.String("viewer", c.viewer),
			)
		}
	}
}

// Viewers counts connected clients of gameID.
func (h *Hub) Viewers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[gameID])
}

func (h *Hub) add(gameID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[gameID] == nil {
		h.clients[gameID] = map[*client]struct{}{}
	}
	h.clients[gameID][c] = struct{}{}
}

func (h *Hub) remove(gameID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[gameID], c)
	if len(h.clients[gameID]) == 0 {
		delete(h.clients, gameID)
	}
}

// ServeHTTP upgrades GET /ws?game=<id>&viewer=<playerId>.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game")
	viewer := r.URL.Query().Get("viewer")
	snap, err := h.store.Snapshot(gameID)
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	spectator := viewer == visibility.GodViewer
	if spectator && !h.cfg.AllowGodView {
		http.Error(w, "spectating is disabled", http.StatusForbidden)
		return
	}
	if _, seated := snap.State.Player(viewer); !seated && !spectator {
		http.Error(w, "viewer is not seated", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	logger := h.logger.With(zap.String("game_id", gameID), zap.String("viewer", viewer))
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{viewer: viewer, send: make(chan []byte, sendBuffer)}
	h.add(gameID, c)
	defer h.remove(gameID, c)
	logger.Info("viewer connected")

	initial := visibility.BuildView(snap.State, snap.Salt, viewer)
	if err := h.write(ctx, conn, Message{Type: MessageView, View: &initial}); err != nil {
		return
	}

	go h.writeLoop(ctx, cancel, conn, c)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				logger.Info("viewer disconnected")
			} else {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		var in rules.Intent
		if typ != websocket.MessageText || json.Unmarshal(data, &in) != nil {
			h.queue(c, Message{Type: MessageError, Reason: intent.ReasonMalformed})
			continue
		}
		if spectator {
			h.queue(c, Message{Type: MessageRejected, Reason: ReasonSpectator})
			continue
		}
		in.PlayerID = viewer
		res := h.submitter.Submit(ctx, gameID, in, h.Broadcast)
		if !res.Success {
			h.queue(c, Message{Type: MessageRejected, Reason: res.Reason})
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, done := context.WithTimeout(ctx, timeouts.WebsocketWrite)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			done()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	writeCtx, done := context.WithTimeout(ctx, timeouts.WebsocketWrite)
	defer done()
	return wsjson.Write(writeCtx, conn, msg)
}

// queue sends msg to one client only.
func (h *Hub) queue(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
