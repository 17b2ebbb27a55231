package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/timeline"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	sendBuffer   = 16
	maxInboundSz = 1024
)

// InputHandler receives interactions reported by browser overlays
type InputHandler interface {
	HandleClick(count int)
	HandleHover(inside bool)
	HandleControl(cmd domain.TransportCommand)
}

type trackFrame struct {
	Type string `json:"type"`
	Snapshot
}

type progressFrame struct {
	Type     string `json:"type"`
	Position string `json:"position"`
	Duration string `json:"duration"`
	Known    bool   `json:"known"`
}

type visibilityFrame struct {
	Type     string                `json:"type"`
	Mode     domain.VisibilityMode `json:"mode"`
	Visible  bool                  `json:"visible"`
	Expanded bool                  `json:"expanded"`
	Pinned   bool                  `json:"pinned"`
	Hovered  bool                  `json:"hovered"`
}

// inbound is a message sent by an overlay
type inbound struct {
	Type    string `json:"type"`
	Count   int    `json:"count"`
	Inside  bool   `json:"inside"`
	Command string `json:"command"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub serves the export folder and a websocket feed to browser-source overlays.
// It implements domain.Renderer and domain.Exporter.
type Hub struct {
	logger   *zap.Logger
	addr     string
	dir      string
	clock    clockwork.Clock
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*hubClient]struct{}
	track      []byte
	visibility []byte
	input      InputHandler

	server *http.Server
	wg     sync.WaitGroup
}

// NewHub creates a hub listening on the configured websocket address.
// An empty address disables the listener; the hub still accepts renders.
func NewHub(logger *zap.Logger, cfg domain.Config, clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &Hub{
		logger:  logger,
		addr:    cfg.GetWebsocketAddr(),
		dir:     filepath.Join(cfg.GetExportDir(), "obs"),
		clock:   clock,
		clients: make(map[*hubClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.track = h.encode(trackFrame{Type: "track", Snapshot: NewSnapshot(domain.ClearedState(), clock.Now(), false)})
	h.visibility = h.encode(newVisibilityFrame(domain.VisibilityState{}))
	return h
}

// SetInputHandler installs the receiver for overlay interactions
func (h *Hub) SetInputHandler(in InputHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.input = in
}

// Handler returns the HTTP handler serving /ws and the export folder
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.Handle("/", http.FileServer(http.Dir(h.dir)))
	return mux
}

// Start begins listening when an address is configured. It returns immediately.
func (h *Hub) Start(ctx context.Context) error {
	if h.addr == "" {
		h.logger.Info("Overlay hub disabled (no websocket address)")
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	h.logger.Info("Overlay hub listening", zap.String("url", "http://"+ln.Addr().String()))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Overlay hub stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the listener down and disconnects every overlay
func (h *Hub) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	err := h.server.Shutdown(ctx)

	h.mu.Lock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info("Overlay hub shutdown complete")
	return err
}

// Export broadcasts the accepted state
func (h *Hub) Export(s domain.MediaState) {
	h.RenderTrack(s)
}

// RenderTrack broadcasts a track snapshot
func (h *Hub) RenderTrack(s domain.MediaState) {
	msg := h.encode(trackFrame{Type: "track", Snapshot: NewSnapshot(s, h.clock.Now(), len(s.CoverArt) > 0)})
	h.mu.Lock()
	h.track = msg
	h.mu.Unlock()
	h.broadcast(msg)
}

// RenderProgress broadcasts a progress tick
func (h *Hub) RenderProgress(position, duration time.Duration, known bool) {
	h.broadcast(h.encode(progressFrame{
		Type:     "progress",
		Position: timeline.Format(position, known),
		Duration: timeline.Format(duration, known),
		Known:    known,
	}))
}

// RenderVisibility broadcasts an overlay visibility change
func (h *Hub) RenderVisibility(v domain.VisibilityState) {
	msg := h.encode(newVisibilityFrame(v))
	h.mu.Lock()
	h.visibility = msg
	h.mu.Unlock()
	h.broadcast(msg)
}

func newVisibilityFrame(v domain.VisibilityState) visibilityFrame {
	return visibilityFrame{
		Type:     "visibility",
		Mode:     v.Mode(),
		Visible:  v.Visible,
		Expanded: v.Expanded,
		Pinned:   v.Pinned,
		Hovered:  v.Hovered,
	}
}

func (h *Hub) encode(frame any) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Warn("Failed to encode hub frame", zap.Error(err))
		return nil
	}
	return data
}

// broadcast queues msg for every client; slow clients miss frames instead of blocking
func (h *Hub) broadcast(msg []byte) {
	if msg == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("Overlay client too slow, dropping frame")
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// OBS browser sources and file:// pages send no origin
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		h.logger.Debug("Invalid origin", zap.String("origin", origin), zap.Error(err))
		return false
	}
	if originURL.Host == r.Host {
		return true
	}
	if strings.HasPrefix(originURL.Host, "localhost:") || strings.HasPrefix(originURL.Host, "127.0.0.1:") {
		return true
	}

	h.logger.Debug("Rejected websocket origin", zap.String("origin", origin))
	return false
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Upgrade error", zap.Error(err))
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	// Late joiners get the current state first
	c.send <- h.track
	c.send <- h.visibility
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("Overlay connected", zap.Int("clients", total))

	h.wg.Add(1)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) removeClient(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSz)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in inbound
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Overlay read error", zap.Error(err))
			}
			return
		}
		h.dispatch(in)
	}
}

func (h *Hub) writePump(c *hubClient) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(in inbound) {
	h.mu.RLock()
	handler := h.input
	h.mu.RUnlock()
	if handler == nil {
		return
	}

	switch in.Type {
	case "click":
		if in.Count > 0 {
			handler.HandleClick(in.Count)
		}
	case "hover":
		handler.HandleHover(in.Inside)
	case "control":
		cmd := domain.TransportCommand(in.Command)
		if !cmd.Valid() {
			h.logger.Debug("Ignoring unknown control command", zap.String("command", in.Command))
			return
		}
		handler.HandleControl(cmd)
	default:
		h.logger.Debug("Ignoring unknown overlay message", zap.String("type", in.Type))
	}
}
