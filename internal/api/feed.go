package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/repairnet/internal/listing"
	"github.com/sudo-init-do/repairnet/internal/metrics"
)

const writeWait = 5 * time.Second

type wsEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Feed pushes every published snapshot to connected websocket clients. Each
// client only ever receives versions newer than the last one it was sent.
type Feed struct {
	board  *listing.Board
	logger *logrus.Logger
	mu     sync.Mutex
	// clients maps each connection to the version it last received.
	clients map[*websocket.Conn]uint64
	cancel  func()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func NewFeed(board *listing.Board, logger *logrus.Logger) *Feed {
	f := &Feed{
		board:   board,
		logger:  logger,
		clients: make(map[*websocket.Conn]uint64),
	}
	f.cancel = board.Subscribe(f.publish)
	return f
}

func (f *Feed) publish(snap listing.Snapshot) {
	payload, err := json.Marshal(wsEvent{Type: "snapshot", Data: snap})
	if err != nil {
		f.logger.WithError(err).Error("encode snapshot event")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c, last := range f.clients {
		if snap.Version() <= last {
			continue
		}
		f.writeLocked(c, snap.Version(), payload)
	}
}

// writeLocked sends payload to c and drops it on failure. f.mu must be held.
func (f *Feed) writeLocked(c *websocket.Conn, version uint64, payload []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		f.logger.WithError(err).Debug("dropping feed client")
		f.removeLocked(c)
		return
	}
	f.clients[c] = version
}

func (f *Feed) removeLocked(c *websocket.Conn) {
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		_ = c.Close()
		metrics.FeedSubscribers.Dec()
	}
}

// register adds c and sends it the current snapshot so late joiners start
// from the same view as everyone else.
func (f *Feed) register(c *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.board.Snapshot()
	f.clients[c] = 0
	metrics.FeedSubscribers.Inc()
	payload, err := json.Marshal(wsEvent{Type: "snapshot", Data: snap})
	if err != nil {
		f.logger.WithError(err).Error("encode snapshot event")
		return
	}
	f.writeLocked(c, snap.Version(), payload)
}

func (f *Feed) unregister(c *websocket.Conn) {
	f.mu.Lock()
	f.removeLocked(c)
	f.mu.Unlock()
}

// Len reports the number of connected clients.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close detaches from the board and disconnects every client.
func (f *Feed) Close() {
	f.cancel()
	f.mu.Lock()
	for c := range f.clients {
		f.removeLocked(c)
	}
	f.mu.Unlock()
}

// Serve upgrades the request and streams snapshot events until the client
// goes away. Client messages are discarded.
func (f *Feed) Serve(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	f.register(ws)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			f.unregister(ws)
			return nil
		}
	}
}
