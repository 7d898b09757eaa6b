// Package dashboard pushes the aggregated state to live viewers over websockets.
package dashboard

import (
	"errors"
	"net/http"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/services/aggregator"
	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
	"github.com/LeonardoBeccarini/uadashboard/pkg/metrics"
)

// Server to viewer message types, plus the one viewer to server command.
const (
	TypeAnnounce = "addDatasetToChart"
	TypeRow      = "addDataToChart"
	TypeTable    = "addTable"
	TypeReset    = "reset"
)

// Message is the JSON frame exchanged with viewers.
type Message struct {
	Type      string                `json:"type"`
	Name      string                `json:"name,omitempty"`
	Timestamp string                `json:"timestamp,omitempty"`
	Values    []string              `json:"values,omitempty"`
	Rows      []aggregator.TableRow `json:"rows,omitempty"`
}

type HubConfig struct {
	SendQueue       int           `mapstructure:"send_queue"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerOpen     time.Duration `mapstructure:"breaker_open"`
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendQueue:       256,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		ReadTimeout:     90 * time.Second,
		BreakerFailures: 3,
		BreakerOpen:     30 * time.Second,
	}
}

// Hub fans the scheduler output out to every connected viewer. It implements
// aggregator.PushChannel and never blocks the caller on a slow viewer.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	log      *zap.Logger

	onConnect func()
	onReset   func()

	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type viewer struct {
	conn      *websocket.Conn
	send      chan []byte
	cb        *gobreaker.CircuitBreaker
	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(cfg HubConfig, log *zap.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = def.BreakerOpen
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log:     logger.OrNamed(log, "hub"),
		viewers: make(map[*viewer]struct{}),
	}
}

// OnConnect registers a callback run for every new viewer.
func (h *Hub) OnConnect(fn func()) { h.onConnect = fn }

// OnReset registers a callback run when a viewer asks for a reset.
func (h *Hub) OnReset(fn func()) { h.onReset = fn }

func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) AnnounceColumn(name string) {
	h.broadcast(Message{Type: TypeAnnounce, Name: name})
}

func (h *Hub) PushRow(timestamp string, values []string) {
	h.broadcast(Message{Type: TypeRow, Timestamp: timestamp, Values: values})
}

func (h *Hub) PushTable(rows []aggregator.TableRow) {
	h.broadcast(Message{Type: TypeTable, Rows: rows})
}

func (h *Hub) broadcast(msg Message) {
	b, err := gojson.Marshal(msg)
	if err != nil {
		h.log.Error("encode viewer message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers {
		select {
		case v.send <- b:
		default:
			metrics.ViewerDrops.WithLabelValues("queue_full").Inc()
		}
	}
}

// ServeHTTP upgrades the request and serves one viewer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	v := &viewer{
		conn: conn,
		send: make(chan []byte, h.cfg.SendQueue),
		done: make(chan struct{}),
	}
	v.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "viewer " + conn.RemoteAddr().String(),
		Timeout: h.cfg.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= h.cfg.BreakerFailures
		},
	})

	if !h.add(v) {
		_ = conn.Close()
		return
	}
	h.log.Info("viewer connected", zap.String("remote", conn.RemoteAddr().String()))
	if h.onConnect != nil {
		h.onConnect()
	}

	h.wg.Add(1)
	go h.writeLoop(v)
	h.readLoop(v)
}

func (h *Hub) add(v *viewer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.viewers[v] = struct{}{}
	metrics.Viewers.Set(float64(len(h.viewers)))
	return true
}

func (h *Hub) remove(v *viewer, reason string) {
	v.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.viewers, v)
		n := len(h.viewers)
		h.mu.Unlock()

		metrics.Viewers.Set(float64(n))
		close(v.done)
		_ = v.conn.Close()
		h.log.Info("viewer disconnected",
			zap.String("remote", v.conn.RemoteAddr().String()),
			zap.String("reason", reason))
	})
}

func (h *Hub) readLoop(v *viewer) {
	defer h.remove(v, "closed")

	_ = v.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = v.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var msg Message
		if err := gojson.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypeReset && h.onReset != nil {
			h.log.Info("reset requested by viewer", zap.String("remote", v.conn.RemoteAddr().String()))
			h.onReset()
		}
	}
}

func (h *Hub) writeLoop(v *viewer) {
	defer h.wg.Done()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case <-v.done:
			return
		case data = <-v.send:
			kind = websocket.TextMessage
		case <-ping.C:
			kind = websocket.PingMessage
		}

		_, err := v.cb.Execute(func() (interface{}, error) {
			_ = v.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			return nil, v.conn.WriteMessage(kind, data)
		})
		if err == nil {
			continue
		}
		if errors.Is(err, gobreaker.ErrOpenState) || v.cb.State() == gobreaker.StateOpen {
			metrics.ViewerDrops.WithLabelValues("breaker_open").Inc()
			h.remove(v, "breaker open")
			return
		}
		metrics.ViewerDrops.WithLabelValues("write_error").Inc()
	}
}

// Close disconnects every viewer and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	viewers := make([]*viewer, 0, len(h.viewers))
	for v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	for _, v := range viewers {
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		h.remove(v, "shutdown")
	}
	h.wg.Wait()
}
