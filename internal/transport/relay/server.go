package relay

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
)

// Server defaults.
const (
	DefaultFrameRate      = 240
	DefaultFrameBurst     = 480
	DefaultMaxFrameSize   = 64 << 10
	DefaultSendQueue      = 256
	DefaultPingInterval   = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultMaxRoomMembers = 16
)

// Drop reasons reported to metrics.
const (
	dropRateLimited = "rate_limited"
	dropUnknownPeer = "unknown_peer"
	dropQueueFull   = "queue_full"
	dropMalformed   = "malformed"
)

// ServerConfig configures the relay.
type ServerConfig struct {
	// FrameRate and FrameBurst bound inbound frames per connection.
	// Frames beyond the limit are dropped.
	FrameRate  float64
	FrameBurst int

	MaxFrameSize   int64
	SendQueue      int
	MaxRoomMembers int

	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// CheckOrigin validates the upgrade request origin. Nil accepts any
	// origin; peers are not browsers.
	CheckOrigin func(r *http.Request) bool

	Logger  logger.Logger
	Metrics *metric.Registry
}

func (c *ServerConfig) applyDefaults() {
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = DefaultFrameBurst
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.MaxRoomMembers <= 0 {
		c.MaxRoomMembers = DefaultMaxRoomMembers
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metric.NewNop()
	}
}

// Server forwards frames between members of a room.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	log      logger.Logger

	mu    sync.Mutex
	rooms map[string]map[domain.PeerID]*member
}

type member struct {
	id      domain.PeerID
	room    string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	done    chan struct{}
	once    sync.Once
}

func (m *member) close() {
	m.once.Do(func() { close(m.done) })
}

// NewServer creates a relay.
func NewServer(cfg ServerConfig) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		log:   cfg.Logger.With("component", "relay"),
		rooms: make(map[string]map[domain.PeerID]*member),
	}
}

// Handler returns the relay routes:
//
//	GET /healthz
//	GET /rooms                    room occupancy as JSON
//	GET /rooms/{room}?peer=<id>   websocket upgrade
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/rooms", s.listRooms)
	r.Get("/rooms/{room}", s.serveRoom)
	return r
}

// RoomStatus is one entry of the room listing.
type RoomStatus struct {
	Room    string `json:"room" yaml:"room"`
	Members int    `json:"members" yaml:"members"`
}

func (s *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := s.Rooms()
	list := make([]RoomStatus, 0, len(rooms))
	for name, n := range rooms {
		list = append(list, RoomStatus{Room: name, Members: n})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Room < list[j].Room })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		s.log.Debug("encode room list", "error", err)
	}
}

// Rooms returns the member count of each room.
func (s *Server) Rooms() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.rooms))
	for name, members := range s.rooms {
		out[name] = len(members)
	}
	return out
}

func (s *Server) serveRoom(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	id := domain.PeerID(r.URL.Query().Get("peer"))
	if room == "" || id == "" || len(id) > MaxIDLength {
		http.Error(w, "room and peer are required", http.StatusBadRequest)
		return
	}

	if status := s.admissible(room, id); status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "room", room, "peer", string(id), "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameSize)

	m := &member{
		id:      id,
		room:    room,
		conn:    conn,
		send:    make(chan []byte, s.cfg.SendQueue),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.FrameRate), s.cfg.FrameBurst),
		done:    make(chan struct{}),
	}
	if !s.add(m) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "peer id taken"),
			time.Now().Add(s.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	go s.writeLoop(m)
	s.readLoop(m)
}

func (s *Server) admissible(room string, id domain.PeerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.rooms[room]
	if _, taken := members[id]; taken {
		return http.StatusConflict
	}
	if len(members) >= s.cfg.MaxRoomMembers {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// add registers m and exchanges join frames with the current members.
func (s *Server) add(m *member) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[m.room]
	if members == nil {
		members = make(map[domain.PeerID]*member)
		s.rooms[m.room] = members
	}
	if _, taken := members[m.id]; taken {
		return false
	}
	for _, other := range members {
		s.enqueue(other, encodeFrame(frameJoined, m.id, nil))
		s.enqueue(m, encodeFrame(frameJoined, other.id, nil))
	}
	members[m.id] = m

	s.cfg.Metrics.RelayConnections.Inc()
	s.log.Info("peer connected", "room", m.room, "peer", string(m.id), "members", len(members))
	return true
}

func (s *Server) remove(m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[m.room]
	if members[m.id] != m {
		return
	}
	delete(members, m.id)
	if len(members) == 0 {
		delete(s.rooms, m.room)
	}
	for _, other := range members {
		s.enqueue(other, encodeFrame(frameLeft, m.id, nil))
	}

	s.cfg.Metrics.RelayConnections.Dec()
	s.log.Info("peer disconnected", "room", m.room, "peer", string(m.id))
}

// enqueue never blocks; a full queue drops the frame. Caller holds s.mu.
func (s *Server) enqueue(m *member, frame []byte) bool {
	select {
	case m.send <- frame:
		return true
	default:
		s.cfg.Metrics.RecordRelayDropped(dropQueueFull)
		return false
	}
}

func (s *Server) forward(from *member, to domain.PeerID, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest, ok := s.rooms[from.room][to]
	if !ok {
		s.cfg.Metrics.RecordRelayDropped(dropUnknownPeer)
		return
	}
	if s.enqueue(dest, encodeFrame(frameData, from.id, payload)) {
		s.cfg.Metrics.RecordRelayFrame("out")
	}
}

func (s *Server) readLoop(m *member) {
	defer func() {
		s.remove(m)
		m.close()
		_ = m.conn.Close()
	}()

	_ = m.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		typ, msg, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Warn("read error", "peer", string(m.id), "error", err)
			}
			return
		}
		_ = m.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.cfg.Metrics.RecordRelayFrame("in")

		if !m.limiter.Allow() {
			s.cfg.Metrics.RecordRelayDropped(dropRateLimited)
			continue
		}
		if typ != websocket.BinaryMessage {
			s.cfg.Metrics.RecordRelayDropped(dropMalformed)
			continue
		}
		kind, to, payload, ok := decodeFrame(msg)
		if !ok || kind != frameData {
			s.cfg.Metrics.RecordRelayDropped(dropMalformed)
			continue
		}
		s.forward(m, to, payload)
	}
}

func (s *Server) writeLoop(m *member) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-m.send:
			_ = m.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := m.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.log.Debug("write failed", "peer", string(m.id), "error", err)
				_ = m.conn.Close()
				return
			}
		case <-ticker.C:
			if err := m.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				_ = m.conn.Close()
				return
			}
		case <-m.done:
			return
		}
	}
}

// Close disconnects every member with a going-away close frame.
func (s *Server) Close() {
	s.mu.Lock()
	var all []*member
	for _, members := range s.rooms {
		for _, m := range members {
			all = append(all, m)
		}
	}
	s.mu.Unlock()

	for _, m := range all {
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(s.cfg.WriteTimeout))
		_ = m.conn.Close()
	}
}
