package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

// ErrClosed is returned by Send after the connection ended.
var ErrClosed = errors.New("relay: connection closed")

// ClientConfig configures a relay client.
type ClientConfig struct {
	// URL is the relay base URL, e.g. ws://relay.example:7480.
	URL  string
	Room string
	ID   domain.PeerID

	// UserAgent is sent with the upgrade request when set.
	UserAgent string

	WriteTimeout time.Duration
	InboxSize    int

	Dialer *websocket.Dialer
	Logger logger.Logger
}

// Client is a transport.Channel and transport.MembershipSource connected
// to one relay room.
type Client struct {
	cfg   ClientConfig
	conn  *websocket.Conn
	inbox *transport.Inbox
	log   logger.Logger

	writeMu sync.Mutex

	mu    sync.RWMutex
	peers map[domain.PeerID]struct{}

	done chan struct{}
	err  error
}

var (
	_ transport.Channel          = (*Client)(nil)
	_ transport.MembershipSource = (*Client)(nil)
)

// RoomURL builds the websocket URL of a room.
func RoomURL(base, room string, id domain.PeerID) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("relay: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rooms/" + url.PathEscape(room)
	u.RawQuery = url.Values{"peer": {string(id)}}.Encode()
	return u.String(), nil
}

// ListRooms fetches the room listing of a relay. base may use an http or
// ws scheme.
func ListRooms(ctx context.Context, client *http.Client, base string) ([]RoomStatus, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("relay: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("relay: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rooms"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: list rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay: list rooms: status %d", resp.StatusCode)
	}

	var rooms []RoomStatus
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("relay: decode rooms: %w", err)
	}
	return rooms, nil
}

// Dial connects to a relay room.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.ID == "" || len(cfg.ID) > MaxIDLength {
		return nil, domain.ErrInvalidConfig.WithDetails("relay: invalid peer id")
	}
	if cfg.Room == "" {
		return nil, domain.ErrInvalidConfig.WithDetails("relay: room is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	target, err := RoomURL(cfg.URL, cfg.Room, cfg.ID)
	if err != nil {
		return nil, err
	}
	var header http.Header
	if cfg.UserAgent != "" {
		header = http.Header{"User-Agent": {cfg.UserAgent}}
	}
	conn, resp, err := cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay: dial %s: %s: %w", cfg.Room, resp.Status, err)
		}
		return nil, fmt.Errorf("relay: dial %s: %w", cfg.Room, err)
	}

	c := &Client{
		cfg:   cfg,
		conn:  conn,
		inbox: transport.NewInbox(cfg.InboxSize),
		log:   cfg.Logger.With("component", "relay_client", "room", cfg.Room, "peer_id", string(cfg.ID)),
		peers: make(map[domain.PeerID]struct{}),
		done:  make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(cfg.WriteTimeout))
	})
	go c.readLoop()

	c.log.Info("connected to relay", "url", cfg.URL)
	return c, nil
}

// LocalID implements transport.Channel.
func (c *Client) LocalID() domain.PeerID {
	return c.cfg.ID
}

// Send implements transport.Channel.
func (c *Client) Send(to domain.PeerID, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(frameData, to, data))
}

// Receive implements transport.Channel.
func (c *Client) Receive() []transport.Packet {
	return c.inbox.Drain()
}

// Peers implements transport.Channel.
func (c *Client) Peers() []domain.PeerID {
	c.mu.RLock()
	ids := make([]domain.PeerID, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	domain.SortPeerIDs(ids)
	return ids
}

// MembershipEvents implements transport.MembershipSource.
func (c *Client) MembershipEvents() []transport.MembershipEvent {
	return c.inbox.DrainEvents()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, once Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close ends the connection with a normal closure.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			c.log.Info("relay connection ended", "error", err)
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		kind, peer, payload, ok := decodeFrame(msg)
		if !ok {
			continue
		}

		switch kind {
		case frameData:
			c.inbox.Push(transport.Packet{From: peer, Data: payload})
		case frameJoined:
			c.mu.Lock()
			c.peers[peer] = struct{}{}
			c.mu.Unlock()
			c.inbox.PushEvent(transport.MembershipEvent{Peer: peer, Joined: true})
		case frameLeft:
			c.mu.Lock()
			delete(c.peers, peer)
			c.mu.Unlock()
			c.inbox.PushEvent(transport.MembershipEvent{Peer: peer})
		}
	}
}
