package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Role identifies what kind of participant owns a connection.
type Role string

const (
	RoleUser             Role = "user"
	RoleVolunteer        Role = "volunteer"
	RoleProfessional     Role = "professional"
	RoleEmergencyContact Role = "emergency_contact"
)

// GeoLocation is an optional participant location, forwarded to emergency
// dispatch on escalation. Never logged.
type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Connection represents one live participant channel. Owned exclusively by
// the registry for its lifetime: created on admission, mutated through
// registry methods on inbound events, destroyed on disconnect or session end.
type Connection struct {
	ConnID       string
	SessionID    string
	Role         Role
	Severity     int // 0-10 crisis severity carried by this participant
	Emergency    bool
	ConnectedAt  time.Time
	LastActivity time.Time
	Location     *GeoLocation
	Device       string

	Conn      *websocket.Conn
	WriteChan chan ServerEvent
	StopChan  chan struct{}

	Mutex  sync.Mutex
	closed bool
}

// SafeSend queues an event for delivery, returning false if the connection
// has already been torn down. Recovers the send-on-closed-channel panic that
// a disconnect racing a broadcast can produce.
func (c *Connection) SafeSend(ev ServerEvent) (ok bool) {
	c.Mutex.Lock()
	if c.closed {
		c.Mutex.Unlock()
		return false
	}
	c.Mutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.MarkClosed()
			ok = false
		}
	}()

	c.WriteChan <- ev
	return true
}

// Ping writes a websocket ping control frame. Used by the health loop as a
// liveness probe; a failed write is left for the transport's own timeout to
// act on.
func (c *Connection) Ping(deadline time.Duration) error {
	c.Mutex.Lock()
	defer c.Mutex.Unlock()
	if c.closed || c.Conn == nil {
		return nil
	}
	return c.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(deadline))
}

// MarkClosed flags the connection so in-flight broadcasts stop targeting it.
func (c *Connection) MarkClosed() {
	c.Mutex.Lock()
	c.closed = true
	c.Mutex.Unlock()
}

// IsClosed reports whether the connection has been marked closed.
func (c *Connection) IsClosed() bool {
	c.Mutex.Lock()
	defer c.Mutex.Unlock()
	return c.closed
}
