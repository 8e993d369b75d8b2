// Package client is a reconnect-aware facade over the crisis websocket
// protocol. It keeps the session id across reconnects so a dropped network
// link rejoins the same session instead of opening a new one.
package client

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"lifeline/internal/models"

	"github.com/gorilla/websocket"
)

// ErrAuthenticationFailed indicates the connection was rejected due to auth issues
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrNotConnected indicates an event was sent before a connection existed
var ErrNotConnected = errors.New("not connected")

// Client manages the WebSocket connection to a crisis server
type Client struct {
	serverURL      string
	authToken      string
	sessionID      string // survives reconnects
	conn           *websocket.Conn
	writeChan      chan models.ClientEvent
	stopChan       chan struct{}
	writeWg        sync.WaitGroup
	reconnectDelay time.Duration
	maxReconnect   time.Duration
	connected      bool
	closed         bool
	mutex          sync.RWMutex

	onMatch      func(models.ServerEvent)
	onMessage    func(models.ServerEvent)
	onEscalated  func(models.ServerEvent)
	onEnded      func(models.ServerEvent)
	onUrgent     func(models.ServerEvent)
	onMetrics    func(models.ServerEvent)
	onDisconnect func()
	verbose      bool
}

// New creates a new crisis client
func New(serverURL, authToken string, verbose bool) *Client {
	return &Client{
		serverURL:      serverURL,
		authToken:      authToken,
		writeChan:      make(chan models.ClientEvent, 100),
		stopChan:       make(chan struct{}),
		reconnectDelay: 1 * time.Second,
		maxReconnect:   60 * time.Second,
		verbose:        verbose,
	}
}

// SetMatchHandler sets the callback for crisis:match events
func (c *Client) SetMatchHandler(handler func(models.ServerEvent)) { c.onMatch = handler }

// SetMessageHandler sets the callback for relayed crisis messages
func (c *Client) SetMessageHandler(handler func(models.ServerEvent)) { c.onMessage = handler }

// SetEscalatedHandler sets the callback for crisis:escalated events
func (c *Client) SetEscalatedHandler(handler func(models.ServerEvent)) { c.onEscalated = handler }

// SetEndedHandler sets the callback for crisis:ended events
func (c *Client) SetEndedHandler(handler func(models.ServerEvent)) { c.onEnded = handler }

// SetUrgentHandler sets the callback for crisis:urgent events carrying the
// emergency bypass payload
func (c *Client) SetUrgentHandler(handler func(models.ServerEvent)) { c.onUrgent = handler }

// SetMetricsHandler sets the callback for metrics:update events
func (c *Client) SetMetricsHandler(handler func(models.ServerEvent)) { c.onMetrics = handler }

// SetDisconnectHandler sets the callback for when the connection is lost
// (called before the reconnect attempt)
func (c *Client) SetDisconnectHandler(handler func()) { c.onDisconnect = handler }

// SessionID returns the session id carried across reconnects
func (c *Client) SessionID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.sessionID
}

// Connect establishes the WebSocket connection. A remembered session id is
// sent with the handshake so the server rejoins the existing session.
func (c *Client) Connect() error {
	c.mutex.RLock()
	q := url.Values{}
	q.Set("token", c.authToken)
	if c.sessionID != "" {
		q.Set("session_id", c.sessionID)
	}
	target := fmt.Sprintf("%s?%s", c.serverURL, q.Encode())
	c.mutex.RUnlock()

	if c.verbose {
		log.Printf("[Client] Connecting to %s", c.serverURL)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		if strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mutex.Lock()
	c.conn = conn
	c.connected = true
	c.reconnectDelay = 1 * time.Second // Reset reconnect delay on successful connection
	c.mutex.Unlock()

	log.Println("✅ Connected to crisis server")

	c.writeWg.Add(1)
	go c.readLoop(conn)
	go c.writeLoop(conn)

	return nil
}

// ConnectWithRetry connects with automatic retry and exponential backoff.
// Auth failures stop the retry loop; everything else keeps trying.
func (c *Client) ConnectWithRetry() error {
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return ErrNotConnected
		default:
		}

		err := c.Connect()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			return err
		}

		attempt++
		log.Printf("❌ Connection failed (attempt %d): %v", attempt, err)
		log.Printf("🔄 Retrying in %v...", c.reconnectDelay)

		time.Sleep(c.reconnectDelay)

		c.reconnectDelay = time.Duration(math.Min(
			float64(c.reconnectDelay*2),
			float64(c.maxReconnect),
		))
	}
}

// readLoop handles incoming events
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.handleDisconnect()

	for {
		var ev models.ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if c.verbose {
				log.Printf("[Client] Read error: %v", err)
			}
			return
		}
		c.handleEvent(ev)
	}
}

// writeLoop handles outgoing events and periodic pings
func (c *Client) writeLoop(conn *websocket.Conn) {
	defer c.writeWg.Done()

	pingTicker := time.NewTicker(45 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case ev := <-c.writeChan:
			if err := conn.WriteJSON(ev); err != nil {
				if c.verbose {
					log.Printf("[Client] Write error: %v", err)
				}
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// handleEvent dispatches a server event to the registered callbacks
func (c *Client) handleEvent(ev models.ServerEvent) {
	switch ev.Type {
	case models.EventConnected:
		// nothing to do; session id (if any) was carried in the handshake
	case models.EventCrisisMatch:
		if ev.SessionID != "" {
			c.mutex.Lock()
			c.sessionID = ev.SessionID
			c.mutex.Unlock()
		}
		if c.onMatch != nil {
			c.onMatch(ev)
		}
	case models.EventCrisisMessage, models.EventVolunteerJoined, models.EventProfessionalJoined,
		models.EventLocationUpdated, models.EventParticipantDisconnected:
		if c.onMessage != nil {
			c.onMessage(ev)
		}
	case models.EventCrisisEscalated, models.EventEmergencyNotified, models.EventTransferFailed:
		if c.onEscalated != nil {
			c.onEscalated(ev)
		}
	case models.EventCrisisEnded:
		c.mutex.Lock()
		c.sessionID = ""
		c.mutex.Unlock()
		if c.onEnded != nil {
			c.onEnded(ev)
		}
	case models.EventCrisisUrgent:
		if c.onUrgent != nil {
			c.onUrgent(ev)
		}
	case models.EventMetricsUpdate:
		if c.onMetrics != nil {
			c.onMetrics(ev)
		}
	default:
		if c.verbose {
			log.Printf("[Client] Unhandled event type: %s", ev.Type)
		}
	}
}

// handleDisconnect tears down the current connection and reconnects with the
// remembered session id, unless Close was called.
func (c *Client) handleDisconnect() {
	c.mutex.Lock()
	wasConnected := c.connected
	c.connected = false
	closed := c.closed
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mutex.Unlock()

	if !wasConnected || closed {
		return
	}

	if c.onDisconnect != nil {
		c.onDisconnect()
	}

	log.Println("🔄 Connection lost, reconnecting...")
	go c.ConnectWithRetry()
}

// send queues an event, preferring drop over block when the queue is full
func (c *Client) send(ev models.ClientEvent) error {
	c.mutex.RLock()
	connected := c.connected
	if ev.SessionID == "" {
		ev.SessionID = c.sessionID
	}
	c.mutex.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	select {
	case c.writeChan <- ev:
		return nil
	default:
		return errors.New("outbound queue full")
	}
}

// StartSession asks for a crisis session at the given severity
func (c *Client) StartSession(severity int, languages, specializations []string) error {
	return c.send(models.ClientEvent{
		Type:            models.EventCrisisStart,
		Severity:        severity,
		Languages:       languages,
		Specializations: specializations,
	})
}

// SendMessage relays a chat message into the current session
func (c *Client) SendMessage(content string) error {
	return c.send(models.ClientEvent{
		Type:    models.EventCrisisMessage,
		Content: content,
	})
}

// Escalate raises the session severity by the given amount
func (c *Client) Escalate(severityIncrease int, reason string) error {
	return c.send(models.ClientEvent{
		Type:             models.EventCrisisEscalate,
		SeverityIncrease: severityIncrease,
		Reason:           reason,
	})
}

// NotifyEmergency explicitly requests the emergency services handoff
func (c *Client) NotifyEmergency() error {
	return c.send(models.ClientEvent{Type: models.EventEmergencyNotify})
}

// SendLocation reports the participant's position for emergency dispatch
func (c *Client) SendLocation(loc models.GeoLocation, device string) error {
	return c.send(models.ClientEvent{
		Type:     models.EventEmergencyLocation,
		Location: &loc,
		Device:   device,
	})
}

// EndSession closes the current session with an outcome
func (c *Client) EndSession(outcome models.SessionOutcome) error {
	return c.send(models.ClientEvent{
		Type:    models.EventCrisisEnd,
		Outcome: outcome,
	})
}

// Close shuts the client down without reconnecting
func (c *Client) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mutex.Unlock()

	close(c.stopChan)
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		conn.Close()
	}
	c.writeWg.Wait()
}
