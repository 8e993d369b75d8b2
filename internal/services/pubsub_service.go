package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"lifeline/internal/models"

	"github.com/redis/go-redis/v9"
)

// Pub/sub channel layout. Session channels carry per-session fan-out;
// the monitoring channel carries metrics pushes to every instance.
const (
	sessionChannelPrefix = "session:"
	sessionChannelSuffix = ":events"
	monitoringChannel    = "broadcast:monitoring"
)

// SessionEventHandler receives a session event delivered by another
// instance.
type SessionEventHandler func(sessionID string, ev models.ServerEvent)

// MonitoringEventHandler receives a cross-instance monitoring push.
type MonitoringEventHandler func(ev models.ServerEvent)

// Envelope is the wire format on the fabric. The instance id suppresses
// loopback: an instance never re-delivers its own publishes.
type Envelope struct {
	SessionID  string             `json:"session_id,omitempty"`
	InstanceID string             `json:"instance_id"`
	Event      models.ServerEvent `json:"event"`
}

// PubSubService is the cross-instance fan-out fabric. A broadcast to a
// session reaches members attached to any process instance; delivery is
// at-least-once with no cross-instance ordering guarantee.
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc

	mu        sync.RWMutex
	onSession []SessionEventHandler
	onMonitor []MonitoringEventHandler
}

// NewPubSubService creates the fabric client for this instance.
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnSessionEvent registers a handler for session events from other
// instances.
func (s *PubSubService) OnSessionEvent(h SessionEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSession = append(s.onSession, h)
}

// OnMonitoringEvent registers a handler for cross-instance monitoring
// pushes.
func (s *PubSubService) OnMonitoringEvent(h MonitoringEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMonitor = append(s.onMonitor, h)
}

// Start subscribes to the fabric and begins processing messages.
func (s *PubSubService) Start() error {
	s.pubsub = s.redis.PSubscribe(s.ctx,
		sessionChannelPrefix+"*"+sessionChannelSuffix,
		monitoringChannel,
	)

	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	go s.processMessages()

	log.Printf("✅ [PUBSUB] Listening for cross-instance events (instance: %s)", s.instanceID)
	return nil
}

func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

func (s *PubSubService) handleMessage(msg *redis.Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal envelope: %v", err)
		return
	}

	// Skip our own publishes: local members already got the event directly.
	if env.InstanceID == s.instanceID {
		return
	}

	s.mu.RLock()
	sessionHandlers := s.onSession
	monitorHandlers := s.onMonitor
	s.mu.RUnlock()

	if msg.Channel == monitoringChannel {
		for _, h := range monitorHandlers {
			h(env.Event)
		}
		return
	}

	sessionID := sessionIDFromChannel(msg.Channel)
	if sessionID == "" {
		sessionID = env.SessionID
	}
	for _, h := range sessionHandlers {
		h(sessionID, env.Event)
	}
}

// PublishSession pushes a session event to every other instance.
func (s *PubSubService) PublishSession(ctx context.Context, sessionID string, ev models.ServerEvent) error {
	data, err := json.Marshal(Envelope{
		SessionID:  sessionID,
		InstanceID: s.instanceID,
		Event:      ev,
	})
	if err != nil {
		return err
	}
	return s.redis.Publish(ctx, sessionChannelPrefix+sessionID+sessionChannelSuffix, data)
}

// PublishMonitoring pushes a monitoring event to every instance.
func (s *PubSubService) PublishMonitoring(ctx context.Context, ev models.ServerEvent) error {
	data, err := json.Marshal(Envelope{
		InstanceID: s.instanceID,
		Event:      ev,
	})
	if err != nil {
		return err
	}
	return s.redis.Publish(ctx, monitoringChannel, data)
}

// Stop stops the pub/sub service.
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

func sessionIDFromChannel(channel string) string {
	if !strings.HasPrefix(channel, sessionChannelPrefix) || !strings.HasSuffix(channel, sessionChannelSuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(channel, sessionChannelPrefix), sessionChannelSuffix)
}
