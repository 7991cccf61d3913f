package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/metrics"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeProfileUpdate     = "profile_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Channel prefixes clients may subscribe to
const (
	leaderboardChannelPrefix = "leaderboard:"
	userChannelPrefix        = "user:"
)

// LeaderboardChannel names the channel carrying rank changes for a period
func LeaderboardChannel(period domain.Period) string {
	return leaderboardChannelPrefix + string(period)
}

// UserChannel names the channel carrying one user's profile changes
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

func validChannel(channel string) bool {
	if rest, ok := strings.CutPrefix(channel, leaderboardChannelPrefix); ok {
		return domain.Period(rest).Valid()
	}
	rest, ok := strings.CutPrefix(channel, userChannelPrefix)
	return ok && rest != ""
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RankUpdate is broadcast on a leaderboard channel when a user moves
type RankUpdate struct {
	Period       domain.Period           `json:"period"`
	Entry        domain.LeaderboardEntry `json:"entry"`
	PreviousRank int64                   `json:"previous_rank"`
}

// ProfileUpdate is broadcast on a user channel after a committed change
type ProfileUpdate struct {
	UserID        string        `json:"user_id"`
	PointsAwarded int64         `json:"points_awarded"`
	TotalPoints   int64         `json:"total_points"`
	Level         domain.Level  `json:"level"`
	LeveledUp     bool          `json:"leveled_up"`
	NewBadges     []string      `json:"new_badges"`
	Streak        domain.Streak `json:"streak"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by channel
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	channel string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			metrics.WebsocketConnections.Inc()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for channel, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, channel)
						}
					}
				}
				close(client.send)
				metrics.WebsocketConnections.Dec()
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.channel]; !ok {
					h.clients[req.channel] = make(map[*Client]bool)
				}
				h.clients[req.channel][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "channel", req.channel)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.channel]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.channel)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "channel", req.channel)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its channel
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.clients[message.Channel]
	if !ok {
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}
	for client := range clients {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "channel", message.Channel)
	}
}

// PublishProfile notifies a user's channel of a committed change
func (h *Hub) PublishProfile(p *domain.Profile, result *domain.RecordResult) {
	h.enqueue(&Message{
		Type:    MessageTypeProfileUpdate,
		Channel: UserChannel(p.UserID),
		Data: ProfileUpdate{
			UserID:        p.UserID,
			PointsAwarded: result.PointsAwarded,
			TotalPoints:   p.Points,
			Level:         p.Level,
			LeveledUp:     result.LeveledUp,
			NewBadges:     result.NewBadges,
			Streak:        p.Streak,
		},
		Timestamp: time.Now(),
	})
}

// PublishRanks notifies each period's channel of a user's new position
func (h *Hub) PublishRanks(entry domain.LeaderboardEntry, ranks map[domain.Period]domain.RankChange) {
	for period, change := range ranks {
		e := entry
		e.Points = change.Points
		e.Rank = change.NewRank
		e.RankDelta = change.RankDelta
		h.enqueue(&Message{
			Type:    MessageTypeLeaderboardUpdate,
			Channel: LeaderboardChannel(period),
			Data: RankUpdate{
				Period:       period,
				Entry:        e,
				PreviousRank: change.PreviousRank,
			},
			Timestamp: time.Now(),
		})
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a channel
func (h *Hub) Subscribe(client *Client, channel string) {
	h.subscribe <- &subscriptionRequest{client: client, channel: channel}
}

// Unsubscribe removes a client from a channel
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.unsubscribe <- &subscriptionRequest{client: client, channel: channel}
}

// Stats is a snapshot of connections and per-channel subscribers
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	Channels         map[string]int `json:"channels"`
}

// Stats summarizes connections and subscriptions per channel
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	channels := make(map[string]int, len(h.clients))
	for channel, clients := range h.clients {
		channels[channel] = len(clients)
	}
	return Stats{
		TotalConnections: len(h.allClients),
		Channels:         channels,
	}
}
