package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction is sent after a context build or text redaction
	EventTypeRedaction EventType = "redaction"
	// EventTypeReinjection is sent after placeholders are restored
	EventTypeReinjection EventType = "reinjection"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	eventTypePong       EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// RedactionEvent describes a redaction run. It never carries originals.
type RedactionEvent struct {
	RequestID      string         `json:"request_id"`
	SessionID      string         `json:"session_id,omitempty"`
	Source         string         `json:"source"`
	ClientIP       string         `json:"client_ip"`
	RedactionCount int            `json:"redaction_count"`
	Counts         map[string]int `json:"counts"`
	Region         string         `json:"region,omitempty"`
	ProcessingMS   float64        `json:"processing_ms"`
}

// ReinjectionEvent describes a reinjection
type ReinjectionEvent struct {
	RequestID           string  `json:"request_id"`
	SessionID           string  `json:"session_id,omitempty"`
	ClientIP            string  `json:"client_ip"`
	KnownPlaceholders   int     `json:"known_placeholders"`
	UnknownPlaceholders int     `json:"unknown_placeholders"`
	ProcessingMS        float64 `json:"processing_ms"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalRedactions  int64  `json:"total_redactions"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows redaction events to the listed rule types
type EventFilter struct {
	RuleTypes []string `json:"rule_types,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
