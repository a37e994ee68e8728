package config

import "time"

// Application constants
const (
	AppName    = "pricewatch chat gateway"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment variable, e.g. PRICEWATCH_SERVER_PORT
	EnvPrefix = "PRICEWATCH"

	DefaultPort    = 4000
	DefaultLogFile = "logs/chat-gateway.log"

	// Chat defaults
	DefaultHistoryCapacity  = 100
	DefaultMaxMessageLength = 2000

	// DefaultMaxFrameBytes caps one inbound socket frame
	DefaultMaxFrameBytes = 1 << 20

	// frameOverheadBytes covers the JSON envelope around a post's text;
	// each text rune may escape to at most twelve bytes ("\uXXXX\uXXXX")
	frameOverheadBytes  = 256
	maxEscapedRuneBytes = 12

	// Malformed frame policies
	MalformedPolicyReply = "reply"
	MalformedPolicyDrop  = "drop"

	// WebSocket timings
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second
	WebSocketWriteWait  = 10 * time.Second

	// Endpoints
	HealthEndpoint      = "/health"
	ChatSocketEndpoint  = "/ws/chat"
	ChatHistoryEndpoint = "/api/chat/history"
	MetricsEndpoint     = "/metrics"
)
