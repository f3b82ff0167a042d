package domain

import (
	"time"
)

// Batch is the buffered byte run handed to the forwarder when the last byte read is a newline
type Batch struct {
	ID           string
	Data         []byte // valid only until Forward returns
	MessageCount int
	ReceivedAt   time.Time
}

// ConnectionState is the upstream connection lifecycle state
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// StatsSnapshot is an immutable copy of relay statistics
type StatsSnapshot struct {
	TotalMessages      int64      `json:"total_messages"`
	MessagesPerMinute  int64      `json:"messages_per_minute"`
	LastMessageTime    *time.Time `json:"last_message_time"`
	UptimeSeconds      int64      `json:"uptime_seconds"`
	StartTime          time.Time  `json:"start_time"`
	MemoryUsageMB      float64    `json:"memory_usage_mb"`
	MemoryPeakMB       float64    `json:"memory_peak_mb"`
	LastMinuteMessages int64      `json:"last_minute_messages"`
	LastMinuteStart    time.Time  `json:"last_minute_start"`
	BytesReceived      int64      `json:"bytes_received"`
	BytesDropped       int64      `json:"bytes_dropped"`
	BatchesForwarded   int64      `json:"batches_forwarded"`
	ForwardErrors      int64      `json:"forward_errors"`
	Reconnects         int64      `json:"reconnects"`
	ConnectionState    string     `json:"connection_state"`
}

// StatsResponse is the dashboard envelope around a snapshot
type StatsResponse struct {
	Success bool           `json:"success"`
	Data    *StatsSnapshot `json:"data"`
	Message string         `json:"message"`
}
