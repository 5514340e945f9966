package domain

import (
	"context"
	"time"
)

// CommandStatus is the outcome recorded for a dispatched command.
type CommandStatus string

const (
	StatusOK      CommandStatus = "ok"
	StatusFailed  CommandStatus = "failed"
	StatusDenied  CommandStatus = "denied"
	StatusSkipped CommandStatus = "skipped"
)

// CommandRecord is one row of the command log.
type CommandRecord struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id"`
	Command   string        `json:"command"`
	Args      string        `json:"args,omitempty"`
	Status    CommandStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	LatencyMs int64         `json:"latency_ms"`
	CreatedAt time.Time     `json:"created_at"`
}

// CommandLog persists dispatched commands.
type CommandLog interface {
	Record(ctx context.Context, rec CommandRecord) error
	Recent(ctx context.Context, limit int) ([]CommandRecord, error)
	Close() error
}
