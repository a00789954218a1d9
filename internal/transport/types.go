package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Sender delivers text to a chat platform.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// Command is an inbound chat command (e.g. "/remind 2025-01-02 09:30 stand-up").
type Command struct {
	Name     string
	Args     string
	ChatID   int64
	ThreadID int
	FromID   int64
}

// CommandHandler answers inbound commands with a reply text.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) (reply string, err error)
}
