package notifier

import (
	"context"
	"strings"
	"sync"

	"alarmd/internal/transport"
	logx "alarmd/pkg/logx"
)

// LogSink writes every post to the structured log.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Post(_ context.Context, p Post) error {
	s.Log.Info("notification",
		logx.Int("slot", p.SlotID),
		logx.String("channel", p.ChannelID),
		logx.String("title", p.Title),
		logx.String("body", p.Body),
	)
	return nil
}

// ChatSink posts to a chat. A slot shows at most one message: the message
// posted previously for the slot is deleted before the new one is sent.
type ChatSink struct {
	sender transport.Sender
	to     transport.ChatTarget
	opts   *transport.SendOptions
	log    logx.Logger

	mu   sync.Mutex
	refs map[int]transport.MessageRef
}

func NewChatSink(sender transport.Sender, to transport.ChatTarget, log logx.Logger) *ChatSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ChatSink{
		sender: sender,
		to:     to,
		opts:   &transport.SendOptions{DisablePreview: true},
		log:    log,
		refs:   map[int]transport.MessageRef{},
	}
}

// ChatSinkName is the sink name of every ChatSink.
const ChatSinkName = "chat"

func (*ChatSink) Name() string { return ChatSinkName }

func (s *ChatSink) Post(ctx context.Context, p Post) error {
	s.mu.Lock()
	prev, had := s.refs[p.SlotID]
	s.mu.Unlock()
	if had {
		if err := s.sender.DeleteMessage(ctx, prev); err != nil {
			// The message may already be gone; keep posting.
			s.log.Debug("previous alarm message not deleted", logx.Int("slot", p.SlotID), logx.Err(err))
		}
	}
	ref, err := s.sender.SendText(ctx, s.to, FormatText(p), s.opts)
	if err != nil {
		s.mu.Lock()
		delete(s.refs, p.SlotID)
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.refs[p.SlotID] = ref
	s.mu.Unlock()
	return nil
}

func (s *ChatSink) Dismiss(ctx context.Context, slot int) error {
	s.mu.Lock()
	ref, ok := s.refs[slot]
	delete(s.refs, slot)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.sender.DeleteMessage(ctx, ref)
}

// FormatText renders a post as plain chat text.
func FormatText(p Post) string {
	var b strings.Builder
	b.WriteString("⏰ ")
	b.WriteString(p.Title)
	if body := strings.TrimSpace(p.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}
