// Package transport defines the outbound chat surface used by jobs and log sinks.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ChatTarget addresses a chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // 0 if none
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return fmt.Sprintf("%d/%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses "chat" or "chat/thread". An empty string yields the zero target.
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, nil
	}
	chat, thread, hasThread := strings.Cut(s, "/")
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q", chat)
	}
	t := ChatTarget{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("invalid thread id %q", thread)
		}
		t.ThreadID = tid
	}
	return t, nil
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

// Sender posts text messages. Implementations must be safe for concurrent use.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Discard is a Sender that drops every message. It stands in when no chat
// transport is configured.
type Discard struct{}

func (Discard) SendText(_ context.Context, to ChatTarget, _ string, _ *SendOptions) (MessageRef, error) {
	return MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}, nil
}
