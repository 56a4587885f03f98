package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/stories-now/pkg/log"
)

// ErrNothingToSend is returned, without any request, for an empty message or selection.
var ErrNothingToSend = errors.New("message and at least one document are required")

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

type Message struct {
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// API is the chat endpoint of the backend.
type API interface {
	Chat(ctx context.Context, message string, docIDs []string) (string, error)
}

// Conversation is an append-only chat history grounded on selected documents.
type Conversation struct {
	api API
	now func() time.Time

	inflight atomic.Int32

	mu       sync.RWMutex
	messages []Message
}

type Option func(*Conversation)

// WithNow injects the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

func NewConversation(api API, opts ...Option) *Conversation {
	c := &Conversation{api: api, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts text grounded on docIDs and appends the reply.
// The user message is kept even when the call fails.
func (c *Conversation) Send(ctx context.Context, text string, docIDs []string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(docIDs) == 0 {
		return Message{}, ErrNothingToSend
	}

	c.append(Message{Content: text, Sender: SenderUser, Timestamp: c.now()})

	c.inflight.Add(1)
	reply, err := c.api.Chat(ctx, text, docIDs)
	c.inflight.Add(-1)
	if err != nil {
		log.Warn("Chat request failed: %v", err)
		return Message{}, err
	}

	msg := Message{Content: reply, Sender: SenderBot, Timestamp: c.now()}
	c.append(msg)
	return msg, nil
}

// Typing reports whether any chat call is still in flight.
func (c *Conversation) Typing() bool {
	return c.inflight.Load() > 0
}

// Messages returns the history in submission order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

func (c *Conversation) append(m Message) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}
