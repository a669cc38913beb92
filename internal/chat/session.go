package chat

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Greeting opens every session.
const Greeting = "Здравствуйте! Я помогу найти информацию в ваших внутренних документах."

// Role of a transcript message.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role
	Content string
	At      time.Time
}

// Answerer produces an answer for a question.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Session is one in-memory conversation. Sessions are never persisted.
type Session struct {
	mu       sync.Mutex
	answerer Answerer
	messages []Message
}

// NewSession starts a transcript with the greeting.
func NewSession(a Answerer) *Session {
	return &Session{
		answerer: a,
		messages: []Message{{Role: Assistant, Content: Greeting, At: time.Now()}},
	}
}

// Submit appends the question and the answer to the transcript and returns
// the assistant message. A failed answer is shown as "Ошибка: <err>". Blank
// input is ignored and reported with ok=false.
func (s *Session) Submit(ctx context.Context, text string) (msg Message, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{Role: User, Content: text, At: time.Now()})

	answer, err := s.answerer.Answer(ctx, text)
	if err != nil {
		answer = ErrorText(err)
	}
	msg = Message{Role: Assistant, Content: answer, At: time.Now()}
	s.messages = append(s.messages, msg)
	return msg, true
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ErrorText renders an error the way front ends show it to the user.
func ErrorText(err error) string {
	return "Ошибка: " + err.Error()
}
