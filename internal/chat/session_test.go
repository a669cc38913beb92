package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeAnswerer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAnswerer) Answer(_ context.Context, q string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "Ответ: " + q, nil
}

func TestNewSession_Greets(t *testing.T) {
	s := NewSession(&fakeAnswerer{})
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != Assistant || msgs[0].Content != Greeting {
		t.Fatalf("unexpected transcript %+v", msgs)
	}
}

func TestSubmit(t *testing.T) {
	a := &fakeAnswerer{}
	s := NewSession(a)

	msg, ok := s.Submit(context.Background(), "  Сколько дней отпуска?  ")
	if !ok {
		t.Fatalf("submit ignored")
	}
	if msg.Role != Assistant || msg.Content != "Ответ: Сколько дней отпуска?" {
		t.Fatalf("unexpected answer %+v", msg)
	}

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].Role != User || msgs[1].Content != "Сколько дней отпуска?" {
		t.Fatalf("unexpected user message %+v", msgs[1])
	}
}

func TestSubmit_BlankIgnored(t *testing.T) {
	a := &fakeAnswerer{}
	s := NewSession(a)
	for _, in := range []string{"", "   ", "\n\t"} {
		if _, ok := s.Submit(context.Background(), in); ok {
			t.Fatalf("blank input %q accepted", in)
		}
	}
	if a.calls != 0 || len(s.Messages()) != 1 {
		t.Fatalf("blank input must not reach the answerer")
	}
}

func TestSubmit_ErrorShownInTranscript(t *testing.T) {
	s := NewSession(&fakeAnswerer{err: errors.New("upstream unavailable")})
	msg, ok := s.Submit(context.Background(), "вопрос")
	if !ok || msg.Content != "Ошибка: upstream unavailable" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := s.Messages(); got[len(got)-1].Content != "Ошибка: upstream unavailable" {
		t.Fatalf("error not appended to transcript")
	}
}

func TestMessages_ReturnsCopy(t *testing.T) {
	s := NewSession(&fakeAnswerer{})
	msgs := s.Messages()
	msgs[0].Content = "changed"
	if s.Messages()[0].Content != Greeting {
		t.Fatalf("transcript modified through copy")
	}
}

func TestSubmit_Concurrent(t *testing.T) {
	s := NewSession(&fakeAnswerer{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit(context.Background(), "q")
		}()
	}
	wg.Wait()
	if got := len(s.Messages()); got != 21 {
		t.Fatalf("expected 21 messages, got %d", got)
	}
}
