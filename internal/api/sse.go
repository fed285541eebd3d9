package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/progress"
)

const subscriberBuffer = 64

// EventStream fans progress events out to Server-Sent-Events subscribers. It
// implements progress.Sink; slow subscribers lose events rather than stalling
// the hub.
type EventStream struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
	logger *zap.Logger
}

// NewEventStream builds an empty stream.
func NewEventStream(logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{
		subs:   make(map[chan []byte]struct{}),
		logger: logger,
	}
}

// Consume encodes each event and offers it to every subscriber.
func (s *EventStream) Consume(_ context.Context, batch []progress.Event) error {
	frames := make([][]byte, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(toEventDTO(evt))
		if err != nil {
			s.logger.Warn("encode progress event failed", zap.Error(err))
			continue
		}
		frames = append(frames, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		for _, frame := range frames {
			select {
			case sub <- frame:
			default:
				// Subscriber is not keeping up; drop the frame.
			}
		}
	}
	return nil
}

// Close disconnects all subscribers.
func (s *EventStream) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		close(sub)
	}
	s.subs = make(map[chan []byte]struct{})
	return nil
}

// Subscribe registers a new subscriber channel. The returned cancel func must
// be called when the subscriber goes away.
func (s *EventStream) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	s.mu.Lock()
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// ServeHTTP streams progress events as SSE data frames until the client
// disconnects.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.Subscribe()
	defer cancel()

	// Periodic comments keep intermediaries from closing an idle stream.
	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case frame, open := <-events:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type eventDTO struct {
	RunID    string  `json:"run_id"`
	TS       string  `json:"ts"`
	Stage    string  `json:"stage"`
	Account  string  `json:"account,omitempty"`
	Title    string  `json:"title,omitempty"`
	Crawled  int     `json:"crawled"`
	Total    int     `json:"total"`
	Progress float64 `json:"progress"`
	Note     string  `json:"note,omitempty"`
}

func toEventDTO(evt progress.Event) eventDTO {
	return eventDTO{
		RunID:    evt.RunUUID().String(),
		TS:       evt.TS.UTC().Format(time.RFC3339Nano),
		Stage:    string(evt.Stage),
		Account:  evt.Account,
		Title:    evt.Title,
		Crawled:  evt.Crawled,
		Total:    evt.Total,
		Progress: evt.Progress,
		Note:     evt.Note,
	}
}
