package memory

import (
	"context"
	"time"

	"github.com/tracklane/processor/track"
)

// MessageSourceConfig configures a MessageSource.
type MessageSourceConfig struct {
	FetchSize    int
	PollInterval time.Duration
}

// DefaultMessageSourceConfig returns the default configuration.
func DefaultMessageSourceConfig() MessageSourceConfig {
	return MessageSourceConfig{
		FetchSize:    256,
		PollInterval: 20 * time.Millisecond,
	}
}

// MessageSource is an EventLog-backed track.MessageSource.
type MessageSource struct {
	log    *EventLog
	config MessageSourceConfig
}

// NewMessageSource creates a MessageSource reading from log.
func NewMessageSource(log *EventLog, config MessageSourceConfig) *MessageSource {
	return &MessageSource{log: log, config: config}
}

// OpenStream implements track.MessageSource.
func (m *MessageSource) OpenStream(ctx context.Context, token track.TrackingToken) (track.MessageStream, error) {
	start := int64(0)
	if seq, ok := token.(track.GlobalSequenceToken); ok {
		start = int64(seq)
	}
	return &pollingStream{log: m.log, config: m.config, position: start}, nil
}

type pollingStream struct {
	log    *EventLog
	config MessageSourceConfig

	position int64
	buffer   []track.TrackedEvent
}

func (p *pollingStream) Peek() (track.TrackedEvent, bool) {
	if len(p.buffer) == 0 {
		return nil, false
	}
	return p.buffer[0], true
}

func (p *pollingStream) HasNextAvailable() bool {
	if len(p.buffer) > 0 {
		return true
	}
	p.fill()
	return len(p.buffer) > 0
}

func (p *pollingStream) HasNextAvailableWithin(ctx context.Context, timeout time.Duration) bool {
	if len(p.buffer) > 0 {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		p.fill()
		if len(p.buffer) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return len(p.buffer) > 0
		case <-ticker.C:
		}
	}
}

func (p *pollingStream) NextAvailable(ctx context.Context) (track.TrackedEvent, error) {
	for len(p.buffer) == 0 {
		p.fill()
		if len(p.buffer) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, track.ErrStreamClosed
		case <-time.After(p.config.PollInterval):
		}
	}
	event := p.buffer[0]
	p.buffer = p.buffer[1:]
	p.position = int64(event.Token().(track.GlobalSequenceToken))
	return event, nil
}

func (p *pollingStream) Close() error {
	return nil
}

func (p *pollingStream) fill() {
	for _, e := range p.log.From(p.position, p.config.FetchSize) {
		p.buffer = append(p.buffer, trackedEvent{
			aggregateID: e.AggregateID,
			eventType:   e.EventType,
			payload:     e.Payload,
			token:       track.GlobalSequenceToken(e.Position),
		})
		p.position = e.Position
	}
}

type trackedEvent struct {
	aggregateID string
	eventType   string
	payload     []byte
	token       track.TrackingToken
}

func (e trackedEvent) AggregateIdentifier() string { return e.aggregateID }
func (e trackedEvent) Token() track.TrackingToken  { return e.token }
func (e trackedEvent) EventType() string           { return e.eventType }
func (e trackedEvent) Payload() []byte             { return e.payload }
func (e trackedEvent) WithToken(token track.TrackingToken) track.TrackedEvent {
	e.token = token
	return e
}
