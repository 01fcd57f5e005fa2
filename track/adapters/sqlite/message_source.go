package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tracklane/processor/track"
)

// MessageSourceConfig configures a MessageSource.
type MessageSourceConfig struct {
	EventsTable  string
	FetchSize    int
	PollInterval time.Duration
}

// DefaultMessageSourceConfig returns the default configuration.
func DefaultMessageSourceConfig() MessageSourceConfig {
	return MessageSourceConfig{
		EventsTable:  "events",
		FetchSize:    256,
		PollInterval: 250 * time.Millisecond,
	}
}

// MessageSource is a SQLite-backed track.MessageSource.
type MessageSource struct {
	db     *sql.DB
	config MessageSourceConfig
}

// NewMessageSource creates a MessageSource backed by db.
func NewMessageSource(db *sql.DB, config MessageSourceConfig) *MessageSource {
	return &MessageSource{db: db, config: config}
}

// OpenStream implements track.MessageSource.
func (m *MessageSource) OpenStream(ctx context.Context, token track.TrackingToken) (track.MessageStream, error) {
	start := int64(0)
	if seq, ok := token.(track.GlobalSequenceToken); ok {
		start = int64(seq)
	}
	return &pollingStream{db: m.db, config: m.config, position: start}, nil
}

type pollingStream struct {
	db     *sql.DB
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
	_ = p.fill(context.Background())
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
		if err := p.fill(ctx); err == nil && len(p.buffer) > 0 {
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
		if err := p.fill(ctx); err != nil {
			return nil, err
		}
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

func (p *pollingStream) fill(ctx context.Context) error {
	query := fmt.Sprintf(`
		SELECT global_position, aggregate_id, event_type, payload
		FROM %s
		WHERE global_position > ?
		ORDER BY global_position ASC
		LIMIT ?
	`, p.config.EventsTable)

	rows, err := p.db.QueryContext(ctx, query, p.position, p.config.FetchSize)
	if err != nil {
		return fmt.Errorf("track/adapters/sqlite: poll events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var position int64
		var aggregateID, eventType string
		var payload []byte
		if err := rows.Scan(&position, &aggregateID, &eventType, &payload); err != nil {
			return fmt.Errorf("track/adapters/sqlite: scan polled event: %w", err)
		}
		p.buffer = append(p.buffer, trackedEvent{
			aggregateID: aggregateID,
			eventType:   eventType,
			payload:     payload,
			token:       track.GlobalSequenceToken(position),
		})
	}
	return rows.Err()
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
