package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/store"
)

// TokenStoreConfig configures a TokenStore.
type TokenStoreConfig struct {
	ClaimsTable  string
	ClaimTimeout time.Duration
}

// DefaultTokenStoreConfig returns the default configuration.
func DefaultTokenStoreConfig() TokenStoreConfig {
	return TokenStoreConfig{
		ClaimsTable:  "processor_claims",
		ClaimTimeout: 30 * time.Second,
	}
}

// TokenStore is a SQLite-backed track/store.TokenStore.
type TokenStore struct {
	db     *sql.DB
	config TokenStoreConfig
}

// NewTokenStore creates a TokenStore backed by db.
func NewTokenStore(db *sql.DB, config TokenStoreConfig) *TokenStore {
	return &TokenStore{db: db, config: config}
}

// FetchSegments implements store.TokenStore.
func (s *TokenStore) FetchSegments(ctx context.Context, name string) ([]int, error) {
	tx := dbtxFromContext(ctx, s.db)
	query := fmt.Sprintf(`SELECT segment_id FROM %s WHERE processor_name = ? ORDER BY segment_id`, s.config.ClaimsTable)

	rows, err := tx.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("track/adapters/sqlite: fetch segments: %w", err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("track/adapters/sqlite: scan segment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InitializeTokenSegments implements store.TokenStore.
func (s *TokenStore) InitializeTokenSegments(ctx context.Context, name string, count int, initialToken track.TrackingToken) error {
	tx := dbtxFromContext(ctx, s.db)

	tokenBytes, err := s.SerializeToken(initialToken)
	if err != nil {
		return err
	}

	segments := track.ComputeSegments(sequentialIDs(count))
	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (processor_name, segment_id, segment_mask, token)
		VALUES (?, ?, ?, ?)
	`, s.config.ClaimsTable)

	for _, segment := range segments {
		if _, err := tx.ExecContext(ctx, insertQuery, name, segment.ID, segment.Mask, tokenBytes); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("track/adapters/sqlite: segments already initialized for %q: %w", name, err)
			}
			return fmt.Errorf("track/adapters/sqlite: initialize segment %d: %w", segment.ID, err)
		}
	}
	return nil
}

func sequentialIDs(count int) []int {
	ids := make([]int, count)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// FetchToken implements store.TokenStore. SQLite has no row-level
// locking, so atomicity comes from the caller running this inside a
// transaction against a single-writer database connection.
func (s *TokenStore) FetchToken(ctx context.Context, name string, segmentID int, owner string) (track.TrackingToken, error) {
	tx := dbtxFromContext(ctx, s.db)

	selectQuery := fmt.Sprintf(`
		SELECT token, owner, claimed_at FROM %s
		WHERE processor_name = ? AND segment_id = ?
	`, s.config.ClaimsTable)

	var tokenBytes []byte
	var currentOwner sql.NullString
	var claimedAt sql.NullString
	err := tx.QueryRowContext(ctx, selectQuery, name, segmentID).Scan(&tokenBytes, &currentOwner, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoSuchSegment
	}
	if err != nil {
		// Anything but "no matching row" here means the read itself
		// failed — a locked database file, a closed connection — not
		// that another owner holds the claim.
		return nil, fmt.Errorf("track/adapters/sqlite: read segment: %w: %w", store.ErrTokenStoreUnavailable, err)
	}

	held := !currentOwner.Valid || currentOwner.String == owner || claimLeaseExpired(claimedAt, s.config.ClaimTimeout)
	if !held {
		return nil, store.ErrUnableToClaim
	}

	updateQuery := fmt.Sprintf(`
		UPDATE %s SET owner = ?, claimed_at = datetime('now')
		WHERE processor_name = ? AND segment_id = ?
	`, s.config.ClaimsTable)
	if _, err := tx.ExecContext(ctx, updateQuery, owner, name, segmentID); err != nil {
		return nil, fmt.Errorf("track/adapters/sqlite: claim segment: %w", err)
	}

	return s.DeserializeToken(tokenBytes)
}

func claimLeaseExpired(claimedAt sql.NullString, timeout time.Duration) bool {
	if !claimedAt.Valid {
		return true
	}
	t, err := time.Parse("2006-01-02 15:04:05", claimedAt.String)
	if err != nil {
		return true
	}
	return time.Since(t) > timeout
}

// StoreToken implements store.TokenStore. It upserts rather than
// updates so SplitSegment can persist a freshly split segment id that
// has no existing claim row yet; for an existing row it still only
// takes effect when owner currently holds the claim.
func (s *TokenStore) StoreToken(ctx context.Context, token track.TrackingToken, name string, segmentID int, owner string) error {
	tx := dbtxFromContext(ctx, s.db)

	tokenBytes, err := s.SerializeToken(token)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (processor_name, segment_id, segment_mask, token, owner, claimed_at)
		VALUES (?, ?, 0, ?, ?, datetime('now'))
		ON CONFLICT (processor_name, segment_id) DO UPDATE
			SET token = excluded.token, claimed_at = datetime('now')
			WHERE owner = ?
	`, s.config.ClaimsTable)

	result, err := tx.ExecContext(ctx, query, name, segmentID, tokenBytes, owner, owner)
	if err != nil {
		return fmt.Errorf("track/adapters/sqlite: store token: %w", err)
	}
	return requireClaimHeld(result)
}

// ExtendClaim implements store.TokenStore.
func (s *TokenStore) ExtendClaim(ctx context.Context, name string, segmentID int, owner string) error {
	tx := dbtxFromContext(ctx, s.db)

	query := fmt.Sprintf(`
		UPDATE %s SET claimed_at = datetime('now')
		WHERE processor_name = ? AND segment_id = ? AND owner = ?
	`, s.config.ClaimsTable)

	result, err := tx.ExecContext(ctx, query, name, segmentID, owner)
	if err != nil {
		return fmt.Errorf("track/adapters/sqlite: extend claim: %w", err)
	}
	return requireClaimHeld(result)
}

// ReleaseClaim implements store.TokenStore.
func (s *TokenStore) ReleaseClaim(ctx context.Context, name string, segmentID int, owner string) error {
	tx := dbtxFromContext(ctx, s.db)

	query := fmt.Sprintf(`
		UPDATE %s SET owner = NULL
		WHERE processor_name = ? AND segment_id = ? AND owner = ?
	`, s.config.ClaimsTable)

	_, err := tx.ExecContext(ctx, query, name, segmentID, owner)
	if err != nil {
		return fmt.Errorf("track/adapters/sqlite: release claim: %w", err)
	}
	return nil
}

func requireClaimHeld(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("track/adapters/sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrUnableToClaim
	}
	return nil
}

type serializedToken struct {
	Kind    string           `json:"kind"`
	Value   int64            `json:"value,omitempty"`
	Inner   *serializedToken `json:"inner,omitempty"`
	Current *serializedToken `json:"current,omitempty"`
}

// SerializeToken implements store.TokenStore.
func (s *TokenStore) SerializeToken(token track.TrackingToken) ([]byte, error) {
	encoded, err := encodeToken(token)
	if err != nil {
		return nil, err
	}
	if encoded == nil {
		return nil, nil
	}
	return json.Marshal(encoded)
}

// DeserializeToken implements store.TokenStore.
func (s *TokenStore) DeserializeToken(data []byte) (track.TrackingToken, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var encoded serializedToken
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("track/adapters/sqlite: deserialize token: %w", err)
	}
	return decodeToken(&encoded)
}

func encodeToken(token track.TrackingToken) (*serializedToken, error) {
	if token == nil {
		return nil, nil
	}
	switch t := token.(type) {
	case track.GlobalSequenceToken:
		return &serializedToken{Kind: "sequence", Value: int64(t)}, nil
	case *track.ReplayToken:
		inner, err := encodeToken(t.InnerToken())
		if err != nil {
			return nil, err
		}
		current, err := encodeToken(t.CurrentToken())
		if err != nil {
			return nil, err
		}
		return &serializedToken{Kind: "replay", Inner: inner, Current: current}, nil
	default:
		return nil, fmt.Errorf("track/adapters/sqlite: unsupported token type %T", token)
	}
}

func decodeToken(encoded *serializedToken) (track.TrackingToken, error) {
	if encoded == nil {
		return nil, nil
	}
	switch encoded.Kind {
	case "sequence":
		return track.GlobalSequenceToken(encoded.Value), nil
	case "replay":
		inner, err := decodeToken(encoded.Inner)
		if err != nil {
			return nil, err
		}
		current, err := decodeToken(encoded.Current)
		if err != nil {
			return nil, err
		}
		return track.RestoreReplayToken(inner, current), nil
	default:
		return nil, fmt.Errorf("track/adapters/sqlite: unknown token kind %q", encoded.Kind)
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
}
