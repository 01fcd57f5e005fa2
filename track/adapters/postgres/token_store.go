package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tracklane/processor/es"
	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/store"
)

// TokenStoreConfig configures a TokenStore.
type TokenStoreConfig struct {
	// ClaimsTable is the name of the table holding one row per
	// (processorName, segmentId) claim.
	ClaimsTable string

	// ClaimTimeout is how long a claim survives without ExtendClaim
	// before another owner may steal it. This is the SQL analogue of a
	// distributed lock lease.
	ClaimTimeout time.Duration
}

// DefaultTokenStoreConfig returns the default configuration.
func DefaultTokenStoreConfig() TokenStoreConfig {
	return TokenStoreConfig{
		ClaimsTable:  "processor_claims",
		ClaimTimeout: 30 * time.Second,
	}
}

// TokenStore is a PostgreSQL-backed track/store.TokenStore. Every
// method must be called with a context produced by this package's
// TransactionManager so it can find the enclosing transaction; see
// track/adapters/postgres/transaction_manager.go.
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
	query := fmt.Sprintf(`SELECT segment_id FROM %s WHERE processor_name = $1 ORDER BY segment_id`, s.config.ClaimsTable)

	rows, err := tx.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("track/adapters/postgres: fetch segments: %w", err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("track/adapters/postgres: scan segment id: %w", err)
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
		VALUES ($1, $2, $3, $4)
	`, s.config.ClaimsTable)

	for _, segment := range segments {
		if _, err := tx.ExecContext(ctx, insertQuery, name, segment.ID, segment.Mask, tokenBytes); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("track/adapters/postgres: segments already initialized for %q: %w", name, err)
			}
			return fmt.Errorf("track/adapters/postgres: initialize segment %d: %w", segment.ID, err)
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

// FetchToken implements store.TokenStore, atomically claiming the segment.
func (s *TokenStore) FetchToken(ctx context.Context, name string, segmentID int, owner string) (track.TrackingToken, error) {
	tx := dbtxFromContext(ctx, s.db)

	claimQuery := fmt.Sprintf(`
		UPDATE %s SET owner = $1, claimed_at = NOW()
		WHERE processor_name = $2 AND segment_id = $3
		  AND (owner IS NULL OR owner = $1 OR claimed_at < NOW() - ($4 * interval '1 second'))
		RETURNING token
	`, s.config.ClaimsTable)

	var tokenBytes []byte
	err := tx.QueryRowContext(ctx, claimQuery, owner, name, segmentID, s.config.ClaimTimeout.Seconds()).Scan(&tokenBytes)
	if err == nil {
		return s.DeserializeToken(tokenBytes)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		// Anything but "no matching row" here is a query failure, not
		// contention: a dropped connection, a statement timeout, the
		// database being unreachable. The Launcher treats this as
		// non-transient rather than retrying forever.
		return nil, fmt.Errorf("track/adapters/postgres: fetch token: %w: %w", store.ErrTokenStoreUnavailable, err)
	}

	exists, existsErr := s.segmentExists(ctx, tx, name, segmentID)
	if existsErr != nil {
		return nil, existsErr
	}
	if !exists {
		return nil, store.ErrNoSuchSegment
	}
	return nil, store.ErrUnableToClaim
}

func (s *TokenStore) segmentExists(ctx context.Context, tx es.DBTX, name string, segmentID int) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE processor_name = $1 AND segment_id = $2`, s.config.ClaimsTable)
	var one int
	err := tx.QueryRowContext(ctx, query, name, segmentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("track/adapters/postgres: check segment existence: %w", err)
	}
	return true, nil
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
		VALUES ($1, $2, 0, $3, $4, NOW())
		ON CONFLICT (processor_name, segment_id) DO UPDATE
			SET token = EXCLUDED.token, claimed_at = NOW()
			WHERE %s.owner = $4
	`, s.config.ClaimsTable, s.config.ClaimsTable)

	result, err := tx.ExecContext(ctx, query, name, segmentID, tokenBytes, owner)
	if err != nil {
		return fmt.Errorf("track/adapters/postgres: store token: %w", err)
	}
	return s.requireClaimHeld(result)
}

// ExtendClaim implements store.TokenStore.
func (s *TokenStore) ExtendClaim(ctx context.Context, name string, segmentID int, owner string) error {
	tx := dbtxFromContext(ctx, s.db)

	query := fmt.Sprintf(`
		UPDATE %s SET claimed_at = NOW()
		WHERE processor_name = $1 AND segment_id = $2 AND owner = $3
	`, s.config.ClaimsTable)

	result, err := tx.ExecContext(ctx, query, name, segmentID, owner)
	if err != nil {
		return fmt.Errorf("track/adapters/postgres: extend claim: %w", err)
	}
	return s.requireClaimHeld(result)
}

// ReleaseClaim implements store.TokenStore. Releasing a claim you don't
// hold is not an error, per the interface contract.
func (s *TokenStore) ReleaseClaim(ctx context.Context, name string, segmentID int, owner string) error {
	tx := dbtxFromContext(ctx, s.db)

	query := fmt.Sprintf(`
		UPDATE %s SET owner = NULL
		WHERE processor_name = $1 AND segment_id = $2 AND owner = $3
	`, s.config.ClaimsTable)

	_, err := tx.ExecContext(ctx, query, name, segmentID, owner)
	if err != nil {
		return fmt.Errorf("track/adapters/postgres: release claim: %w", err)
	}
	return nil
}

func (s *TokenStore) requireClaimHeld(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("track/adapters/postgres: rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrUnableToClaim
	}
	return nil
}

// serializedToken is the wire format for TrackingToken values: a small
// tagged JSON envelope that round-trips both plain sequence tokens and
// ReplayToken wrappers without requiring every TokenStore backend to
// know about ReplayToken's internal shape.
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
		return nil, fmt.Errorf("track/adapters/postgres: deserialize token: %w", err)
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
		return nil, fmt.Errorf("track/adapters/postgres: unsupported token type %T", token)
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
		return nil, fmt.Errorf("track/adapters/postgres: unknown token kind %q", encoded.Kind)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
