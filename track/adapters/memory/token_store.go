package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/store"
)

type claim struct {
	mask      int
	token     track.TrackingToken
	owner     string
	claimedAt time.Time
}

// TokenStoreConfig configures a TokenStore.
type TokenStoreConfig struct {
	ClaimTimeout time.Duration
}

// DefaultTokenStoreConfig returns the default configuration.
func DefaultTokenStoreConfig() TokenStoreConfig {
	return TokenStoreConfig{ClaimTimeout: 30 * time.Second}
}

// TokenStore is a mutex-guarded, process-local track/store.TokenStore.
// Segments are keyed only by processor name since a single process
// never hosts more than one processor under the same name.
type TokenStore struct {
	mu     sync.Mutex
	config TokenStoreConfig
	claims map[string]map[int]*claim
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore(config TokenStoreConfig) *TokenStore {
	return &TokenStore{
		config: config,
		claims: make(map[string]map[int]*claim),
	}
}

// FetchSegments implements store.TokenStore.
func (s *TokenStore) FetchSegments(ctx context.Context, name string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments := s.claims[name]
	ids := make([]int, 0, len(segments))
	for id := range segments {
		ids = append(ids, id)
	}
	return ids, nil
}

// InitializeTokenSegments implements store.TokenStore.
func (s *TokenStore) InitializeTokenSegments(ctx context.Context, name string, count int, initialToken track.TrackingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.claims[name]) > 0 {
		return fmt.Errorf("track/adapters/memory: segments already initialized for %q", name)
	}

	segments := track.ComputeSegments(sequentialIDs(count))
	byID := make(map[int]*claim, len(segments))
	for _, segment := range segments {
		byID[segment.ID] = &claim{mask: segment.Mask, token: initialToken}
	}
	s.claims[name] = byID
	return nil
}

func sequentialIDs(count int) []int {
	ids := make([]int, count)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// FetchToken implements store.TokenStore.
func (s *TokenStore) FetchToken(ctx context.Context, name string, segmentID int, owner string) (track.TrackingToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[name][segmentID]
	if !ok {
		return nil, store.ErrNoSuchSegment
	}

	held := c.owner == "" || c.owner == owner || time.Since(c.claimedAt) > s.config.ClaimTimeout
	if !held {
		return nil, store.ErrUnableToClaim
	}

	c.owner = owner
	c.claimedAt = time.Now()
	return c.token, nil
}

// StoreToken implements store.TokenStore.
func (s *TokenStore) StoreToken(ctx context.Context, token track.TrackingToken, name string, segmentID int, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[name][segmentID]
	if !ok {
		if s.claims[name] == nil {
			s.claims[name] = make(map[int]*claim)
		}
		c = &claim{}
		s.claims[name][segmentID] = c
	}
	if c.owner != "" && c.owner != owner {
		return store.ErrUnableToClaim
	}

	c.token = token
	c.owner = owner
	c.claimedAt = time.Now()
	return nil
}

// ExtendClaim implements store.TokenStore.
func (s *TokenStore) ExtendClaim(ctx context.Context, name string, segmentID int, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[name][segmentID]
	if !ok || c.owner != owner {
		return store.ErrUnableToClaim
	}
	c.claimedAt = time.Now()
	return nil
}

// ReleaseClaim implements store.TokenStore.
func (s *TokenStore) ReleaseClaim(ctx context.Context, name string, segmentID int, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[name][segmentID]
	if !ok || c.owner != owner {
		return nil
	}
	c.owner = ""
	return nil
}

// SerializeToken implements store.TokenStore. Claims are held as live
// Go values, not bytes, so this is a no-op that satisfies the
// interface; tokens never leave the process.
func (s *TokenStore) SerializeToken(token track.TrackingToken) ([]byte, error) {
	return nil, nil
}

// DeserializeToken implements store.TokenStore. Always returns nil: the
// in-memory store never persists tokens as bytes, it keeps the
// track.TrackingToken value directly.
func (s *TokenStore) DeserializeToken(data []byte) (track.TrackingToken, error) {
	return nil, nil
}
