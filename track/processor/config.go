package processor

import (
	"fmt"
	"os"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/store"
)

// Config configures a Processor. See spec §6 for the option table this mirrors.
type Config struct {
	// Name identifies this processor; it's the key segments and claims
	// are stored under in the TokenStore.
	Name string

	// BatchSize bounds events per transactional batch. Upcast groups may exceed it.
	BatchSize int

	// InitialSegmentsCount is how many segments to create on first
	// startup against an empty token store. Zero disables auto-initialization.
	InitialSegmentsCount int

	// MaxThreadCount bounds concurrent SegmentWorkers, including the inline one.
	MaxThreadCount int

	// ThreadFactory produces the pool workers run on. Defaults to a plain WorkerPool.
	ThreadFactory func(name string) *WorkerPool

	// RollbackConfiguration decides whether an error from handling a
	// batch should roll back the unit of work (true) or be treated as
	// already handled by the ErrorHandler (false). Defaults to "always roll back."
	RollbackConfiguration func(error) bool

	// Owner identifies this worker/process for claim ownership. Defaults
	// to hostname:pid, which is enough to distinguish processes sharing
	// a token store without requiring configuration in the common case.
	Owner string

	TokenStore         store.TokenStore
	MessageSource      track.MessageSource
	TransactionManager track.TransactionManager
	Invoker            track.EventHandlerInvoker
	ErrorHandler       track.ErrorHandler
	Monitor            track.MessageMonitor
	Logger             track.Logger
}

// DefaultConfig returns the default configuration for a processor named name.
func DefaultConfig(name string) Config {
	return Config{
		Name:                  name,
		BatchSize:             1,
		InitialSegmentsCount:  1,
		MaxThreadCount:        1,
		ThreadFactory:         NewWorkerPool,
		RollbackConfiguration: func(error) bool { return true },
		Owner:                 defaultOwner(),
		ErrorHandler:          track.PropagatingErrorHandler{},
		Monitor:               track.NoOpMessageMonitor{},
		Logger:                track.NoOpLogger{},
	}
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("track/processor: Name is required")
	}
	if c.TokenStore == nil {
		return fmt.Errorf("track/processor: TokenStore is required")
	}
	if c.MessageSource == nil {
		return fmt.Errorf("track/processor: MessageSource is required")
	}
	if c.TransactionManager == nil {
		return fmt.Errorf("track/processor: TransactionManager is required")
	}
	if c.Invoker == nil {
		return fmt.Errorf("track/processor: Invoker is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("track/processor: BatchSize must be positive")
	}
	if c.MaxThreadCount <= 0 {
		return fmt.Errorf("track/processor: MaxThreadCount must be positive")
	}
	return nil
}
