package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/core/tables"
	"github.com/JonMunkholm/salesqc/internal/store/memory"
)

var errSinkDown = errors.New("sink unavailable")

// flakyStore wraps a memory store and fails writes to selected tables.
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	failures map[core.TableKind]int // remaining failures; -1 fails forever
	calls    map[core.TableKind]int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Store:    memory.New(),
		failures: make(map[core.TableKind]int),
		calls:    make(map[core.TableKind]int),
	}
}

func (s *flakyStore) failNext(kind core.TableKind, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind] = n
}

func (s *flakyStore) callCount(kind core.TableKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *flakyStore) InsertMany(ctx context.Context, kind core.TableKind, rows []any) error {
	s.mu.Lock()
	s.calls[kind]++
	remaining := s.failures[kind]
	if remaining != 0 {
		if remaining > 0 {
			s.failures[kind] = remaining - 1
		}
		s.mu.Unlock()
		return errSinkDown
	}
	s.mu.Unlock()
	return s.Store.InsertMany(ctx, kind, rows)
}

// fastRetry keeps retry tests quick.
var fastRetry = core.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	AttemptTimeout: time.Second,
}

func newPipeline(t *testing.T, store core.Persistence, opts ...func(*core.Options)) *core.Pipeline {
	t.Helper()
	o := core.Options{
		Schema: tables.Sales,
		Store:  store,
		Config: core.PipelineConfig{Workers: 4, BatchSize: 100, Retry: fastRetry},
	}
	for _, fn := range opts {
		fn(&o)
	}
	p, err := core.NewPipeline(o)
	require.NoError(t, err)
	return p
}

// sale builds a sales row. Pass nil to make a field null.
func sale(orderID, date, region, product, quantity, revenue any) core.RawRow {
	return core.RawRow{
		{Name: "order_id", Value: orderID},
		{Name: "order_date", Value: date},
		{Name: "region", Value: region},
		{Name: "product", Value: product},
		{Name: "quantity", Value: quantity},
		{Name: "revenue", Value: revenue},
	}
}

func validSale(orderID string) core.RawRow {
	return sale(orderID, "2024-03-01", "North", "Milk 1L", "2", "10.00")
}

func record(row core.RawRow, position int) core.RawRecord {
	return core.NewRawRecord("run-test", "test.csv", position, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), row)
}
