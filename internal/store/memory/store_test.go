package memory

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/salesqc/internal/core"
)

func TestStore_ExceptionPayloadsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	payload := []byte(`{"order_id":"ORD1"}`)
	in := core.ExceptionRecord{ID: "e1", RunID: "run-1", RecordID: "r1", Payload: payload}
	require.NoError(t, s.InsertMany(ctx, core.TableExceptions, []any{in}))

	payload[2] = 'X'

	first, err := s.Exceptions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, `{"order_id":"ORD1"}`, string(first[0].Payload))

	first[0].Payload[2] = 'Y'
	second := s.ExceptionRecords("run-1")
	require.Len(t, second, 1)
	assert.Equal(t, `{"order_id":"ORD1"}`, string(second[0].Payload))
}

func TestStore_InsertManyRejectsWrongRowType(t *testing.T) {
	s := New()

	err := s.InsertMany(context.Background(), core.TableExceptions, []any{
		core.ExceptionRecord{ID: "e1", RunID: "run-1"},
		core.CleanRecord{RunID: "run-1"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrPermanent))
	assert.Zero(t, s.Count(core.TableExceptions))
	assert.Zero(t, s.Writes(core.TableExceptions))
}
