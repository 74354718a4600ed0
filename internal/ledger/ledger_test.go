package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mesh-intelligence/receipts/internal/metrics"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

var payload = types.CreatePayload{ReceiptID: "r-1", Number: "WR-1", Quantity: "100", UnitPrice: "10"}

func TestDevnet_TokenIsIdempotent(t *testing.T) {
	d := NewDevnet()
	ctx := context.Background()

	ref1, err := d.SubmitCreate(ctx, "tok-1", payload)
	require.NoError(t, err)
	assert.Len(t, ref1, 66, "keccak hex hash")

	ref2, err := d.SubmitCreate(ctx, "tok-1", payload)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
	assert.Equal(t, 1, d.Writes())

	ref3, err := d.SubmitCreate(ctx, "tok-2", payload)
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref3)

	// Same token, different operation: a separate write.
	_, err = d.SubmitVerify(ctx, "tok-1", "r-1")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Writes())

	block, err := d.QueryBlockReference(ctx, ref1)
	require.NoError(t, err)
	assert.NotEmpty(t, block)

	_, err = d.QueryBlockReference(ctx, "0xdead")
	assert.ErrorIs(t, err, ErrUnknownTx)

	_, err = d.SubmitCreate(ctx, "", payload)
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestDevnet_Faults(t *testing.T) {
	ctx := context.Background()

	t.Run("fail next n then recover", func(t *testing.T) {
		d := NewDevnet()
		d.FailNext(types.StepSubmitVerify, 2)
		for i := 0; i < 2; i++ {
			_, err := d.SubmitVerify(ctx, "tok", "r-1")
			assert.ErrorIs(t, err, ErrInjected)
		}
		_, err := d.SubmitVerify(ctx, "tok", "r-1")
		require.NoError(t, err)
		assert.Equal(t, 1, d.Writes())
	})

	t.Run("fail always until heal", func(t *testing.T) {
		d := NewDevnet()
		d.FailAlways(types.StepQueryBlock)
		ref, err := d.SubmitCreate(ctx, "tok", payload)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = d.QueryBlockReference(ctx, ref)
			assert.ErrorIs(t, err, ErrInjected)
		}
		d.Heal(types.StepQueryBlock)
		_, err = d.QueryBlockReference(ctx, ref)
		assert.NoError(t, err)
	})

	t.Run("failure after commit is deduplicated on retry", func(t *testing.T) {
		d := NewDevnet()
		d.FailAfterCommit(types.StepSubmitCreate, 1)
		_, err := d.SubmitCreate(ctx, "tok", payload)
		assert.ErrorIs(t, err, ErrInjected)
		assert.Equal(t, 1, d.Writes())

		ref, err := d.SubmitCreate(ctx, "tok", payload)
		require.NoError(t, err)
		assert.Equal(t, d.Transactions()[0].Ref, ref)
		assert.Equal(t, 1, d.Writes())
	})

	t.Run("cancelled context", func(t *testing.T) {
		d := NewDevnet()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := d.SubmitCancel(cctx, "tok", "r-1", "x")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOpenDevnet_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "devnet.json")
	ctx := context.Background()

	d, err := OpenDevnet(path)
	require.NoError(t, err)
	ref, err := d.SubmitSplit(ctx, "app-1", "p", []string{"c1", "c2"}, 2)
	require.NoError(t, err)

	d2, err := OpenDevnet(path)
	require.NoError(t, err)
	again, err := d2.SubmitSplit(ctx, "app-1", "p", []string{"c1", "c2"}, 2)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, 0, d2.Writes())
	require.Len(t, d2.Transactions(), 1)
	assert.Equal(t, uint64(1), d2.Transactions()[0].Height)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	d := NewDevnet()
	d.FailAlways(types.StepSubmitFreeze)
	b := NewBreaker(d, BreakerSettings{Name: "test", ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.SubmitFreeze(ctx, "tok", "r-1", "court order", "C-1")
		assert.ErrorIs(t, err, ErrInjected)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	d.Heal(types.StepSubmitFreeze)
	_, err := b.SubmitFreeze(ctx, "tok", "r-1", "court order", "C-1")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 0, d.Writes())
}

func TestBreaker_PassesThrough(t *testing.T) {
	d := NewDevnet()
	b := NewBreaker(d, DefaultBreakerSettings(), nil)
	ctx := context.Background()

	ref, err := b.SubmitMerge(ctx, "app-2", []string{"a", "b"}, "m")
	require.NoError(t, err)
	block, err := b.QueryBlockReference(ctx, ref)
	require.NoError(t, err)
	assert.NotEmpty(t, block)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestInstrumented_CountsOutcomes(t *testing.T) {
	d := NewDevnet()
	m := metrics.New(nil)
	l := NewInstrumented(d, m, nil)
	ctx := context.Background()

	_, err := l.SubmitUnfreeze(ctx, "tok", "r-1", types.StatusNormal)
	require.NoError(t, err)
	d.FailNext(types.StepSubmitUnfreeze, 1)
	_, err = l.SubmitUnfreeze(ctx, "tok-2", "r-1", types.StatusNormal)
	assert.ErrorIs(t, err, ErrInjected)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerCalls.WithLabelValues(types.StepSubmitUnfreeze, metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerCalls.WithLabelValues(types.StepSubmitUnfreeze, metrics.OutcomeError)))
}

func TestInstrumented_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	d := NewDevnet()
	l := NewInstrumented(d, metrics.New(nil), tp.Tracer("test"))
	ctx := context.Background()

	ref, err := l.SubmitFreeze(ctx, "tok", "r-1", "dispute", "REF-1")
	require.NoError(t, err)
	d.FailNext(types.StepQueryBlock, 1)
	_, err = l.QueryBlockReference(ctx, ref)
	require.ErrorIs(t, err, ErrInjected)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "ledger."+types.StepSubmitFreeze, spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("receipt.id", "r-1"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("ledger.ref", ref))

	assert.Equal(t, "ledger."+types.StepQueryBlock, spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.NotEmpty(t, spans[1].Events())
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}
