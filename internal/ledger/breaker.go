package ledger

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// BreakerSettings configure the circuit around a ledger client.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultBreakerSettings trips after five straight failures and probes
// again after thirty seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "ledger",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Breaker stops calling a failing ledger for a while. Calls rejected by an
// open circuit fail fast with gobreaker.ErrOpenState, which the lifecycle
// service records like any other ledger failure.
type Breaker struct {
	next   types.LedgerClient
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewBreaker wraps next.
func NewBreaker(next types.LedgerClient, s BreakerSettings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	b := &Breaker{next: next, logger: logger.Named("breaker")}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("ledger circuit changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return b
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) exec(fn func() (string, error)) (string, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SubmitCreate implements types.LedgerClient.
func (b *Breaker) SubmitCreate(ctx context.Context, token string, payload types.CreatePayload) (string, error) {
	return b.exec(func() (string, error) { return b.next.SubmitCreate(ctx, token, payload) })
}

// SubmitVerify implements types.LedgerClient.
func (b *Breaker) SubmitVerify(ctx context.Context, token, receiptID string) (string, error) {
	return b.exec(func() (string, error) { return b.next.SubmitVerify(ctx, token, receiptID) })
}

// SubmitSplit implements types.LedgerClient.
func (b *Breaker) SubmitSplit(ctx context.Context, token, parentID string, childIDs []string, count int) (string, error) {
	return b.exec(func() (string, error) { return b.next.SubmitSplit(ctx, token, parentID, childIDs, count) })
}

// SubmitMerge implements types.LedgerClient.
func (b *Breaker) SubmitMerge(ctx context.Context, token string, sourceIDs []string, mergedID string) (string, error) {
	return b.exec(func() (string, error) { return b.next.SubmitMerge(ctx, token, sourceIDs, mergedID) })
}

// SubmitCancel implements types.LedgerClient.
func (b *Breaker) SubmitCancel(ctx context.Context, token, receiptID, reason string) (string, error) {
	return b.exec(func() (string, error) { return b.next.SubmitCancel(ctx, token, receiptID, reason) })
}

// SubmitFreeze implements types.LedgerClient.
func (b *Breaker) SubmitFreeze(ctx context.Context, token, receiptID, reason, referenceNo string) (string, error) {
	return b.exec(func() (string, error) { return b.next.SubmitFreeze(ctx, token, receiptID, reason, referenceNo) })
}

// SubmitUnfreeze implements types.LedgerClient.
func (b *Breaker) SubmitUnfreeze(ctx context.Context, token, receiptID string, target types.Status) (string, error) {
	return b.exec(func() (string, error) { return b.next.SubmitUnfreeze(ctx, token, receiptID, target) })
}

// QueryBlockReference implements types.LedgerClient.
func (b *Breaker) QueryBlockReference(ctx context.Context, txRef string) (string, error) {
	return b.exec(func() (string, error) { return b.next.QueryBlockReference(ctx, txRef) })
}
