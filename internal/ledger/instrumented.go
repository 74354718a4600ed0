package ledger

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/receipts/internal/metrics"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

const tracerName = "github.com/mesh-intelligence/receipts/internal/ledger"

// Instrumented records a span and metrics for every call of the wrapped
// client.
type Instrumented struct {
	next    types.LedgerClient
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewInstrumented wraps next. A nil tracer uses the global provider.
func NewInstrumented(next types.LedgerClient, m *metrics.Metrics, tracer trace.Tracer) *Instrumented {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Instrumented{next: next, metrics: m, tracer: tracer}
}

func (i *Instrumented) observe(ctx context.Context, op string, fn func(context.Context) (string, error), attrs ...attribute.KeyValue) (string, error) {
	ctx, span := i.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	ref, err := fn(ctx)
	i.metrics.ObserveLedgerCall(op, err == nil, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("ledger.ref", ref))
	return ref, nil
}

func tokenAttr(token string) attribute.KeyValue { return attribute.String("ledger.token", token) }

func receiptAttr(id string) attribute.KeyValue { return attribute.String("receipt.id", id) }

// SubmitCreate implements types.LedgerClient.
func (i *Instrumented) SubmitCreate(ctx context.Context, token string, payload types.CreatePayload) (string, error) {
	return i.observe(ctx, types.StepSubmitCreate, func(ctx context.Context) (string, error) {
		return i.next.SubmitCreate(ctx, token, payload)
	}, tokenAttr(token), receiptAttr(payload.ReceiptID))
}

// SubmitVerify implements types.LedgerClient.
func (i *Instrumented) SubmitVerify(ctx context.Context, token, receiptID string) (string, error) {
	return i.observe(ctx, types.StepSubmitVerify, func(ctx context.Context) (string, error) {
		return i.next.SubmitVerify(ctx, token, receiptID)
	}, tokenAttr(token), receiptAttr(receiptID))
}

// SubmitSplit implements types.LedgerClient.
func (i *Instrumented) SubmitSplit(ctx context.Context, token, parentID string, childIDs []string, count int) (string, error) {
	return i.observe(ctx, types.StepSubmitSplit, func(ctx context.Context) (string, error) {
		return i.next.SubmitSplit(ctx, token, parentID, childIDs, count)
	}, tokenAttr(token), receiptAttr(parentID), attribute.Int("split.count", count))
}

// SubmitMerge implements types.LedgerClient.
func (i *Instrumented) SubmitMerge(ctx context.Context, token string, sourceIDs []string, mergedID string) (string, error) {
	return i.observe(ctx, types.StepSubmitMerge, func(ctx context.Context) (string, error) {
		return i.next.SubmitMerge(ctx, token, sourceIDs, mergedID)
	}, tokenAttr(token), receiptAttr(mergedID), attribute.String("merge.sources", strings.Join(sourceIDs, ",")))
}

// SubmitCancel implements types.LedgerClient.
func (i *Instrumented) SubmitCancel(ctx context.Context, token, receiptID, reason string) (string, error) {
	return i.observe(ctx, types.StepSubmitCancel, func(ctx context.Context) (string, error) {
		return i.next.SubmitCancel(ctx, token, receiptID, reason)
	}, tokenAttr(token), receiptAttr(receiptID))
}

// SubmitFreeze implements types.LedgerClient.
func (i *Instrumented) SubmitFreeze(ctx context.Context, token, receiptID, reason, referenceNo string) (string, error) {
	return i.observe(ctx, types.StepSubmitFreeze, func(ctx context.Context) (string, error) {
		return i.next.SubmitFreeze(ctx, token, receiptID, reason, referenceNo)
	}, tokenAttr(token), receiptAttr(receiptID))
}

// SubmitUnfreeze implements types.LedgerClient.
func (i *Instrumented) SubmitUnfreeze(ctx context.Context, token, receiptID string, target types.Status) (string, error) {
	return i.observe(ctx, types.StepSubmitUnfreeze, func(ctx context.Context) (string, error) {
		return i.next.SubmitUnfreeze(ctx, token, receiptID, target)
	}, tokenAttr(token), receiptAttr(receiptID), attribute.String("unfreeze.target", string(target)))
}

// QueryBlockReference implements types.LedgerClient.
func (i *Instrumented) QueryBlockReference(ctx context.Context, txRef string) (string, error) {
	return i.observe(ctx, types.StepQueryBlock, func(ctx context.Context) (string, error) {
		return i.next.QueryBlockReference(ctx, txRef)
	}, attribute.String("ledger.tx_ref", txRef))
}
