// Package receipts is the receipt lifecycle service. It drives receipts
// through the state machine in pkg/types, keeps the local store and the
// ledger consistent through a stage/submit/finalize protocol, and runs the
// structural operations (split, merge, cancel, freeze) behind their
// review workflows.
//
// Every operation follows the same shape: validate input, take the
// per-receipt lock, re-read state, fire events through the Governor,
// commit one changeset, release the lock. Ledger calls happen between two
// such phases and never under a lock.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/internal/events"
	"github.com/mesh-intelligence/receipts/internal/lock"
	"github.com/mesh-intelligence/receipts/internal/metrics"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Service exposes the lifecycle operations.
type Service struct {
	store     types.Store
	ledger    types.LedgerClient
	authz     types.Authorizer
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	clock     func() time.Time
	validate  *validator.Validate
	numbers   *numberer

	unfreezePolicy types.UnfreezePolicy
	staleAfter     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the in-process locker, for example with a Redis
// locker shared by several processes.
func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locker = l } }

// WithPublisher sets where committed status changes are announced.
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithMetrics sets the collectors the service updates.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.clock = now } }

// WithUnfreezePolicy chooses who may unfreeze. It is required.
func WithUnfreezePolicy(p types.UnfreezePolicy) Option {
	return func(s *Service) { s.unfreezePolicy = p }
}

// WithStaleAfter sets how long a receipt may sit in PENDING_ONCHAIN before
// ResumeStalled picks it up.
func WithStaleAfter(d time.Duration) Option { return func(s *Service) { s.staleAfter = d } }

// DefaultStaleAfter is used when WithStaleAfter is not given.
const DefaultStaleAfter = 5 * time.Minute

// New builds a service. The unfreeze policy has no default and must be
// supplied with WithUnfreezePolicy.
func New(store types.Store, ledger types.LedgerClient, authz types.Authorizer, opts ...Option) (*Service, error) {
	if store == nil || ledger == nil || authz == nil {
		return nil, errors.New("receipts: store, ledger and authorizer are required")
	}
	s := &Service{
		store:      store,
		ledger:     ledger,
		authz:      authz,
		locker:     lock.NewLocal(),
		publisher:  events.Nop{},
		logger:     zap.NewNop(),
		clock:      time.Now,
		numbers:    newNumberer(),
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.unfreezePolicy == "" {
		return nil, types.ErrUnfreezePolicyMissing
	}
	if !s.unfreezePolicy.Valid() {
		return nil, types.ErrUnfreezePolicyUnknown
	}
	if s.staleAfter < 0 {
		return nil, types.ErrStaleAfterInvalid
	}
	s.validate = newValidator()
	return s, nil
}

// Result reports the outcome of a mutating operation. Ledger failures on
// mandatory paths are reported here, with Synced false and FailedStep set,
// rather than as an error. Merge results describe the sources in
// SourceIDs and the product in MergedID.
type Result struct {
	ReceiptID         string                  `json:"receipt_id,omitempty"`
	Status            types.Status            `json:"status"`
	TxRef             string                  `json:"tx_ref,omitempty"`
	BlockRef          string                  `json:"block_ref,omitempty"`
	ApplicationID     string                  `json:"application_id,omitempty"`
	ApplicationStatus types.ApplicationStatus `json:"application_status,omitempty"`
	ChildIDs          []string                `json:"child_ids,omitempty"`
	SourceIDs         []string                `json:"source_ids,omitempty"`
	MergedID          string                  `json:"merged_id,omitempty"`
	Synced            bool                    `json:"synced"`
	FailedStep        string                  `json:"failed_step,omitempty"`
	Failure           string                  `json:"failure,omitempty"`
}

func resultFor(r *types.Receipt) Result {
	l := r.Ledger()
	return Result{
		ReceiptID: r.ID,
		Status:    r.Status(),
		TxRef:     l.TxRef,
		BlockRef:  l.BlockRef,
		Synced:    l.Sync == types.SyncSynced,
	}
}

func (r Result) withApplication(a *types.Application) Result {
	r.ApplicationID = a.ID
	r.ApplicationStatus = a.Status
	return r
}

func (r Result) withFailure(f *types.SyncFailure) Result {
	if f != nil {
		r.Synced = false
		r.FailedStep = f.Step
		r.Failure = f.Reason
	}
	return r
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) withLock(ctx context.Context, ids []string, fn func(context.Context) error) error {
	return s.locker.WithLock(ctx, lock.ReceiptKeys(ids...), fn)
}

func (s *Service) load(ctx context.Context, id string) (*types.Receipt, error) {
	if id == "" {
		return nil, types.NewValidationError("receipt_id", "is required")
	}
	return s.store.GetReceipt(ctx, id)
}

func (s *Service) loadApplication(ctx context.Context, id string, kind types.ApplicationKind) (*types.Application, error) {
	a, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Kind != kind {
		return nil, types.NewValidationError("application_id", "application "+id+" is a "+string(a.Kind)+" application, not "+string(kind))
	}
	return a, nil
}

func conflict(r *types.Receipt, ev types.Event, reason string) error {
	return &types.StateConflictError{Current: r.Status(), Event: ev, Reason: reason}
}

func pendingOnly(a *types.Application) error {
	if a.Status != types.ApplicationPending {
		return &types.StateConflictError{
			Event:  "review",
			Reason: "application " + a.ID + " is already " + string(a.Status),
		}
	}
	return nil
}

// batch collects the writes of one phase and the transitions they carry.
type batch struct {
	cs    types.Changeset
	moves []move
}

type move struct {
	receiptID     string
	number        string
	from, to      types.Status
	event         types.Event
	actor         string
	applicationID string
	txRef         string
	at            time.Time
}

func (b *batch) tracked(r *types.Receipt) bool {
	for _, u := range b.cs.Updates {
		if u == r {
			return true
		}
	}
	for _, u := range b.cs.Inserts {
		if u == r {
			return true
		}
	}
	return false
}

// update schedules a compare-and-swap write of r.
func (b *batch) update(r *types.Receipt) {
	if !b.tracked(r) {
		b.cs.Updates = append(b.cs.Updates, r)
	}
}

// insert schedules r as a new addressable receipt.
func (b *batch) insert(r *types.Receipt) {
	if !b.tracked(r) {
		b.cs.Inserts = append(b.cs.Inserts, r)
	}
}

func (b *batch) audit(entries ...types.AuditEntry) {
	b.cs.Audit = append(b.cs.Audit, entries...)
}

// fire runs ev through the Governor and schedules the write.
func (b *batch) fire(r *types.Receipt, ev types.Event, f types.Facts, applicationID string) error {
	from := r.Status()
	if err := r.Fire(ev, f); err != nil {
		return err
	}
	b.update(r)
	m := move{
		receiptID:     r.ID,
		number:        r.Number,
		from:          from,
		to:            r.Status(),
		event:         ev,
		actor:         f.Actor,
		applicationID: applicationID,
		txRef:         r.Ledger().TxRef,
		at:            r.UpdatedAt,
	}
	b.moves = append(b.moves, m)
	b.audit(types.AuditEntry{
		ReceiptID:     r.ID,
		ApplicationID: applicationID,
		Action:        types.AuditTransition,
		Actor:         f.Actor,
		From:          from,
		To:            m.to,
		Event:         ev,
		Reason:        f.Reason,
		TxRef:         m.txRef,
		At:            m.at,
	})
	return nil
}

// apply commits the batch and announces its transitions.
func (s *Service) apply(ctx context.Context, b *batch) error {
	if err := s.store.Apply(ctx, b.cs); err != nil {
		return s.storeErr(err, b)
	}
	for _, m := range b.moves {
		s.metrics.ObserveTransition(string(m.from), string(m.event), string(m.to))
	}
	s.publish(ctx, b.moves)
	return nil
}

// storeErr maps store sentinels onto the error taxonomy.
func (s *Service) storeErr(err error, b *batch) error {
	var (
		cur types.Status
		ev  types.Event
	)
	if b != nil && len(b.moves) > 0 {
		cur, ev = b.moves[0].from, b.moves[0].event
	}
	switch {
	case errors.Is(err, types.ErrVersionConflict):
		return &types.StateConflictError{Current: cur, Event: ev, Reason: "receipt was modified concurrently, reload and retry"}
	case errors.Is(err, types.ErrPendingApplication):
		return &types.StateConflictError{Current: cur, Event: ev, Reason: types.ErrPendingApplication.Error()}
	case errors.Is(err, types.ErrNotDraft):
		return &types.StateConflictError{Current: cur, Event: ev, Reason: types.ErrNotDraft.Error()}
	case errors.Is(err, types.ErrDuplicateNumber):
		return types.NewValidationError("number", types.ErrDuplicateNumber.Error())
	}
	return err
}

func (s *Service) publish(ctx context.Context, moves []move) {
	if len(moves) == 0 {
		return
	}
	changes := make([]events.StatusChanged, len(moves))
	for i, m := range moves {
		changes[i] = events.StatusChanged{
			ReceiptID:     m.receiptID,
			Number:        m.number,
			From:          m.from,
			To:            m.to,
			Event:         m.event,
			Actor:         m.actor,
			ApplicationID: m.applicationID,
			TxRef:         m.txRef,
			At:            m.at,
		}
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), changes...); err != nil {
		s.logger.Warn("status change publish failed", zap.Int("count", len(changes)), zap.Error(err))
		s.metrics.ObservePublishFailure(len(changes))
	}
}

// outcome is what the Submit stage learned from the ledger.
type outcome struct {
	txRef    string
	blockRef string
	failure  *types.SyncFailure
}

func (o outcome) ok() bool { return o.failure == nil }

func (o outcome) ledgerRef() types.LedgerRef {
	return types.LedgerRef{TxRef: o.txRef, BlockRef: o.blockRef}
}

// ledgerFailed turns a ledger error into a failure annotation.
func (s *Service) ledgerFailed(log *zap.Logger, receiptID, step string, err error) outcome {
	lerr := types.NewLedgerError(step, err)
	log.Warn("ledger call failed",
		zap.String("receipt_id", receiptID),
		zap.String("operation", step),
		zap.Error(lerr),
	)
	return outcome{failure: &types.SyncFailure{Step: step, Reason: lerr.Error(), At: s.now()}}
}

// confirm submits one structural write and resolves its block.
func (s *Service) confirm(ctx context.Context, log *zap.Logger, receiptID, step string, submit func(context.Context) (string, error)) outcome {
	txRef, err := submit(ctx)
	if err != nil {
		return s.ledgerFailed(log, receiptID, step, err)
	}
	block, err := s.ledger.QueryBlockReference(ctx, txRef)
	if err != nil {
		return s.ledgerFailed(log, receiptID, types.StepQueryBlock, err)
	}
	log.Info("ledger write confirmed",
		zap.String("receipt_id", receiptID),
		zap.String("operation", step),
		zap.String("tx_ref", txRef),
		zap.String("block_ref", block),
	)
	return outcome{txRef: txRef, blockRef: block}
}

// stranded turns a ledger write that committed after the receipt moved on
// into a failure that names the orphaned transaction.
func (s *Service) stranded(log *zap.Logger, r *types.Receipt, step string, out outcome) outcome {
	reason := fmt.Sprintf("ledger committed %s but receipt is now %s", out.txRef, r.Status())
	log.Error("ledger write could not be applied",
		zap.String("receipt_id", r.ID),
		zap.String("operation", step),
		zap.String("tx_ref", out.txRef),
		zap.String("status", string(r.Status())),
	)
	out.failure = &types.SyncFailure{Step: types.StepFinalize, Reason: reason, At: s.now()}
	return out
}

func failureAudit(receiptID, applicationID, actor string, out outcome) types.AuditEntry {
	return types.AuditEntry{
		ReceiptID:     receiptID,
		ApplicationID: applicationID,
		Action:        types.AuditLedgerFailure,
		Actor:         actor,
		Reason:        out.failure.Step + ": " + out.failure.Reason,
		TxRef:         out.txRef,
		At:            out.failure.At,
	}
}
