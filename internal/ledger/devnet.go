// Package ledger holds LedgerClient adapters: an in-process development
// ledger and decorators that guard and instrument any client.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// Devnet errors.
var (
	ErrInjected      = errors.New("devnet: injected failure")
	ErrTokenRequired = errors.New("devnet: idempotency token is required")
	ErrUnknownTx     = errors.New("devnet: unknown transaction")
)

// Tx is one committed devnet transaction.
type Tx struct {
	Ref     string          `json:"ref"`
	Op      string          `json:"op"`
	Token   string          `json:"token"`
	Payload json.RawMessage `json:"payload"`
	Block   string          `json:"block"`
	Height  uint64          `json:"height"`
	At      time.Time       `json:"at"`
}

type fault struct {
	remaining   int // negative means forever
	afterCommit bool
}

// Devnet is an append-only ledger living in memory and, optionally, in a
// JSON file. Transaction references are keccak hashes of the operation,
// token and payload; a token that already committed for an operation
// returns the original reference without writing again.
type Devnet struct {
	mu        sync.Mutex
	path      string
	txs       []Tx
	byToken   map[string]int
	byRef     map[string]int
	faults    map[string]*fault
	now       func() time.Time
	committed int
}

// NewDevnet returns an empty in-memory ledger.
func NewDevnet() *Devnet {
	return &Devnet{
		byToken: make(map[string]int),
		byRef:   make(map[string]int),
		faults:  make(map[string]*fault),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OpenDevnet loads a ledger persisted at path, creating it on first use.
// Every commit rewrites the file.
func OpenDevnet(path string) (*Devnet, error) {
	d := NewDevnet()
	d.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read devnet %s: %w", path, err)
	}
	if len(data) == 0 {
		return d, nil
	}
	var txs []Tx
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("parse devnet %s: %w", path, err)
	}
	for _, tx := range txs {
		d.index(tx)
	}
	return d, nil
}

func (d *Devnet) index(tx Tx) {
	d.txs = append(d.txs, tx)
	i := len(d.txs) - 1
	d.byToken[tx.Op+"/"+tx.Token] = i
	d.byRef[tx.Ref] = i
}

// FailNext makes the next n calls of step fail before anything commits.
func (d *Devnet) FailNext(step string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[step] = &fault{remaining: n}
}

// FailAlways makes every call of step fail until Heal.
func (d *Devnet) FailAlways(step string) {
	d.FailNext(step, -1)
}

// FailAfterCommit makes the next n calls of step commit and then report a
// failure, the way a timed-out client sees a write that did land.
func (d *Devnet) FailAfterCommit(step string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[step] = &fault{remaining: n, afterCommit: true}
}

// Heal clears any fault on step.
func (d *Devnet) Heal(step string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.faults, step)
}

// Writes returns how many transactions this process committed.
func (d *Devnet) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed
}

// Transactions returns a copy of the chain.
func (d *Devnet) Transactions() []Tx {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Tx(nil), d.txs...)
}

// trip consumes one use of the fault on step, if any. Caller holds mu.
func (d *Devnet) trip(step string, afterCommit bool) bool {
	f, ok := d.faults[step]
	if !ok || f.afterCommit != afterCommit {
		return false
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(d.faults, step)
		}
	}
	return true
}

func (d *Devnet) submit(ctx context.Context, step, token string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrTokenRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.trip(step, false) {
		return "", fmt.Errorf("%s: %w", step, ErrInjected)
	}
	if i, ok := d.byToken[step+"/"+token]; ok {
		return d.txs[i].Ref, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%s: marshal payload: %w", step, err)
	}
	height := uint64(len(d.txs) + 1)
	ref := crypto.Keccak256Hash([]byte(step), []byte(token), data).Hex()
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], height)
	tx := Tx{
		Ref:     ref,
		Op:      step,
		Token:   token,
		Payload: data,
		Block:   crypto.Keccak256Hash(hb[:], []byte(ref)).Hex(),
		Height:  height,
		At:      d.now(),
	}
	d.index(tx)
	d.committed++
	if err := d.persist(); err != nil {
		return "", fmt.Errorf("%s: %w", step, err)
	}

	if d.trip(step, true) {
		return "", fmt.Errorf("%s: %w", step, ErrInjected)
	}
	return ref, nil
}

// persist rewrites the ledger file. Caller holds mu.
func (d *Devnet) persist() error {
	if d.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(d.txs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal devnet: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create devnet dir: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write devnet: %w", err)
	}
	return os.Rename(tmp, d.path)
}

// SubmitCreate implements types.LedgerClient.
func (d *Devnet) SubmitCreate(ctx context.Context, token string, payload types.CreatePayload) (string, error) {
	return d.submit(ctx, types.StepSubmitCreate, token, payload)
}

// SubmitVerify implements types.LedgerClient.
func (d *Devnet) SubmitVerify(ctx context.Context, token, receiptID string) (string, error) {
	return d.submit(ctx, types.StepSubmitVerify, token, map[string]string{"receipt_id": receiptID})
}

// SubmitSplit implements types.LedgerClient.
func (d *Devnet) SubmitSplit(ctx context.Context, token, parentID string, childIDs []string, count int) (string, error) {
	return d.submit(ctx, types.StepSubmitSplit, token, struct {
		ParentID string   `json:"parent_id"`
		ChildIDs []string `json:"child_ids"`
		Count    int      `json:"count"`
	}{parentID, childIDs, count})
}

// SubmitMerge implements types.LedgerClient.
func (d *Devnet) SubmitMerge(ctx context.Context, token string, sourceIDs []string, mergedID string) (string, error) {
	return d.submit(ctx, types.StepSubmitMerge, token, struct {
		SourceIDs []string `json:"source_ids"`
		MergedID  string   `json:"merged_id"`
	}{sourceIDs, mergedID})
}

// SubmitCancel implements types.LedgerClient.
func (d *Devnet) SubmitCancel(ctx context.Context, token, receiptID, reason string) (string, error) {
	return d.submit(ctx, types.StepSubmitCancel, token, map[string]string{"receipt_id": receiptID, "reason": reason})
}

// SubmitFreeze implements types.LedgerClient.
func (d *Devnet) SubmitFreeze(ctx context.Context, token, receiptID, reason, referenceNo string) (string, error) {
	return d.submit(ctx, types.StepSubmitFreeze, token, map[string]string{
		"receipt_id": receiptID, "reason": reason, "reference_no": referenceNo,
	})
}

// SubmitUnfreeze implements types.LedgerClient.
func (d *Devnet) SubmitUnfreeze(ctx context.Context, token, receiptID string, target types.Status) (string, error) {
	return d.submit(ctx, types.StepSubmitUnfreeze, token, map[string]string{"receipt_id": receiptID, "target": string(target)})
}

// QueryBlockReference implements types.LedgerClient.
func (d *Devnet) QueryBlockReference(ctx context.Context, txRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.trip(types.StepQueryBlock, false) || d.trip(types.StepQueryBlock, true) {
		return "", fmt.Errorf("%s: %w", types.StepQueryBlock, ErrInjected)
	}
	i, ok := d.byRef[txRef]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTx, txRef)
	}
	return d.txs[i].Block, nil
}
