package receipts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

const (
	numberPrefix      = "WR"
	mergeNumberPrefix = "WR-M"
	maxNumberRetries  = 5
)

// numberer mints human-readable receipt numbers and ledger idempotency
// tokens. ULIDs sort by creation time, so numbers minted on the same day
// list in issue order.
type numberer struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newNumberer() *numberer {
	return &numberer{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (n *numberer) ulid(at time.Time) ulid.ULID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), n.entropy)
}

// token returns a fresh idempotency token.
func (n *numberer) token(at time.Time) string {
	return n.ulid(at).String()
}

func (n *numberer) number(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), n.ulid(at).String())
}

// unique mints numbers until taken reports one as free.
func (n *numberer) unique(ctx context.Context, prefix string, at time.Time, taken func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < maxNumberRetries; i++ {
		num := n.number(prefix, at)
		used, err := taken(ctx, num)
		if err != nil {
			return "", err
		}
		if !used {
			return num, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique receipt number after %d attempts", maxNumberRetries)
}

// childNumber names the n-th child of a split, counting from 1.
func childNumber(parent string, n int) string {
	return fmt.Sprintf("%s-S%d", parent, n)
}

// numberTaken reports whether a receipt already uses num.
func (s *Service) numberTaken(ctx context.Context, num string) (bool, error) {
	_, err := s.store.GetReceiptByNumber(ctx, num)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, types.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("checking receipt number %s: %w", num, err)
	}
}
