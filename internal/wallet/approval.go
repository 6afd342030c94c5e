package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/pkg/observability"
)

// ApprovalStatus is the terminal or in-flight state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is raised when a transaction's USD value crosses the
// configured approval threshold. It is resolved exactly once, either by an
// operator decision or by its own timeout.
type ApprovalRequest struct {
	ID        string
	AmountUSD string
	CreatedAt time.Time
	Status    ApprovalStatus

	done chan struct{} // closed exactly once, on the terminal transition
	mu   sync.Mutex
}

// ApprovalRegistry tracks in-flight approval requests. Grounded on the
// teacher's pattern (internal/risk/engine.go RiskAlert delivery) of
// signaling state changes through a channel rather than having callers
// poll, adapted here to a one-shot close-on-resolve channel per request
// since each request has exactly one terminal transition.
type ApprovalRegistry struct {
	mu       sync.Mutex
	requests map[string]*ApprovalRequest

	audit *observability.EventLogger
}

// NewApprovalRegistry constructs an empty registry.
func NewApprovalRegistry(audit *observability.EventLogger) *ApprovalRegistry {
	return &ApprovalRegistry{
		requests: make(map[string]*ApprovalRequest),
		audit:    audit,
	}
}

// RequestAndAwait raises a new approval request and blocks until it is
// resolved or timeout elapses, whichever comes first. A timeout resolves
// the request as Expired exactly once, even if Decide races it.
func (ar *ApprovalRegistry) RequestAndAwait(ctx context.Context, amountUSD string, timeout time.Duration) error {
	req := &ApprovalRequest{
		ID:        uuid.NewString(),
		AmountUSD: amountUSD,
		CreatedAt: time.Now().UTC(),
		Status:    ApprovalPending,
		done:      make(chan struct{}),
	}

	ar.mu.Lock()
	ar.requests[req.ID] = req
	ar.mu.Unlock()

	ar.audit.Record(ctx, observability.EventApprovalRequested, map[string]interface{}{
		"approval_id": req.ID,
		"amount_usd":  amountUSD,
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-req.done:
	case <-timer.C:
		ar.resolve(req, ApprovalExpired)
	case <-ctx.Done():
		ar.resolve(req, ApprovalExpired)
	}

	ar.mu.Lock()
	delete(ar.requests, req.ID)
	ar.mu.Unlock()

	switch req.Status {
	case ApprovalApproved:
		return nil
	case ApprovalExpired:
		ar.audit.Record(ctx, observability.EventApprovalExpired, map[string]interface{}{"approval_id": req.ID})
		return errs.Wrap(errs.KindApprovalDenied, "approval expired", nil)
	default:
		ar.audit.Record(ctx, observability.EventApprovalRejected, map[string]interface{}{"approval_id": req.ID})
		return errs.Wrap(errs.KindApprovalDenied, "approval rejected", nil)
	}
}

// Decide resolves a pending request as approved or rejected. It is a no-op
// if the request already reached a terminal state (e.g. it already expired).
func (ar *ApprovalRegistry) Decide(id string, approved bool) bool {
	ar.mu.Lock()
	req, ok := ar.requests[id]
	ar.mu.Unlock()
	if !ok {
		return false
	}

	status := ApprovalRejected
	if approved {
		status = ApprovalApproved
	}
	return ar.resolve(req, status)
}

// resolve transitions req to a terminal status exactly once.
func (ar *ApprovalRegistry) resolve(req *ApprovalRequest, status ApprovalStatus) bool {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.Status != ApprovalPending {
		return false
	}
	req.Status = status
	close(req.done)
	return true
}
