package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/pkg/observability"
)

func newTestRegistry() *ApprovalRegistry {
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "mammon-test", LogLevel: "debug", LogFormat: "json"})
	return NewApprovalRegistry(observability.NewEventLogger(logger))
}

func TestApprovalRegistryApprove(t *testing.T) {
	ar := newTestRegistry()

	var decided bool
	go func() {
		time.Sleep(10 * time.Millisecond)
		ar.mu.Lock()
		var id string
		for k := range ar.requests {
			id = k
		}
		ar.mu.Unlock()
		decided = ar.Decide(id, true)
	}()

	err := ar.RequestAndAwait(context.Background(), "500", time.Second)
	require.NoError(t, err)
	assert.True(t, decided)
}

func TestApprovalRegistryReject(t *testing.T) {
	ar := newTestRegistry()

	go func() {
		time.Sleep(10 * time.Millisecond)
		ar.mu.Lock()
		var id string
		for k := range ar.requests {
			id = k
		}
		ar.mu.Unlock()
		ar.Decide(id, false)
	}()

	err := ar.RequestAndAwait(context.Background(), "500", time.Second)
	assert.True(t, errs.OfKind(err, errs.KindApprovalDenied))
}

func TestApprovalRegistryExpires(t *testing.T) {
	ar := newTestRegistry()

	err := ar.RequestAndAwait(context.Background(), "500", 10*time.Millisecond)
	assert.True(t, errs.OfKind(err, errs.KindApprovalDenied))
}

func TestApprovalRegistryDecideAfterExpiryIsNoOp(t *testing.T) {
	ar := newTestRegistry()

	done := make(chan struct{})
	var id string
	go func() {
		ar.RequestAndAwait(context.Background(), "500", 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(1 * time.Millisecond)
	ar.mu.Lock()
	for k := range ar.requests {
		id = k
	}
	ar.mu.Unlock()

	<-done
	assert.False(t, ar.Decide(id, true), "deciding an already-resolved request must be a no-op")
}
