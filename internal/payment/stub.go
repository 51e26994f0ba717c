package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fjod/go_checkout/domain"
)

// StubGateway is an in-process processor used for local development and
// demos. By default it captures ~95% of charges and declines the rest,
// split across a few realistic refusal reasons.
type StubGateway struct {
	mu  sync.Mutex
	rng *rand.Rand

	refunded map[string]int64
}

var declineReasons = []string{
	"insufficient funds",
	"card reported stolen",
	"issuer unavailable",
	"suspected fraud",
}

func NewStubGateway(seed int64) *StubGateway {
	return &StubGateway{
		rng:      rand.New(rand.NewSource(seed)),
		refunded: make(map[string]int64),
	}
}

func (s *StubGateway) Charge(_ context.Context, _ int64, _ string, _ domain.PaymentInstrument) (*ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roll := s.rng.Intn(100)
	if roll < 95 {
		return &ChargeResult{
			Status:        ChargeStatusCaptured,
			TransactionID: fmt.Sprintf("TXN-%d-%04d", time.Now().UnixNano(), s.rng.Intn(10000)),
		}, nil
	}

	return &ChargeResult{
		Status:        ChargeStatusDeclined,
		DeclineReason: declineReasons[roll%len(declineReasons)],
	}, nil
}

// Refund always succeeds for the stub and remembers the refunded amount.
func (s *StubGateway) Refund(_ context.Context, transactionID string, amountCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refunded[transactionID] = amountCents
	return nil
}
