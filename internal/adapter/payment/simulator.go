package payment

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

// Simulator approves every charge up to Limit. A zero Limit approves
// everything.
type Simulator struct {
	Limit   decimal.Decimal
	Latency time.Duration

	charges  atomic.Int64
	declined atomic.Int64
}

var _ port.PaymentGateway = (*Simulator)(nil)

func NewSimulator(limit decimal.Decimal, latency time.Duration) *Simulator {
	return &Simulator{Limit: limit, Latency: latency}
}

func (s *Simulator) Charge(ctx context.Context, charge domain.Charge) (domain.ChargeResult, error) {
	s.charges.Add(1)
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return domain.ChargeResult{}, ctx.Err()
		}
	}

	if !s.Limit.IsZero() && charge.Amount.GreaterThan(s.Limit) {
		s.declined.Add(1)
		return domain.ChargeResult{Reason: "amount exceeds limit"}, nil
	}
	return domain.ChargeResult{Approved: true, TransactionRef: "sim-" + uuid.NewString()}, nil
}

// Charges returns how many charges were attempted.
func (s *Simulator) Charges() int64 { return s.charges.Load() }

func (s *Simulator) Declined() int64 { return s.declined.Load() }
