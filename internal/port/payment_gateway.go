package port

import (
	"context"

	"github.com/rl1809/hive-market/internal/core/domain"
)

type PaymentGateway interface {
	// Charge performs one blocking attempt. A declined charge is reported
	// through the result, transport failures through err.
	Charge(ctx context.Context, charge domain.Charge) (domain.ChargeResult, error)
}
