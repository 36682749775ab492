package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

var ErrGatewayStatus = errors.New("unexpected gateway status")

type HTTPGatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type chargeRequest struct {
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	Approved       bool   `json:"approved"`
	TransactionRef string `json:"transaction_ref"`
	Reason         string `json:"reason"`
}

// HTTPGateway charges through a remote payment provider. Every Charge is a
// single request; retries are left to the caller.
type HTTPGateway struct {
	client *resty.Client
	logger *zap.Logger
}

var _ port.PaymentGateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg HTTPGatewayConfig, logger *zap.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &HTTPGateway{client: client, logger: logger.Named("payment")}
}

func (g *HTTPGateway) Charge(ctx context.Context, charge domain.Charge) (domain.ChargeResult, error) {
	var out chargeResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", charge.OrderID).
		SetBody(chargeRequest{
			OrderID:  charge.OrderID,
			Amount:   charge.Amount.String(),
			Currency: charge.Currency,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/charges")
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("charge %s: %w", charge.OrderID, err)
	}

	switch {
	case resp.IsSuccess():
	case resp.StatusCode() == http.StatusPaymentRequired:
		out.Approved = false
	default:
		g.logger.Warn("gateway rejected request",
			zap.String("order_id", charge.OrderID),
			zap.Int("status", resp.StatusCode()),
		)
		return domain.ChargeResult{}, fmt.Errorf("charge %s: %w %d", charge.OrderID, ErrGatewayStatus, resp.StatusCode())
	}

	return domain.ChargeResult{
		Approved:       out.Approved,
		TransactionRef: out.TransactionRef,
		Reason:         out.Reason,
	}, nil
}
