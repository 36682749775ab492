package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

type RegisterAccountCommand struct {
	Role            domain.Role
	Name            string
	ShippingAddress string // buyers
	ApiaryName      string // producers
}

type AccountService struct {
	accounts port.AccountRepository
	logger   *zap.Logger
}

func NewAccountService(accounts port.AccountRepository, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{accounts: accounts, logger: logger.With(zap.String("component", "accounts"))}
}

func (s *AccountService) Register(ctx context.Context, cmd RegisterAccountCommand) (domain.Account, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, domain.Reject(domain.ErrInvalidAccount, domain.EntityAccount, "")
	}

	var acc domain.Account
	switch cmd.Role {
	case domain.RoleBuyer:
		acc = domain.Buyer{ID: uuid.NewString(), Name: name, ShippingAddress: cmd.ShippingAddress}
	case domain.RoleProducer:
		acc = domain.Producer{ID: uuid.NewString(), Name: name, ApiaryName: cmd.ApiaryName}
	default:
		return nil, domain.Reject(domain.ErrInvalidAccount, domain.EntityAccount, "")
	}

	if err := s.accounts.SaveAccount(ctx, acc); err != nil {
		return nil, classify(err, domain.EntityAccount, acc.AccountID())
	}
	s.logger.Info("account registered", zap.String("account_id", acc.AccountID()), zap.String("role", string(acc.Role())))
	return acc, nil
}

func (s *AccountService) Get(ctx context.Context, accountID string) (domain.Account, error) {
	acc, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, classify(err, domain.EntityAccount, accountID)
	}
	return acc, nil
}
