package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/hive-market/internal/adapter/storage"
	"github.com/rl1809/hive-market/internal/core/domain"
)

func TestRegisterAccount(t *testing.T) {
	svc := NewAccountService(storage.NewMemoryAdapter(), nil)
	ctx := context.Background()

	acc, err := svc.Register(ctx, RegisterAccountCommand{Role: domain.RoleProducer, Name: " Bea ", ApiaryName: "Linden Row"})
	require.NoError(t, err)
	p, ok := acc.(domain.Producer)
	require.True(t, ok)
	assert.Equal(t, "Bea", p.Name)

	got, err := svc.Get(ctx, acc.AccountID())
	require.NoError(t, err)
	assert.Equal(t, acc, got)

	_, err = svc.Register(ctx, RegisterAccountCommand{Role: "admin", Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)
	_, err = svc.Register(ctx, RegisterAccountCommand{Role: domain.RoleBuyer})
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	_, err = svc.Get(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
