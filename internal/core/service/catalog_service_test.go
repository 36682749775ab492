package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

func TestCreateItem_ProducerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events := record(f.catalogBus)

	_, err := f.catalog.CreateItem(ctx, f.buyer, CreateItemCommand{Name: "x", Price: dec("1"), Quantity: dec("1")})
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.catalog.CreateItem(ctx, nil, CreateItemCommand{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.catalog.CreateItem(ctx, f.producer, CreateItemCommand{Name: "x", Price: dec("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	item := f.listItem(t, "Heather", "12.50", "4")
	assert.Equal(t, f.producer.ID, item.ProducerID)
	assert.NotEmpty(t, item.ID)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventCreated, got[0].Kind)
	assert.Equal(t, domain.EntityCatalogItem, got[0].Entity)
}

func TestUpdatePrice_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.listItem(t, "Heather", "12", "4")
	events := record(f.catalogBus)

	rival := domain.Producer{ID: "producer-2"}
	_, err := f.catalog.UpdatePrice(ctx, rival, item.ID, dec("1"))
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.catalog.UpdatePrice(ctx, f.producer, "missing", dec("1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	updated, err := f.catalog.UpdatePrice(ctx, f.producer, item.ID, dec("14"))
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(dec("14")))
	assert.True(t, updated.Quantity.Equal(dec("4")))

	got := events.all()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Old)
	assert.True(t, got[0].Old.Price.Equal(dec("12")))
}

func TestRestockAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.listItem(t, "Heather", "12", "4")

	_, err := f.catalog.Restock(ctx, domain.Producer{ID: "producer-2"}, item.ID, dec("1"))
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.catalog.Restock(ctx, f.producer, item.ID, dec("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	restocked, err := f.catalog.Restock(ctx, f.producer, item.ID, dec("6"))
	require.NoError(t, err)
	assert.True(t, restocked.Quantity.Equal(dec("10")))

	events := record(f.catalogBus)
	require.NoError(t, f.catalog.DeleteItem(ctx, f.producer, item.ID))
	_, err = f.catalog.Get(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventDeleted, got[0].Kind)
	assert.Equal(t, item.ID, got[0].New.ID)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.listItem(t, "Acacia", "5", "1")
	f.listItem(t, "Manuka", "40", "1")
	other, err := f.catalog.CreateItem(ctx, domain.Producer{ID: "producer-2"}, CreateItemCommand{
		GroupID: "hive-2", Name: "Clover", Price: dec("7"), Quantity: dec("1"),
	})
	require.NoError(t, err)

	items, err := f.catalog.List(ctx, port.ItemFilter{GroupID: "hive-2"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, other.ID, items[0].ID)

	items, err = f.catalog.List(ctx, port.ItemFilter{ProducerID: f.producer.ID})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
