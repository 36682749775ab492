package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventCreated EventKind = "CREATED"
	EventUpdated EventKind = "UPDATED"
	EventDeleted EventKind = "DELETED"
)

// EntityType tags the aggregate an event or error refers to.
type EntityType string

const (
	EntityOrder       EntityType = "order"
	EntityCatalogItem EntityType = "catalog_item"
	EntityCart        EntityType = "cart"
	EntityAccount     EntityType = "account"
)

// ChangeEvent describes one committed change. Build it with Created,
// Updated or Deleted and never modify it afterwards.
type ChangeEvent[T any] struct {
	ID         string     `json:"id"`
	Kind       EventKind  `json:"kind"`
	Entity     EntityType `json:"entity"`
	EntityID   string     `json:"entity_id"`
	New        T          `json:"new"`
	Old        *T         `json:"old,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func newEvent[T any](kind EventKind, entity EntityType, id string, snapshot T, old *T) ChangeEvent[T] {
	return ChangeEvent[T]{
		ID:         uuid.NewString(),
		Kind:       kind,
		Entity:     entity,
		EntityID:   id,
		New:        snapshot,
		Old:        old,
		OccurredAt: time.Now().UTC(),
	}
}

func Created[T any](entity EntityType, id string, snapshot T) ChangeEvent[T] {
	return newEvent(EventCreated, entity, id, snapshot, nil)
}

func Updated[T any](entity EntityType, id string, old, snapshot T) ChangeEvent[T] {
	return newEvent(EventUpdated, entity, id, snapshot, &old)
}

// Deleted carries the last known snapshot as New.
func Deleted[T any](entity EntityType, id string, last T) ChangeEvent[T] {
	return newEvent(EventDeleted, entity, id, last, nil)
}

type OrderEvent = ChangeEvent[Order]

type CatalogEvent = ChangeEvent[CatalogItem]
