package service

import (
	"errors"

	"github.com/rl1809/hive-market/internal/core/domain"
)

// classify attaches the aggregate to repository errors. Business sentinels
// keep their kind; anything else is reported as storage unavailability.
func classify(err error, entity domain.EntityType, id string) error {
	if err == nil {
		return nil
	}
	var rej *domain.RejectionError
	if errors.As(err, &rej) {
		return err
	}
	var e *domain.Error
	if errors.As(err, &e) {
		return domain.Reject(e, entity, id)
	}
	return domain.RejectWith(domain.ErrStorageUnavailable, entity, id, err)
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.CodeOf(err)
}

func accountID(acc domain.Account) string {
	if acc == nil {
		return ""
	}
	return acc.AccountID()
}
