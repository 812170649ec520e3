package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
)

type ledgerStore interface {
	DecrementResourceQuantity(ctx context.Context, id int64, qty int) (bool, error)
	IncrementResourceQuantity(ctx context.Context, id int64, qty int) error
}

// Ledger moves resource units between stock and reservations. It must run
// inside the caller's transaction: a failed Commit leaves earlier decrements
// to be rolled back by it.
type Ledger struct {
	store ledgerStore
}

func NewLedger(store ledgerStore) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Commit(ctx context.Context, demands model.Demands) error {
	for _, d := range demands {
		ok, err := l.store.DecrementResourceQuantity(ctx, d.ResourceID, d.Quantity)
		if err != nil {
			return errors.Wrapf(err, "decrement resource %d", d.ResourceID)
		}
		if !ok {
			e := errs.BadRequest(errs.ReasonInsufficientQuantity, "insufficient quantity for resource %d", d.ResourceID)
			e.ResourceID = d.ResourceID
			return e
		}
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, demands model.Demands) error {
	for _, d := range demands {
		if err := l.store.IncrementResourceQuantity(ctx, d.ResourceID, d.Quantity); err != nil {
			return errors.Wrapf(err, "increment resource %d", d.ResourceID)
		}
	}
	return nil
}
