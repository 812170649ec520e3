package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
)

type AvailabilityRequest struct {
	SpaceID int64
	Start   time.Time
	End     time.Time
	Demands model.Demands
	// ExcludeReservationID keeps a reservation from conflicting with itself on update.
	ExcludeReservationID int64
}

type availabilityStore interface {
	GetSpace(ctx context.Context, id int64) (model.Space, error)
	GetResource(ctx context.Context, id int64) (model.Resource, error)
	FindOverlappingReservations(ctx context.Context, q model.OverlapQuery) ([]model.Reservation, error)
}

// AvailabilityChecker decides whether a reservation can be admitted. It never
// writes. Checks run range, space, resources, then time so the first failure
// is deterministic.
type AvailabilityChecker struct {
	store availabilityStore
}

func NewAvailabilityChecker(store availabilityStore) *AvailabilityChecker {
	return &AvailabilityChecker{store: store}
}

func (c *AvailabilityChecker) Check(ctx context.Context, req AvailabilityRequest) error {
	if !req.Start.Before(req.End) {
		return errs.BadRequest(errs.ReasonInvalidRange, "start_date must be before end_date")
	}
	for _, d := range req.Demands {
		if d.Quantity <= 0 {
			return errs.BadRequest(errs.ReasonInvalidDemand,
				"quantity for resource %d must be greater than zero", d.ResourceID)
		}
	}

	space, err := c.store.GetSpace(ctx, req.SpaceID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return errors.Wrap(err, "get space")
	}
	if err != nil || space.Status != model.StatusActive {
		return errs.BadRequest(errs.ReasonSpaceUnavailable, "Space %d is inactive or does not exist", req.SpaceID)
	}

	for _, d := range req.Demands {
		res, err := c.store.GetResource(ctx, d.ResourceID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return errors.Wrap(err, "get resource")
		}
		if err != nil || res.Status != model.StatusActive {
			return errs.ResourceUnavailable(d.ResourceID, d.Quantity,
				"Resource ID %d is inactive or does not exist", d.ResourceID)
		}
		if res.Quantity < d.Quantity {
			return errs.ResourceUnavailable(d.ResourceID, d.Quantity-res.Quantity,
				"insufficient quantity for resource %d: requested %d, available %d",
				d.ResourceID, d.Quantity, res.Quantity)
		}
	}

	found, err := c.store.FindOverlappingReservations(ctx, model.OverlapQuery{
		SpaceID:   req.SpaceID,
		Start:     req.Start,
		End:       req.End,
		Statuses:  model.HoldingStatuses,
		ExcludeID: req.ExcludeReservationID,
	})
	if err != nil {
		return errors.Wrap(err, "find overlapping reservations")
	}
	for _, other := range found {
		if other.ID == req.ExcludeReservationID || !other.Status.Holding() {
			continue
		}
		if model.Overlaps(req.Start, req.End, other.StartDate, other.EndDate) {
			return errs.BadRequest(errs.ReasonTimeConflict,
				"space %d is already reserved in this period by reservation %d", req.SpaceID, other.ID)
		}
	}
	return nil
}
