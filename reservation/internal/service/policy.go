package service

import (
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
)

// ViewPolicy gates FindOne: only OPEN reservations whose client, space and
// every line-item resource are ACTIVE are viewable. A nil client or space, or
// a line item without a resource, means the reference does not exist.
func ViewPolicy(rsv model.Reservation, client *model.Client, space *model.Space) error {
	if rsv.Status != model.ReservationOpen {
		return errs.BadRequest(errs.ReasonNotViewable, "Only reservations with status OPEN can be viewed")
	}
	if client == nil || client.Status != model.StatusActive {
		return errs.BadRequest(errs.ReasonInactiveClient, "Client is inactive or does not exist")
	}
	if space == nil || space.Status != model.StatusActive {
		return errs.BadRequest(errs.ReasonSpaceUnavailable, "Space is inactive or does not exist")
	}
	for _, it := range rsv.Resources {
		if it.Resource == nil || it.Resource.Status != model.StatusActive {
			return errs.ResourceUnavailable(it.ResourceID, 0, "Resource ID %d is inactive or does not exist", it.ResourceID)
		}
	}
	return nil
}
