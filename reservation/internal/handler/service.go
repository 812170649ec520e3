package handler

import (
	"context"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type ReservationService interface {
	CreateReservation(ctx context.Context, req model.CreateReservationRequest) (model.Reservation, error)
	UpdateReservation(ctx context.Context, id int64, req model.UpdateReservationRequest) (model.Reservation, error)
	CancelReservation(ctx context.Context, id int64) (model.Reservation, error)
	GetReservation(ctx context.Context, id int64) (model.ReservationDetails, error)
	ListReservations(ctx context.Context, f model.ListFilter) (model.ListReservations, error)
	InactivateClient(ctx context.Context, id int64) (model.Client, error)
}

var _ ReservationService = (*service.Service)(nil)
