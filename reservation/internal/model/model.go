package model

import (
	"sort"
	"time"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
)

// Status is the activity flag shared by clients, spaces and resources.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

type ReservationStatus string

const (
	ReservationOpen      ReservationStatus = "OPEN"
	ReservationApproved  ReservationStatus = "APPROVED"
	ReservationClosed    ReservationStatus = "CLOSED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// HoldingStatuses are the statuses that keep stock and the time slot.
var HoldingStatuses = []ReservationStatus{ReservationOpen, ReservationApproved}

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationOpen, ReservationApproved, ReservationClosed, ReservationCancelled:
		return true
	}
	return false
}

func (s ReservationStatus) Terminal() bool {
	return s == ReservationClosed || s == ReservationCancelled
}

func (s ReservationStatus) Holding() bool {
	return s == ReservationOpen || s == ReservationApproved
}

type Client struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CPF       string    `json:"cpf" db:"cpf"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone" db:"phone"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Space struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Capacity    int       `json:"capacity" db:"capacity"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Resource struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Quantity    int       `json:"quantity" db:"quantity"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Reservation struct {
	ID        int64                 `json:"id" db:"id"`
	ClientID  int64                 `json:"client_id" db:"client_id"`
	SpaceID   int64                 `json:"space_id" db:"space_id"`
	StartDate time.Time             `json:"start_date" db:"start_date"`
	EndDate   time.Time             `json:"end_date" db:"end_date"`
	Status    ReservationStatus     `json:"status" db:"status"`
	CreatedAt time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt time.Time             `json:"updated_at" db:"updated_at"`
	ClosedAt  *time.Time            `json:"closed_at" db:"closed_at"`
	Resources []ReservationResource `json:"resources" db:"-"`
}

// ReservationResource is one committed (resource, quantity) line item.
type ReservationResource struct {
	ReservationID int64     `json:"reservation_id" db:"reservation_id"`
	ResourceID    int64     `json:"resource_id" db:"resource_id"`
	Quantity      int       `json:"quantity" db:"quantity"`
	Resource      *Resource `json:"resource,omitempty" db:"-"`
}

// ReservationDetails is a reservation with its references resolved.
type ReservationDetails struct {
	Reservation
	Client Client `json:"client"`
	Space  Space  `json:"space"`
}

type ResourceDemand struct {
	ResourceID int64 `json:"resource_id" validate:"required,gt=0"`
	Quantity   int   `json:"quantity"`
}

type CreateReservationRequest struct {
	ClientID  int64            `json:"client_id" validate:"required,gt=0"`
	SpaceID   int64            `json:"space_id" validate:"required,gt=0"`
	StartDate time.Time        `json:"start_date" validate:"required"`
	EndDate   time.Time        `json:"end_date" validate:"required"`
	Resources []ResourceDemand `json:"resources" validate:"required,dive"`
}

// UpdateReservationRequest is a patch: nil fields are left untouched and an
// empty resources list counts as absent.
type UpdateReservationRequest struct {
	ClientID  *int64             `json:"client_id" validate:"omitempty,gt=0"`
	SpaceID   *int64             `json:"space_id" validate:"omitempty,gt=0"`
	StartDate *time.Time         `json:"start_date"`
	EndDate   *time.Time         `json:"end_date"`
	Resources []ResourceDemand   `json:"resources" validate:"omitempty,dive"`
	Status    *ReservationStatus `json:"status" validate:"omitempty,oneof=OPEN APPROVED CLOSED CANCELLED"`
}

const (
	DefaultPage  = 1
	DefaultLimit = 10

	// MaxPage bounds the offset a listing can request.
	MaxPage = 1_000_000
)

type ListFilter struct {
	CPF    string            `query:"cpf" validate:"omitempty,cpf"`
	Status ReservationStatus `query:"status" validate:"omitempty,oneof=OPEN APPROVED CLOSED CANCELLED"`
	From   time.Time         `query:"from"`
	To     time.Time         `query:"to"`
	Page   int               `query:"page" validate:"gte=1,lte=1000000"`
	Limit  int               `query:"limit" validate:"gte=1,lte=100"`

	// ClientID is resolved from CPF by the service.
	ClientID int64 `query:"-" validate:"-"`
}

func (f ListFilter) Offset() uint64 {
	if f.Page <= 1 || f.Limit <= 0 {
		return 0
	}
	return uint64(f.Page-1) * uint64(f.Limit)
}

type ListReservations struct {
	Count int           `json:"count"`
	Pages int           `json:"pages"`
	Data  []Reservation `json:"data"`
}

func Pages(count, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (count + limit - 1) / limit
}

type Demand struct {
	ResourceID int64
	Quantity   int
}

// Demands is a normalized demand set: one entry per resource, ascending by
// resource id.
type Demands []Demand

func NormalizeDemands(items []ResourceDemand) (Demands, error) {
	sums := make(map[int64]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, errs.BadRequest(errs.ReasonInvalidDemand,
				"quantity for resource %d must be greater than zero", it.ResourceID)
		}
		sums[it.ResourceID] += it.Quantity
	}
	ds := make(Demands, 0, len(sums))
	for id, q := range sums {
		ds = append(ds, Demand{ResourceID: id, Quantity: q})
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].ResourceID < ds[j].ResourceID })
	return ds, nil
}

func DemandsOf(items []ReservationResource) Demands {
	rd := make([]ResourceDemand, 0, len(items))
	for _, it := range items {
		rd = append(rd, ResourceDemand{ResourceID: it.ResourceID, Quantity: it.Quantity})
	}
	ds, _ := NormalizeDemands(rd)
	return ds
}

func (ds Demands) Total() int {
	var n int
	for _, d := range ds {
		n += d.Quantity
	}
	return n
}

func (ds Demands) LineItems(reservationID int64) []ReservationResource {
	items := make([]ReservationResource, 0, len(ds))
	for _, d := range ds {
		items = append(items, ReservationResource{ReservationID: reservationID, ResourceID: d.ResourceID, Quantity: d.Quantity})
	}
	return items
}

// Overlaps reports half-open interval intersection of [aStart, aEnd) and [bStart, bEnd).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

type OverlapQuery struct {
	SpaceID   int64
	Start     time.Time
	End       time.Time
	Statuses  []ReservationStatus
	ExcludeID int64
}
