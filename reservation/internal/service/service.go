package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/kafka"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/metrics"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/repository"
)

const tracerName = "reservation/service"

type Service struct {
	log       *zap.Logger
	repo      repository.Repository
	checker   *AvailabilityChecker
	ledger    *Ledger
	publisher kafka.Publisher
	metrics   *metrics.Reservation
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p kafka.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithMetrics(m *metrics.Reservation) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo repository.Repository, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		log:       log.Named("service"),
		repo:      repo,
		checker:   NewAvailabilityChecker(repo),
		ledger:    NewLedger(repo),
		publisher: kafka.NewNopPublisher(),
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateReservation(ctx context.Context, req model.CreateReservationRequest) (rsv model.Reservation, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreateReservation",
		trace.WithAttributes(attribute.Int64("client_id", req.ClientID), attribute.Int64("space_id", req.SpaceID)))
	defer func(started time.Time) { s.finish(span, "create", started, err) }(time.Now())

	demands, err := model.NormalizeDemands(req.Resources)
	if err != nil {
		return model.Reservation{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.activeClient(ctx, req.ClientID); err != nil {
			return err
		}
		if err := s.lockSpace(ctx, req.SpaceID); err != nil {
			return err
		}
		if err := s.checker.Check(ctx, AvailabilityRequest{
			SpaceID: req.SpaceID,
			Start:   req.StartDate,
			End:     req.EndDate,
			Demands: demands,
		}); err != nil {
			return err
		}

		now := s.now()
		created, err := s.repo.CreateReservation(ctx, model.Reservation{
			ClientID:  req.ClientID,
			SpaceID:   req.SpaceID,
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
			Status:    model.ReservationOpen,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return errors.Wrap(err, "create reservation")
		}
		items := demands.LineItems(created.ID)
		if err := s.repo.CreateReservationResources(ctx, items); err != nil {
			return errors.Wrap(err, "create reservation resources")
		}
		if err := s.ledger.Commit(ctx, demands); err != nil {
			return err
		}
		created.Resources = items
		rsv = created
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	s.metrics.Units(metrics.DirectionCommit, demands.Total())
	s.publish(ctx, kafka.EventReservationCreated, rsv)
	return rsv, nil
}

// UpdateReservation validates the status transition first, then field rules,
// then availability. A requested status always goes through the transition
// table, so repeating the current status is rejected. Only OPEN reservations
// accept field changes; an APPROVED one can only be closed.
func (s *Service) UpdateReservation(ctx context.Context, id int64, req model.UpdateReservationRequest) (rsv model.Reservation, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.UpdateReservation", trace.WithAttributes(attribute.Int64("reservation_id", id)))
	defer func(started time.Time) { s.finish(span, "update", started, err) }(time.Now())

	var (
		event             = kafka.EventReservationUpdated
		released, commits model.Demands
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.getReservation(ctx, id)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return model.TerminalError(current.Status)
		}

		target := current.Status
		if req.Status != nil {
			if err := model.CheckTransition(model.OpUpdate, current.Status, *req.Status); err != nil {
				return err
			}
			target = *req.Status
		}

		next := current
		if req.ClientID != nil {
			next.ClientID = *req.ClientID
		}
		if req.SpaceID != nil {
			next.SpaceID = *req.SpaceID
		}
		if req.StartDate != nil {
			next.StartDate = *req.StartDate
		}
		if req.EndDate != nil {
			next.EndDate = *req.EndDate
		}
		replacing := len(req.Resources) > 0
		windowChanged := next.SpaceID != current.SpaceID ||
			!next.StartDate.Equal(current.StartDate) ||
			!next.EndDate.Equal(current.EndDate)
		if (replacing || windowChanged || next.ClientID != current.ClientID) && current.Status != model.ReservationOpen {
			return errs.BadRequest(errs.ReasonInvalidTransition, "only OPEN reservations can be modified")
		}

		if next.ClientID != current.ClientID {
			if err := s.activeClient(ctx, next.ClientID); err != nil {
				return err
			}
		}

		var demands model.Demands
		if replacing {
			if demands, err = model.NormalizeDemands(req.Resources); err != nil {
				return err
			}
		}
		if replacing || windowChanged {
			if err := s.lockSpace(ctx, next.SpaceID); err != nil {
				return err
			}
			old := model.DemandsOf(current.Resources)
			if replacing {
				if err := s.ledger.Release(ctx, old); err != nil {
					return err
				}
			}
			if err := s.checker.Check(ctx, AvailabilityRequest{
				SpaceID:              next.SpaceID,
				Start:                next.StartDate,
				End:                  next.EndDate,
				Demands:              demands,
				ExcludeReservationID: id,
			}); err != nil {
				return err
			}
			if replacing {
				if err := s.repo.DeleteReservationResources(ctx, id); err != nil {
					return errors.Wrap(err, "delete reservation resources")
				}
				items := demands.LineItems(id)
				if err := s.repo.CreateReservationResources(ctx, items); err != nil {
					return errors.Wrap(err, "create reservation resources")
				}
				if err := s.ledger.Commit(ctx, demands); err != nil {
					return err
				}
				next.Resources = items
				released, commits = old, demands
			}
		}

		now := s.now()
		next.Status = target
		next.UpdatedAt = now
		if target == model.ReservationClosed {
			next.ClosedAt = &now
		}
		updated, err := s.repo.UpdateReservation(ctx, next)
		if err != nil {
			return errors.Wrap(err, "update reservation")
		}
		updated.Resources = next.Resources
		rsv = updated

		switch {
		case target == current.Status:
		case target == model.ReservationApproved:
			event = kafka.EventReservationApproved
		case target == model.ReservationClosed:
			event = kafka.EventReservationClosed
		}
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	s.metrics.Units(metrics.DirectionRelease, released.Total())
	s.metrics.Units(metrics.DirectionCommit, commits.Total())
	s.publish(ctx, event, rsv)
	return rsv, nil
}

// CancelReservation is the only path that returns committed units to stock.
func (s *Service) CancelReservation(ctx context.Context, id int64) (rsv model.Reservation, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.CancelReservation", trace.WithAttributes(attribute.Int64("reservation_id", id)))
	defer func(started time.Time) { s.finish(span, "cancel", started, err) }(time.Now())

	var released model.Demands
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.getReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := model.CheckTransition(model.OpCancel, current.Status, model.ReservationCancelled); err != nil {
			return err
		}
		released = model.DemandsOf(current.Resources)
		if err := s.ledger.Release(ctx, released); err != nil {
			return err
		}
		current.Status = model.ReservationCancelled
		current.UpdatedAt = s.now()
		updated, err := s.repo.UpdateReservation(ctx, current)
		if err != nil {
			return errors.Wrap(err, "update reservation")
		}
		updated.Resources = current.Resources
		rsv = updated
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	s.metrics.Units(metrics.DirectionRelease, released.Total())
	s.publish(ctx, kafka.EventReservationCancelled, rsv)
	return rsv, nil
}

func (s *Service) GetReservation(ctx context.Context, id int64) (details model.ReservationDetails, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.GetReservation", trace.WithAttributes(attribute.Int64("reservation_id", id)))
	defer func(started time.Time) { s.finish(span, "find_one", started, err) }(time.Now())

	rsv, err := s.getReservation(ctx, id)
	if err != nil {
		return model.ReservationDetails{}, err
	}

	var (
		client *model.Client
		space  *model.Space
	)
	c, err := s.repo.GetClient(ctx, rsv.ClientID)
	switch {
	case err == nil:
		client = &c
	case !errors.Is(err, errs.ErrNotFound):
		return model.ReservationDetails{}, errors.Wrap(err, "get client")
	}
	sp, err := s.repo.GetSpace(ctx, rsv.SpaceID)
	switch {
	case err == nil:
		space = &sp
	case !errors.Is(err, errs.ErrNotFound):
		return model.ReservationDetails{}, errors.Wrap(err, "get space")
	}

	if err := ViewPolicy(rsv, client, space); err != nil {
		return model.ReservationDetails{}, err
	}
	return model.ReservationDetails{Reservation: rsv, Client: *client, Space: *space}, nil
}

func (s *Service) ListReservations(ctx context.Context, f model.ListFilter) (list model.ListReservations, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.ListReservations")
	defer func(started time.Time) { s.finish(span, "find_all", started, err) }(time.Now())

	if f.Page <= 0 {
		f.Page = model.DefaultPage
	}
	if f.Limit <= 0 {
		f.Limit = model.DefaultLimit
	}
	if f.CPF != "" {
		client, err := s.repo.GetClientByCPF(ctx, f.CPF)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return model.ListReservations{}, errs.NotFound("Client with CPF %s not found", f.CPF)
			}
			return model.ListReservations{}, errors.Wrap(err, "get client by cpf")
		}
		f.ClientID = client.ID
	}

	var (
		count int
		data  []model.Reservation
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = s.repo.CountReservations(gCtx, f)
		return errors.Wrap(err, "count reservations")
	})
	g.Go(func() error {
		var err error
		data, err = s.repo.ListReservations(gCtx, f)
		return errors.Wrap(err, "list reservations")
	})
	if err := g.Wait(); err != nil {
		return model.ListReservations{}, err
	}

	if err := s.attachResources(ctx, data); err != nil {
		return model.ListReservations{}, err
	}
	if data == nil {
		data = []model.Reservation{}
	}
	return model.ListReservations{
		Count: count,
		Pages: model.Pages(count, f.Limit),
		Data:  data,
	}, nil
}

// InactivateClient refuses while the client still holds OPEN or APPROVED
// reservations. The status write comes first so the client row stays locked
// against concurrent creates until the count is known.
func (s *Service) InactivateClient(ctx context.Context, id int64) (client model.Client, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.InactivateClient", trace.WithAttributes(attribute.Int64("client_id", id)))
	defer func(started time.Time) { s.finish(span, "inactivate_client", started, err) }(time.Now())

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetClientStatus(ctx, id, model.StatusInactive); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.NotFound("Client %d not found", id)
			}
			return errors.Wrap(err, "set client status")
		}
		active, err := s.repo.CountActiveReservationsByClient(ctx, id)
		if err != nil {
			return errors.Wrap(err, "count active reservations")
		}
		if active > 0 {
			return errs.BadRequest(errs.ReasonActiveReservations, "Client has open or approved reservations")
		}
		client, err = s.repo.GetClient(ctx, id)
		return errors.Wrap(err, "get client")
	})
	if err != nil {
		return model.Client{}, err
	}
	return client, nil
}

func (s *Service) getReservation(ctx context.Context, id int64) (model.Reservation, error) {
	rsv, err := s.repo.GetReservation(ctx, id, true)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Reservation{}, errs.NotFound("Reservation %d not found", id)
		}
		return model.Reservation{}, errors.Wrap(err, "get reservation")
	}
	return rsv, nil
}

func (s *Service) activeClient(ctx context.Context, id int64) error {
	client, err := s.repo.GetClient(ctx, id)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return errors.Wrap(err, "get client")
	}
	if err != nil || client.Status != model.StatusActive {
		return errs.BadRequest(errs.ReasonInactiveClient, "Inactive or nonexistent client")
	}
	return nil
}

// lockSpace serializes admission per space. A missing space is reported by
// the availability check.
func (s *Service) lockSpace(ctx context.Context, id int64) error {
	if err := s.repo.LockSpace(ctx, id); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return errors.Wrap(err, "lock space")
	}
	return nil
}

func (s *Service) attachResources(ctx context.Context, data []model.Reservation) error {
	if len(data) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(data))
	for _, r := range data {
		ids = append(ids, r.ID)
	}
	items, err := s.repo.ListReservationResources(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "list reservation resources")
	}
	byReservation := make(map[int64][]model.ReservationResource, len(data))
	for _, it := range items {
		byReservation[it.ReservationID] = append(byReservation[it.ReservationID], it)
	}
	for i := range data {
		data[i].Resources = byReservation[data[i].ID]
		if data[i].Resources == nil {
			data[i].Resources = []model.ReservationResource{}
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ kafka.EventType, rsv model.Reservation) {
	resources := make([]kafka.EventResource, 0, len(rsv.Resources))
	for _, it := range rsv.Resources {
		resources = append(resources, kafka.EventResource{ResourceID: it.ResourceID, Quantity: it.Quantity})
	}
	event := kafka.EventReservation{
		EventID:       uuid.New(),
		Type:          typ,
		ReservationID: rsv.ID,
		ClientID:      rsv.ClientID,
		SpaceID:       rsv.SpaceID,
		Status:        string(rsv.Status),
		Resources:     resources,
		Timestamp:     s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("publish event",
			zap.String("type", string(typ)),
			zap.Int64("reservation_id", rsv.ID),
			zap.Error(err))
	}
}

func (s *Service) finish(span trace.Span, operation string, started time.Time, err error) {
	defer span.End()
	outcome := metrics.OutcomeOK
	switch errs.KindOf(err) {
	case errs.KindBadRequest:
		outcome = metrics.OutcomeBadRequest
		s.log.Debug(operation, zap.Error(err))
	case errs.KindNotFound:
		outcome = metrics.OutcomeNotFound
		s.log.Debug(operation, zap.Error(err))
	default:
		if err != nil {
			outcome = metrics.OutcomeInternal
			s.log.Error(operation, zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.metrics.Observe(operation, outcome, started)
}
