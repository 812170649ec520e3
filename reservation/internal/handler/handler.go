package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	md "github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/middleware"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/validate"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
)

type Handler struct {
	reservationSvc ReservationService
	idemStore      md.IdempotencyStore
	idemCfg        md.IdempotencyConfig
	metrics        http.Handler
	log            *zap.Logger
}

type Option func(*Handler)

// WithIdempotency enables Idempotency-Key replay on the POST endpoints.
func WithIdempotency(store md.IdempotencyStore, cfg md.IdempotencyConfig) Option {
	return func(h *Handler) {
		h.idemStore = store
		h.idemCfg = cfg
	}
}

func WithMetrics(metrics http.Handler) Option {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

func New(reservationSrv ReservationService, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		reservationSvc: reservationSrv,
		log:            log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPatch, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType, md.HeaderIdempotencyKey, echo.HeaderXRequestID},
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)
	if h.metrics != nil {
		base.GET("/metrics", echo.WrapHandler(h.metrics))
	}

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig(h.log)),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)
	idempotent := md.Idempotency(h.idemCfg, h.idemStore, h.log)

	api.POST("/reservations", h.CreateReservation, idempotent)
	api.GET("/reservations", h.ListReservations)
	api.GET("/reservations/:id", h.GetReservation)
	api.PATCH("/reservations/:id", h.UpdateReservation)
	api.POST("/reservations/:id/cancel", h.CancelReservation, idempotent)
	api.PATCH("/clients/:id/inactivate", h.InactivateClient)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) CreateReservation(c echo.Context) error {
	var req model.CreateReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	resp, err := h.reservationSvc.CreateReservation(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListReservations(c echo.Context) error {
	f := model.ListFilter{Page: model.DefaultPage, Limit: model.DefaultLimit}
	err := echo.QueryParamsBinder(c).
		String("cpf", &f.CPF).
		String("status", (*string)(&f.Status)).
		Time("from", &f.From, time.RFC3339).
		Time("to", &f.To, time.RFC3339).
		Int("page", &f.Page).
		Int("limit", &f.Limit).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be before to")
	}

	ctx := c.Request().Context()
	list, err := h.reservationSvc.ListReservations(ctx, f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetReservation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rsv, err := h.reservationSvc.GetReservation(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rsv)
}

func (h *Handler) UpdateReservation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req model.UpdateReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	rsv, err := h.reservationSvc.UpdateReservation(ctx, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rsv)
}

func (h *Handler) CancelReservation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rsv, err := h.reservationSvc.CancelReservation(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rsv)
}

func (h *Handler) InactivateClient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	client, err := h.reservationSvc.InactivateClient(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, client)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}

type errorResponse struct {
	Message    string      `json:"message"`
	Reason     errs.Reason `json:"reason"`
	ResourceID int64       `json:"resource_id,omitempty"`
	Shortfall  int         `json:"shortfall,omitempty"`
}

// httpError maps domain errors to their status; the body carries the reason
// code and, for resource failures, the resource id and shortfall.
func httpError(err error) error {
	var domainErr *errs.Error
	if errors.As(err, &domainErr) {
		body := errorResponse{
			Message:    domainErr.Message,
			Reason:     domainErr.Reason,
			ResourceID: domainErr.ResourceID,
			Shortfall:  domainErr.Shortfall,
		}
		switch domainErr.Kind {
		case errs.KindBadRequest:
			return echo.NewHTTPError(http.StatusBadRequest, body).SetInternal(err)
		case errs.KindNotFound:
			return echo.NewHTTPError(http.StatusNotFound, body).SetInternal(err)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
}
