package repository

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
)

type Repository interface {
	// WithTx runs fn in one transaction carried by the context. Nested calls
	// join the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetClient(ctx context.Context, id int64) (model.Client, error)
	GetClientByCPF(ctx context.Context, cpf string) (model.Client, error)
	SetClientStatus(ctx context.Context, id int64, status model.Status) error
	CountActiveReservationsByClient(ctx context.Context, clientID int64) (int, error)

	GetSpace(ctx context.Context, id int64) (model.Space, error)
	LockSpace(ctx context.Context, id int64) error

	GetResource(ctx context.Context, id int64) (model.Resource, error)
	DecrementResourceQuantity(ctx context.Context, id int64, qty int) (bool, error)
	IncrementResourceQuantity(ctx context.Context, id int64, qty int) error

	GetReservation(ctx context.Context, id int64, withItems bool) (model.Reservation, error)
	FindOverlappingReservations(ctx context.Context, q model.OverlapQuery) ([]model.Reservation, error)
	CountReservations(ctx context.Context, f model.ListFilter) (int, error)
	ListReservations(ctx context.Context, f model.ListFilter) ([]model.Reservation, error)
	ListReservationResources(ctx context.Context, reservationIDs []int64) ([]model.ReservationResource, error)
	CreateReservation(ctx context.Context, r model.Reservation) (model.Reservation, error)
	UpdateReservation(ctx context.Context, r model.Reservation) (model.Reservation, error)
	CreateReservationResources(ctx context.Context, items []model.ReservationResource) error
	DeleteReservationResources(ctx context.Context, reservationID int64) error
}

type repository struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

func NewRepository(db *pgxpool.Pool, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	clientTableName              = `client`
	spaceTableName               = `space`
	resourceTableName            = `resource`
	reservationTableName         = `reservation`
	reservationResourceTableName = `reservation_resource`

	maxTxAttempts = 3
)

var (
	qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	clientColumns      = []string{"id", "name", "cpf", "email", "phone", "status", "created_at", "updated_at"}
	spaceColumns       = []string{"id", "name", "description", "capacity", "status", "created_at", "updated_at"}
	resourceColumns    = []string{"id", "name", "description", "quantity", "status", "created_at", "updated_at"}
	reservationColumns = []string{"id", "client_id", "space_id", "start_date", "end_date", "status", "created_at", "updated_at", "closed_at"}
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

func (r *repository) conn(ctx context.Context) querier {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return r.db
}

func (r *repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(context.WithValue(ctx, txKey{}, tx))
		})
		if !retryable(err) {
			break
		}
		r.log.Warn("tx retry", zap.Int("attempt", attempt), zap.Error(err))
	}
	return mapPgError(err)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// mapPgError turns constraint violations that slipped past the service guards
// into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.ExclusionViolation:
		return errs.BadRequest(errs.ReasonTimeConflict, "reservation overlaps another reservation of the same space")
	case pgerrcode.CheckViolation:
		switch pgErr.ConstraintName {
		case "resource_quantity_check":
			return errs.BadRequest(errs.ReasonInsufficientQuantity, "insufficient resource quantity")
		case "reservation_range_check":
			return errs.BadRequest(errs.ReasonInvalidRange, "start_date must be before end_date")
		case "reservation_resource_quantity_check":
			return errs.BadRequest(errs.ReasonInvalidDemand, "quantity must be greater than zero")
		}
	}
	return err
}

// lockSuffix returns the row lock clause used inside a transaction.
func lockSuffix(ctx context.Context, mode string) string {
	if _, ok := txFrom(ctx); ok {
		return mode
	}
	return ""
}

func getOne[T any](ctx context.Context, q querier, b sq.SelectBuilder) (T, error) {
	var zero T
	query, args, err := b.ToSql()
	if err != nil {
		return zero, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return zero, err
	}
	defer rows.Close()

	v, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, errs.ErrNotFound
		}
		return zero, err
	}
	return v, nil
}

func (r *repository) GetClient(ctx context.Context, id int64) (model.Client, error) {
	b := qb.Select(clientColumns...).
		From(clientTableName).
		Where(sq.Eq{"id": id}).
		Suffix(lockSuffix(ctx, "for share"))
	return getOne[model.Client](ctx, r.conn(ctx), b)
}

func (r *repository) GetClientByCPF(ctx context.Context, cpf string) (model.Client, error) {
	b := qb.Select(clientColumns...).
		From(clientTableName).
		Where(sq.Eq{"cpf": cpf}).
		Limit(1)
	return getOne[model.Client](ctx, r.conn(ctx), b)
}

func (r *repository) SetClientStatus(ctx context.Context, id int64, status model.Status) error {
	query, args, err := qb.Update(clientTableName).
		Set("status", status).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repository) CountActiveReservationsByClient(ctx context.Context, clientID int64) (int, error) {
	query, args, err := qb.Select("count(*)").
		From(reservationTableName).
		Where(sq.Eq{"client_id": clientID, "status": model.HoldingStatuses}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) GetSpace(ctx context.Context, id int64) (model.Space, error) {
	b := qb.Select(spaceColumns...).
		From(spaceTableName).
		Where(sq.Eq{"id": id})
	return getOne[model.Space](ctx, r.conn(ctx), b)
}

// LockSpace takes the space row lock that serializes admission per space.
func (r *repository) LockSpace(ctx context.Context, id int64) error {
	query, args, err := qb.Select("id").
		From(spaceTableName).
		Where(sq.Eq{"id": id}).
		Suffix(lockSuffix(ctx, "for update")).
		ToSql()
	if err != nil {
		return err
	}
	var locked int64
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	return nil
}

// resourceQuery locks the row for update inside a transaction: the ledger
// decrement on the same row follows, and upgrading a share lock there
// deadlocks two admissions demanding the same resource. Callers lock in
// ascending resource id order.
func resourceQuery(ctx context.Context, id int64) sq.SelectBuilder {
	return qb.Select(resourceColumns...).
		From(resourceTableName).
		Where(sq.Eq{"id": id}).
		Suffix(lockSuffix(ctx, "for update"))
}

func (r *repository) GetResource(ctx context.Context, id int64) (model.Resource, error) {
	return getOne[model.Resource](ctx, r.conn(ctx), resourceQuery(ctx, id))
}

func decrementQuery(id int64, qty int) sq.UpdateBuilder {
	return qb.Update(resourceTableName).
		Set("quantity", sq.Expr("quantity - ?", qty)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Where(sq.GtOrEq{"quantity": qty})
}

// DecrementResourceQuantity reports false when the guard rejected the update.
func (r *repository) DecrementResourceQuantity(ctx context.Context, id int64, qty int) (bool, error) {
	query, args, err := decrementQuery(id, qty).ToSql()
	if err != nil {
		return false, err
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) IncrementResourceQuantity(ctx context.Context, id int64, qty int) error {
	query, args, err := qb.Update(resourceTableName).
		Set("quantity", sq.Expr("quantity + ?", qty)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repository) GetReservation(ctx context.Context, id int64, withItems bool) (model.Reservation, error) {
	b := qb.Select(reservationColumns...).
		From(reservationTableName).
		Where(sq.Eq{"id": id}).
		Suffix(lockSuffix(ctx, "for update"))
	rsv, err := getOne[model.Reservation](ctx, r.conn(ctx), b)
	if err != nil || !withItems {
		return rsv, err
	}
	items, err := r.ListReservationResources(ctx, []int64{id})
	if err != nil {
		return model.Reservation{}, err
	}
	rsv.Resources = items
	return rsv, nil
}

func overlapQuery(q model.OverlapQuery) sq.SelectBuilder {
	b := qb.Select(reservationColumns...).
		From(reservationTableName).
		Where(sq.Eq{"space_id": q.SpaceID}).
		Where(sq.Lt{"start_date": q.End}).
		Where(sq.Gt{"end_date": q.Start}).
		OrderBy("start_date")
	if len(q.Statuses) > 0 {
		b = b.Where(sq.Eq{"status": q.Statuses})
	}
	if q.ExcludeID != 0 {
		b = b.Where(sq.NotEq{"id": q.ExcludeID})
	}
	return b
}

func (r *repository) FindOverlappingReservations(ctx context.Context, q model.OverlapQuery) ([]model.Reservation, error) {
	query, args, err := overlapQuery(q).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowToStructByName[model.Reservation])
}

func filterWhere(f model.ListFilter) sq.And {
	conds := sq.And{}
	if f.ClientID != 0 {
		conds = append(conds, sq.Eq{"client_id": f.ClientID})
	}
	if f.Status != "" {
		conds = append(conds, sq.Eq{"status": f.Status})
	}
	if !f.To.IsZero() {
		conds = append(conds, sq.Lt{"start_date": f.To})
	}
	if !f.From.IsZero() {
		conds = append(conds, sq.Gt{"end_date": f.From})
	}
	return conds
}

func countQuery(f model.ListFilter) sq.SelectBuilder {
	return qb.Select("count(*)").
		From(reservationTableName).
		Where(filterWhere(f))
}

func listQuery(f model.ListFilter) sq.SelectBuilder {
	return qb.Select(reservationColumns...).
		From(reservationTableName).
		Where(filterWhere(f)).
		OrderBy("created_at desc", "id desc").
		Limit(uint64(f.Limit)).
		Offset(f.Offset())
}

func (r *repository) CountReservations(ctx context.Context, f model.ListFilter) (int, error) {
	query, args, err := countQuery(f).ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) ListReservations(ctx context.Context, f model.ListFilter) ([]model.Reservation, error) {
	query, args, err := listQuery(f).ToSql()
	if err != nil {
		return nil, err
	}
	r.log.Debug("ListReservations", zap.String("query", query), zap.Any("args", args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Reservation])
	if err != nil {
		return nil, fmt.Errorf("pgx.CollectRows: %w", err)
	}
	return items, nil
}

// ListReservationResources returns line items joined with their resource.
func (r *repository) ListReservationResources(ctx context.Context, reservationIDs []int64) ([]model.ReservationResource, error) {
	if len(reservationIDs) == 0 {
		return nil, nil
	}
	query, args, err := qb.Select(
		"rr.reservation_id", "rr.resource_id", "rr.quantity",
		"r.id", "r.name", "r.description", "r.quantity", "r.status", "r.created_at", "r.updated_at").
		From(reservationResourceTableName + " rr").
		Join(fmt.Sprintf("%s r on r.id = rr.resource_id", resourceTableName)).
		Where(sq.Eq{"rr.reservation_id": reservationIDs}).
		OrderBy("rr.reservation_id", "rr.resource_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ReservationResource, error) {
		var (
			it  model.ReservationResource
			res model.Resource
		)
		err := row.Scan(&it.ReservationID, &it.ResourceID, &it.Quantity,
			&res.ID, &res.Name, &res.Description, &res.Quantity, &res.Status, &res.CreatedAt, &res.UpdatedAt)
		it.Resource = &res
		return it, err
	})
}

func (r *repository) CreateReservation(ctx context.Context, rsv model.Reservation) (model.Reservation, error) {
	query, args, err := qb.Insert(reservationTableName).
		Columns("client_id", "space_id", "start_date", "end_date", "status", "created_at", "updated_at", "closed_at").
		Values(rsv.ClientID, rsv.SpaceID, rsv.StartDate, rsv.EndDate, rsv.Status, rsv.CreatedAt, rsv.UpdatedAt, rsv.ClosedAt).
		Suffix("returning " + strings.Join(reservationColumns, ", ")).
		ToSql()
	if err != nil {
		return model.Reservation{}, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return model.Reservation{}, err
	}
	defer rows.Close()

	created, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Reservation])
	if err != nil {
		r.log.Error("CreateReservation", zap.String("q", query), zap.Any("args", args), zap.Error(err))
		return model.Reservation{}, err
	}
	return created, nil
}

func (r *repository) UpdateReservation(ctx context.Context, rsv model.Reservation) (model.Reservation, error) {
	query, args, err := qb.Update(reservationTableName).
		SetMap(map[string]any{
			"client_id":  rsv.ClientID,
			"space_id":   rsv.SpaceID,
			"start_date": rsv.StartDate,
			"end_date":   rsv.EndDate,
			"status":     rsv.Status,
			"updated_at": rsv.UpdatedAt,
			"closed_at":  rsv.ClosedAt,
		}).
		Where(sq.Eq{"id": rsv.ID}).
		Suffix("returning " + strings.Join(reservationColumns, ", ")).
		ToSql()
	if err != nil {
		return model.Reservation{}, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return model.Reservation{}, err
	}
	defer rows.Close()

	updated, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Reservation])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Reservation{}, errs.ErrNotFound
		}
		return model.Reservation{}, err
	}
	return updated, nil
}

func (r *repository) CreateReservationResources(ctx context.Context, items []model.ReservationResource) error {
	if len(items) == 0 {
		return nil
	}
	b := qb.Insert(reservationResourceTableName).
		Columns("reservation_id", "resource_id", "quantity")
	for _, it := range items {
		b = b.Values(it.ReservationID, it.ResourceID, it.Quantity)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, query, args...)
	return err
}

func (r *repository) DeleteReservationResources(ctx context.Context, reservationID int64) error {
	query, args, err := qb.Delete(reservationResourceTableName).
		Where(sq.Eq{"reservation_id": reservationID}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, query, args...)
	return err
}
