package service_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/kafka"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/errs"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/model"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/repository"
)

var _ repository.Repository = (*memStore)(nil)

type inTxKey struct{}

// memStore is a transactional in-memory store: transactions are serialized
// and a failed one restores the snapshot taken when it began.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	clients      map[int64]model.Client
	spaces       map[int64]model.Space
	resources    map[int64]model.Resource
	reservations map[int64]model.Reservation
	items        map[int64][]model.ReservationResource
	nextID       int64

	// failDecrementOn makes the write-time guard reject this resource.
	failDecrementOn int64

	listCalls  atomic.Int32
	countCalls atomic.Int32
}

type snapshot struct {
	clients      map[int64]model.Client
	spaces       map[int64]model.Space
	resources    map[int64]model.Resource
	reservations map[int64]model.Reservation
	items        map[int64][]model.ReservationResource
	nextID       int64
}

func newMemStore() *memStore {
	return &memStore{
		clients:      map[int64]model.Client{},
		spaces:       map[int64]model.Space{},
		resources:    map[int64]model.Resource{},
		reservations: map[int64]model.Reservation{},
		items:        map[int64][]model.ReservationResource{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memStore) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make(map[int64][]model.ReservationResource, len(m.items))
	for k, v := range m.items {
		items[k] = append([]model.ReservationResource(nil), v...)
	}
	return snapshot{
		clients:      copyMap(m.clients),
		spaces:       copyMap(m.spaces),
		resources:    copyMap(m.resources),
		reservations: copyMap(m.reservations),
		items:        items,
		nextID:       m.nextID,
	}
}

func (m *memStore) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients, m.spaces, m.resources = s.clients, s.spaces, s.resources
	m.reservations, m.items, m.nextID = s.reservations, s.items, s.nextID
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) addClient(c model.Client) model.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return c
}

func (m *memStore) addSpace(s model.Space) model.Space {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spaces[s.ID] = s
	return s
}

func (m *memStore) addResource(r model.Resource) model.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
	return r
}

func (m *memStore) quantity(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resources[id].Quantity
}

func (m *memStore) setStatus(id int64, status model.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		c.Status = status
		m.clients[id] = c
	}
}

func (m *memStore) allReservations() []model.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Reservation, 0, len(m.reservations))
	for _, r := range m.reservations {
		r.Resources = append([]model.ReservationResource(nil), m.items[r.ID]...)
		out = append(out, r)
	}
	return out
}

func (m *memStore) GetClient(_ context.Context, id int64) (model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return model.Client{}, errs.ErrNotFound
	}
	return c, nil
}

func (m *memStore) GetClientByCPF(_ context.Context, cpf string) (model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.CPF == cpf {
			return c, nil
		}
	}
	return model.Client{}, errs.ErrNotFound
}

func (m *memStore) SetClientStatus(_ context.Context, id int64, status model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return errs.ErrNotFound
	}
	c.Status = status
	m.clients[id] = c
	return nil
}

func (m *memStore) CountActiveReservationsByClient(_ context.Context, clientID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reservations {
		if r.ClientID == clientID && r.Status.Holding() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetSpace(_ context.Context, id int64) (model.Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spaces[id]
	if !ok {
		return model.Space{}, errs.ErrNotFound
	}
	return s, nil
}

func (m *memStore) LockSpace(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spaces[id]; !ok {
		return errs.ErrNotFound
	}
	return nil
}

func (m *memStore) GetResource(_ context.Context, id int64) (model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return model.Resource{}, errs.ErrNotFound
	}
	return r, nil
}

func (m *memStore) DecrementResourceQuantity(_ context.Context, id int64, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok || r.Quantity < qty || id == m.failDecrementOn {
		return false, nil
	}
	r.Quantity -= qty
	m.resources[id] = r
	return true, nil
}

func (m *memStore) IncrementResourceQuantity(_ context.Context, id int64, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return errs.ErrNotFound
	}
	r.Quantity += qty
	m.resources[id] = r
	return nil
}

func (m *memStore) withResources(items []model.ReservationResource) []model.ReservationResource {
	out := make([]model.ReservationResource, 0, len(items))
	for _, it := range items {
		if r, ok := m.resources[it.ResourceID]; ok {
			r := r
			it.Resource = &r
		}
		out = append(out, it)
	}
	return out
}

func (m *memStore) GetReservation(_ context.Context, id int64, withItems bool) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return model.Reservation{}, errs.ErrNotFound
	}
	if withItems {
		r.Resources = m.withResources(m.items[id])
	}
	return r, nil
}

func (m *memStore) FindOverlappingReservations(_ context.Context, q model.OverlapQuery) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for _, r := range m.reservations {
		if r.SpaceID != q.SpaceID || r.ID == q.ExcludeID {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, r.Status) {
			continue
		}
		if model.Overlaps(q.Start, q.End, r.StartDate, r.EndDate) {
			out = append(out, r)
		}
	}
	return out, nil
}

func containsStatus(ss []model.ReservationStatus, s model.ReservationStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memStore) filtered(f model.ListFilter) []model.Reservation {
	var out []model.Reservation
	for _, r := range m.reservations {
		if f.ClientID != 0 && r.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.To.IsZero() && !r.StartDate.Before(f.To) {
			continue
		}
		if !f.From.IsZero() && !r.EndDate.After(f.From) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *memStore) CountReservations(_ context.Context, f model.ListFilter) (int, error) {
	m.countCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filtered(f)), nil
}

func (m *memStore) ListReservations(_ context.Context, f model.ListFilter) ([]model.Reservation, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filtered(f)
	offset := int(f.Offset())
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memStore) ListReservationResources(_ context.Context, reservationIDs []int64) ([]model.ReservationResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReservationResource
	for _, id := range reservationIDs {
		out = append(out, m.withResources(m.items[id])...)
	}
	return out, nil
}

func (m *memStore) CreateReservation(_ context.Context, r model.Reservation) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	r.Resources = nil
	m.reservations[r.ID] = r
	return r, nil
}

func (m *memStore) UpdateReservation(_ context.Context, r model.Reservation) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; !ok {
		return model.Reservation{}, errs.ErrNotFound
	}
	r.Resources = nil
	m.reservations[r.ID] = r
	return r, nil
}

func (m *memStore) CreateReservationResources(_ context.Context, items []model.ReservationResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		it.Resource = nil
		m.items[it.ReservationID] = append(m.items[it.ReservationID], it)
	}
	return nil
}

func (m *memStore) DeleteReservationResources(_ context.Context, reservationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, reservationID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.EventReservation
}

func (p *recordingPublisher) Publish(_ context.Context, e kafka.EventReservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []kafka.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]kafka.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// stepClock advances one minute per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}
