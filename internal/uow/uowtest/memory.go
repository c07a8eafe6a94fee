// Package uowtest provides an in-memory uow.Runner for tests. Transactions run
// one at a time against a copy of the committed state, so every schedule is
// serializable, and a failed transaction leaves no trace.
package uowtest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/repository"
	"github.com/kirinyoku/eventbook/internal/uow"
)

type Memory struct {
	mu    sync.Mutex
	state *state

	// commitErrs are returned, in order, instead of committing.
	commitErrs []error
	txCount    int
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// FailCommits makes the next len(errs) transactions fail with errs at commit.
func (m *Memory) FailCommits(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErrs = append(m.commitErrs, errs...)
}

// Transactions returns how many transactions were started.
func (m *Memory) Transactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

func (m *Memory) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx uow.Repos, after func(uow.AfterCommit)) error,
) error {
	var hooks []uow.AfterCommit

	m.mu.Lock()
	m.txCount++
	work := m.state.clone()
	err := fn(ctx, repos{s: work}, func(h uow.AfterCommit) {
		hooks = append(hooks, h)
	})
	if err == nil && len(m.commitErrs) > 0 {
		err = m.commitErrs[0]
		m.commitErrs = m.commitErrs[1:]
	}
	if err == nil {
		m.state = work
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

func (m *Memory) Reader() uow.Repos {
	return reader{m: m}
}

// SeedEvent stores e and returns its id.
func (m *Memory) SeedEvent(e domain.Event) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.nextEventID++
	e.ID = m.state.nextEventID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.state.events[e.ID] = e
	return e.ID
}

// SeedBooking stores b as committed.
func (m *Memory) SeedBooking(b domain.Booking) domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.SessionID == "" {
		b.SessionID = "seed-" + b.ID.String()
	}
	b.CreatedAt = time.Now()
	m.state.bookings[b.ID] = b
	return b
}

// SeedSession stores s as committed.
func (m *Memory) SeedSession(s domain.PaymentSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Status == "" {
		s.Status = domain.SessionOpen
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.UpdatedAt = s.CreatedAt
	m.state.sessions[s.ID] = s
}

// ActiveBookings returns committed, non-cancelled bookings of an event.
func (m *Memory) ActiveBookings(eventID int64) []domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Booking
	for _, b := range m.state.bookings {
		if b.EventID == eventID && b.Active() {
			out = append(out, b)
		}
	}
	return out
}

// Session returns the committed session with id.
func (m *Memory) Session(id string) (domain.PaymentSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state.sessions[id]
	return s, ok
}

type state struct {
	events      map[int64]domain.Event
	bookings    map[uuid.UUID]domain.Booking
	sessions    map[string]domain.PaymentSession
	nextEventID int64
}

func newState() *state {
	return &state{
		events:   map[int64]domain.Event{},
		bookings: map[uuid.UUID]domain.Booking{},
		sessions: map[string]domain.PaymentSession{},
	}
}

func (s *state) clone() *state {
	return &state{
		events:      maps.Clone(s.events),
		bookings:    maps.Clone(s.bookings),
		sessions:    maps.Clone(s.sessions),
		nextEventID: s.nextEventID,
	}
}

type repos struct {
	s *state
}

func (r repos) Events() repository.EventRepository     { return eventRepo(r) }
func (r repos) Bookings() repository.BookingRepository { return bookingRepo(r) }
func (r repos) Sessions() repository.SessionRepository { return sessionRepo(r) }

// reader runs every call in its own read-only transaction.
type reader struct {
	m *Memory
}

func (r reader) Events() repository.EventRepository     { return readEvents{r.m} }
func (r reader) Bookings() repository.BookingRepository { return readBookings{r.m} }
func (r reader) Sessions() repository.SessionRepository { return readSessions{r.m} }

func (r reader) view() repos {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return repos{s: r.m.state.clone()}
}

type eventRepo repos

func (r eventRepo) Get(_ context.Context, id int64) (*domain.Event, error) {
	e, ok := r.s.events[id]
	if !ok || e.DeletedAt != nil {
		return nil, fmt.Errorf("memory.EventRepo.Get:%w", repository.ErrNotFound)
	}
	return &e, nil
}

func (r eventRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	return r.Get(ctx, id)
}

func (r eventRepo) List(_ context.Context, page domain.Page) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range r.s.events {
		if e.DeletedAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return paginate(out, page), nil
}

func (r eventRepo) Create(_ context.Context, e *domain.Event) (int64, error) {
	r.s.nextEventID++
	e.ID = r.s.nextEventID
	e.CreatedAt = time.Now()
	r.s.events[e.ID] = *e
	return e.ID, nil
}

func (r eventRepo) Update(_ context.Context, e *domain.Event) error {
	cur, ok := r.s.events[e.ID]
	if !ok || cur.DeletedAt != nil {
		return fmt.Errorf("memory.EventRepo.Update:%w", repository.ErrNotFound)
	}
	e.CreatedAt = cur.CreatedAt
	e.OwnerID = cur.OwnerID
	r.s.events[e.ID] = *e
	return nil
}

func (r eventRepo) SoftDelete(_ context.Context, id int64) error {
	e, ok := r.s.events[id]
	if !ok || e.DeletedAt != nil {
		return fmt.Errorf("memory.EventRepo.SoftDelete:%w", repository.ErrNotFound)
	}
	now := time.Now()
	e.DeletedAt = &now
	r.s.events[id] = e
	return nil
}

type bookingRepo repos

func (r bookingRepo) BookedQuantity(_ context.Context, eventID int64) (int, error) {
	var booked int
	for _, b := range r.s.bookings {
		if b.EventID == eventID && b.Active() {
			booked += b.Quantity
		}
	}
	return booked, nil
}

func (r bookingRepo) Insert(_ context.Context, b *domain.Booking) error {
	for _, cur := range r.s.bookings {
		if cur.SessionID == b.SessionID {
			return fmt.Errorf("memory.BookingRepo.Insert:%w", repository.ErrConflict)
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	r.s.bookings[b.ID] = *b
	return nil
}

func (r bookingRepo) Get(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("memory.BookingRepo.Get:%w", repository.ErrNotFound)
	}
	return &b, nil
}

func (r bookingRepo) GetBySession(_ context.Context, sessionID string) (*domain.Booking, error) {
	for _, b := range r.s.bookings {
		if b.SessionID == sessionID {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("memory.BookingRepo.GetBySession:%w", repository.ErrNotFound)
}

func (r bookingRepo) ListByUser(_ context.Context, userID int64, page domain.Page) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range r.s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, page), nil
}

func (r bookingRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	b, ok := r.s.bookings[id]
	if !ok || !b.Active() {
		return fmt.Errorf("memory.BookingRepo.SoftDelete:%w", repository.ErrNotFound)
	}
	now := time.Now()
	b.DeletedAt = &now
	r.s.bookings[id] = b
	return nil
}

type sessionRepo repos

func (r sessionRepo) Insert(_ context.Context, s *domain.PaymentSession) error {
	if _, ok := r.s.sessions[s.ID]; ok {
		return fmt.Errorf("memory.SessionRepo.Insert:%w", repository.ErrConflict)
	}
	if s.Status == "" {
		s.Status = domain.SessionOpen
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	r.s.sessions[s.ID] = *s
	return nil
}

func (r sessionRepo) Get(_ context.Context, id string) (*domain.PaymentSession, error) {
	s, ok := r.s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("memory.SessionRepo.Get:%w", repository.ErrNotFound)
	}
	return &s, nil
}

func (r sessionRepo) SetStatus(_ context.Context, id string, status domain.SessionStatus) error {
	s, ok := r.s.sessions[id]
	if !ok {
		return fmt.Errorf("memory.SessionRepo.SetStatus:%w", repository.ErrNotFound)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	r.s.sessions[id] = s
	return nil
}

func (r sessionRepo) ListOpen(_ context.Context, olderThan time.Time, limit int) ([]domain.PaymentSession, error) {
	var out []domain.PaymentSession
	for _, s := range r.s.sessions {
		if s.Status == domain.SessionOpen && s.CreatedAt.Before(olderThan) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type readEvents struct{ m *Memory }

func (r readEvents) Get(ctx context.Context, id int64) (*domain.Event, error) {
	return reader(r).view().Events().Get(ctx, id)
}

func (r readEvents) GetForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	return reader(r).view().Events().GetForUpdate(ctx, id)
}

func (r readEvents) List(ctx context.Context, page domain.Page) ([]domain.Event, error) {
	return reader(r).view().Events().List(ctx, page)
}

func (r readEvents) Create(ctx context.Context, e *domain.Event) (int64, error) {
	var id int64
	err := r.m.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		var err error
		id, err = tx.Events().Create(ctx, e)
		return err
	})
	return id, err
}

func (r readEvents) Update(ctx context.Context, e *domain.Event) error {
	return r.m.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		return tx.Events().Update(ctx, e)
	})
}

func (r readEvents) SoftDelete(ctx context.Context, id int64) error {
	return r.m.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		return tx.Events().SoftDelete(ctx, id)
	})
}

type readBookings struct{ m *Memory }

func (r readBookings) BookedQuantity(ctx context.Context, eventID int64) (int, error) {
	return reader(r).view().Bookings().BookedQuantity(ctx, eventID)
}

func (r readBookings) Insert(ctx context.Context, b *domain.Booking) error {
	return r.m.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		return tx.Bookings().Insert(ctx, b)
	})
}

func (r readBookings) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return reader(r).view().Bookings().Get(ctx, id)
}

func (r readBookings) GetBySession(ctx context.Context, sessionID string) (*domain.Booking, error) {
	return reader(r).view().Bookings().GetBySession(ctx, sessionID)
}

func (r readBookings) ListByUser(ctx context.Context, userID int64, page domain.Page) ([]domain.Booking, error) {
	return reader(r).view().Bookings().ListByUser(ctx, userID, page)
}

func (r readBookings) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.m.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		return tx.Bookings().SoftDelete(ctx, id)
	})
}

type readSessions struct{ m *Memory }

func (r readSessions) Insert(ctx context.Context, s *domain.PaymentSession) error {
	return r.m.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		return tx.Sessions().Insert(ctx, s)
	})
}

func (r readSessions) Get(ctx context.Context, id string) (*domain.PaymentSession, error) {
	return reader(r).view().Sessions().Get(ctx, id)
}

func (r readSessions) SetStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	return r.m.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		return tx.Sessions().SetStatus(ctx, id, status)
	})
}

func (r readSessions) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentSession, error) {
	return reader(r).view().Sessions().ListOpen(ctx, olderThan, limit)
}

func paginate[T any](items []T, page domain.Page) []T {
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
