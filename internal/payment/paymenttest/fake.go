// Package paymenttest provides an in-memory payment.Provider for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kirinyoku/eventbook/internal/payment"
)

type Fake struct {
	mu       sync.Mutex
	sessions map[string]*payment.Verification
	seq      int

	// CreateErr and VerifyErr are returned by the next calls when set.
	CreateErr error
	VerifyErr error
	// Block makes CreateSession wait for ctx to end.
	Block bool

	creates  atomic.Int64
	verifies atomic.Int64
}

func NewFake() *Fake {
	return &Fake{sessions: map[string]*payment.Verification{}}
}

func (f *Fake) CreateSession(ctx context.Context, p payment.CreateParams) (*payment.Session, error) {
	f.creates.Add(1)

	if f.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	f.seq++
	id := fmt.Sprintf("sess_%d", f.seq)
	f.sessions[id] = &payment.Verification{
		SessionID: id,
		Status:    payment.StatusPending,
		Amount:    p.Amount,
		EventID:   p.EventID,
		UserID:    p.UserID,
		Quantity:  p.Quantity,
	}

	return &payment.Session{
		ID:     id,
		URL:    "https://pay.example.test/" + id,
		Amount: p.Amount,
	}, nil
}

func (f *Fake) VerifySession(_ context.Context, sessionID string) (*payment.Verification, error) {
	f.verifies.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}

	v, ok := f.sessions[sessionID]
	if !ok {
		return nil, payment.ErrSessionNotFound
	}

	out := *v
	return &out, nil
}

// Put registers a session as the provider would report it.
func (f *Fake) Put(v payment.Verification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[v.SessionID] = &v
}

// SetStatus changes the status of a known session.
func (f *Fake) SetStatus(sessionID string, st payment.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.sessions[sessionID]; ok {
		v.Status = st
	}
}

func (f *Fake) Creates() int64  { return f.creates.Load() }
func (f *Fake) Verifies() int64 { return f.verifies.Load() }
