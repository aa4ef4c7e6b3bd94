package service

import (
    "context"
    "database/sql"
    "errors"
    "sort"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/shopspring/decimal"
    "github.com/sirupsen/logrus/hooks/test"

    "github.com/iliyamo/travel-payment-reconciliation/internal/gateway"
    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
    "github.com/iliyamo/travel-payment-reconciliation/internal/queue"
    "github.com/iliyamo/travel-payment-reconciliation/internal/repository"
)

// memStore is an in-memory BookingStore and PaymentStore.  WithBookingLock
// serializes callers and restores a snapshot when the callback fails, which
// is what a rolled back MySQL transaction looks like from the outside.
type memStore struct {
    lock sync.Mutex
    mu   sync.Mutex

    bookings map[uint64]model.Booking
    packages map[uint64]model.TravelPackage
    payments map[string]model.Payment
    nextID   uint64
    tick     int64

    failBookingWrite error
    lockCalls        atomic.Int64
}

func newMemStore() *memStore {
    return &memStore{
        bookings: map[uint64]model.Booking{},
        packages: map[uint64]model.TravelPackage{},
        payments: map[string]model.Payment{},
    }
}

var baseTime = time.Date(2024, 11, 7, 3, 0, 0, 0, time.UTC)

func (s *memStore) stamp() time.Time {
    s.tick++
    return baseTime.Add(time.Duration(s.tick) * time.Second)
}

func (s *memStore) addBooking(b model.Booking) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if b.PaymentStatus == "" {
        b.PaymentStatus = model.PaymentPending
    }
    s.bookings[b.ID] = b
}

func (s *memStore) addPackage(p model.TravelPackage) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.packages[p.ID] = p
}

func (s *memStore) booking(id uint64) model.Booking {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.bookings[id]
}

func (s *memStore) ledger(bookingID uint64) []model.Payment {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.Payment
    for _, p := range s.payments {
        if p.BookingID == bookingID {
            out = append(out, p)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

func (s *memStore) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    b, ok := s.bookings[id]
    if !ok {
        return nil, repository.ErrBookingNotFound
    }
    return &b, nil
}

func (s *memStore) WithBookingLock(ctx context.Context, bookingID uint64, fn repository.LockedFunc) error {
    s.lock.Lock()
    defer s.lock.Unlock()
    s.lockCalls.Add(1)

    s.mu.Lock()
    b, ok := s.bookings[bookingID]
    bookings := make(map[uint64]model.Booking, len(s.bookings))
    for k, v := range s.bookings {
        bookings[k] = v
    }
    payments := make(map[string]model.Payment, len(s.payments))
    for k, v := range s.payments {
        payments[k] = v
    }
    s.mu.Unlock()
    if !ok {
        return repository.ErrBookingNotFound
    }

    if err := fn(ctx, nil, &b); err != nil {
        s.mu.Lock()
        s.bookings, s.payments = bookings, payments
        s.mu.Unlock()
        return err
    }
    return nil
}

func (s *memStore) UpdatePaymentStatusTx(_ context.Context, _ *sql.Tx, id uint64, status model.PaymentStatus) error {
    if s.failBookingWrite != nil {
        return s.failBookingWrite
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    b, ok := s.bookings[id]
    if !ok {
        return repository.ErrBookingNotFound
    }
    b.PaymentStatus = status
    s.bookings[id] = b
    return nil
}

func (s *memStore) GetPackageTx(_ context.Context, _ *sql.Tx, id uint64) (*model.TravelPackage, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    p, ok := s.packages[id]
    if !ok {
        return nil, repository.ErrPackageNotFound
    }
    return &p, nil
}

func (s *memStore) FindByOrderID(_ context.Context, orderID string) (*model.Payment, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    p, ok := s.payments[orderID]
    if !ok {
        return nil, repository.ErrPaymentNotFound
    }
    return &p, nil
}

func (s *memStore) FindByOrderIDTx(ctx context.Context, _ *sql.Tx, orderID string) (*model.Payment, error) {
    return s.FindByOrderID(ctx, orderID)
}

func (s *memStore) FindLatestByBookingID(_ context.Context, bookingID uint64) (*model.Payment, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var latest *model.Payment
    for _, p := range s.payments {
        if p.BookingID != bookingID {
            continue
        }
        if latest == nil || p.UpdatedAt.After(latest.UpdatedAt) || (p.UpdatedAt.Equal(latest.UpdatedAt) && p.ID > latest.ID) {
            cp := p
            latest = &cp
        }
    }
    if latest == nil {
        return nil, repository.ErrPaymentNotFound
    }
    return latest, nil
}

func (s *memStore) FindLatestByBookingIDTx(ctx context.Context, _ *sql.Tx, bookingID uint64) (*model.Payment, error) {
    return s.FindLatestByBookingID(ctx, bookingID)
}

func (s *memStore) ListByBookingID(_ context.Context, bookingID uint64) ([]model.Payment, error) {
    out := s.ledger(bookingID)
    sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
    return out, nil
}

func (s *memStore) UpsertTx(_ context.Context, _ *sql.Tx, p *model.Payment) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    now := s.stamp()
    stored, ok := s.payments[p.OrderID]
    if !ok {
        s.nextID++
        stored = model.Payment{ID: s.nextID, OrderID: p.OrderID, BookingID: p.BookingID, CreatedAt: now}
    }
    stored.PaymentMethod = p.PaymentMethod
    stored.Amount = p.Amount
    stored.Status = p.Status
    stored.FraudStatus = p.FraudStatus
    if p.SnapToken != nil {
        stored.SnapToken = p.SnapToken
    }
    if p.RedirectURL != nil {
        stored.RedirectURL = p.RedirectURL
    }
    if len(p.RawResponse) > 0 {
        stored.RawResponse = p.RawResponse
    }
    if p.LastEventAt != nil {
        stored.LastEventAt = p.LastEventAt
    }
    stored.UpdatedAt = now
    s.payments[p.OrderID] = stored
    *p = stored
    return nil
}

type fakeGateway struct {
    mu      sync.Mutex
    charges []gateway.ChargeRequest
    err     error
    status  *gateway.StatusResult
}

func (g *fakeGateway) CreateTransaction(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
    g.mu.Lock()
    defer g.mu.Unlock()
    g.charges = append(g.charges, req)
    if g.err != nil {
        return nil, g.err
    }
    return &gateway.ChargeResult{
        OrderID:     req.OrderID,
        Token:       "tok-" + req.OrderID,
        RedirectURL: "https://app.sandbox.midtrans.com/snap/v4/redirection/tok-" + req.OrderID,
        ClientKey:   "SB-Mid-client-test",
        Raw:         []byte(`{"status_code":"201"}`),
    }, nil
}

func (g *fakeGateway) TransactionStatus(context.Context, string) (*gateway.StatusResult, error) {
    if g.err != nil {
        return nil, g.err
    }
    return g.status, nil
}

type fakePublisher struct {
    mu     sync.Mutex
    events []queue.PaymentReconciledEvent
    err    error
}

func (p *fakePublisher) PublishPaymentReconciled(_ context.Context, ev queue.PaymentReconciledEvent) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.events = append(p.events, ev)
    return p.err
}

func (p *fakePublisher) count() int {
    p.mu.Lock()
    defer p.mu.Unlock()
    return len(p.events)
}

type fixture struct {
    store *memStore
    gw    *fakeGateway
    pub   *fakePublisher
    rec   *Reconciler
    logs  *test.Hook
}

const (
    ownerID = uint64(7)
    otherID = uint64(8)
    adminID = uint64(1)
)

var (
    owner    = Caller{UserID: ownerID, Role: RoleCustomer, Authenticated: true}
    stranger = Caller{UserID: otherID, Role: RoleCustomer, Authenticated: true}
    admin    = Caller{UserID: adminID, Role: RoleAdmin, Authenticated: true}
)

// newFixture seeds booking 42: two participants at 150000, total 300000,
// owned by user 7.
func newFixture(t *testing.T) *fixture {
    t.Helper()
    store := newMemStore()
    uid := ownerID
    store.addPackage(model.TravelPackage{ID: 3, Name: "Komodo Sailing", Price: decimal.NewFromInt(150000)})
    store.addBooking(model.Booking{
        ID:            42,
        Code:          "TRV-20241107-K3Q9ZP",
        UserID:        &uid,
        PackageID:     3,
        CustomerName:  "Jane Doe",
        CustomerEmail: "jane@example.com",
        CustomerPhone: "08123456789",
        Participants:  2,
        TotalAmount:   model.ComputeTotal(decimal.NewFromInt(150000), 2),
    })

    gw := &fakeGateway{}
    pub := &fakePublisher{}
    log, hook := test.NewNullLogger()
    rec := NewReconciler(store, store, gw, pub, log)

    var ms atomic.Int64
    rec.now = func() time.Time {
        return time.UnixMilli(1730948400000 + ms.Add(1)).UTC()
    }
    return &fixture{store: store, gw: gw, pub: pub, rec: rec, logs: hook}
}

func webhook(orderID, status string) Notification {
    return Notification{OrderID: orderID, TransactionStatus: status, Source: SourceWebhook, Raw: []byte(`{"transaction_status":"` + status + `"}`)}
}

var errDiskFull = errors.New("disk full")
