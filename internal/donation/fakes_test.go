package donation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/events"
	"github.com/noah-isme/backend-donasi/internal/lock"
	"github.com/noah-isme/backend-donasi/internal/payment"
	"github.com/noah-isme/backend-donasi/internal/queue"
)

const testSecret = "rzp_test_secret"

type fakeGateway struct {
	mu        sync.Mutex
	orders    map[string]payment.Order
	requests  []payment.OrderRequest
	fetches   int
	createErr error
	fetchErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: map[string]payment.Order{}}
}

func (g *fakeGateway) CreateOrder(_ context.Context, req payment.OrderRequest) (payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return payment.Order{}, g.createErr
	}
	g.requests = append(g.requests, req)
	order := payment.Order{
		ID:        fmt.Sprintf("order_%d", len(g.requests)),
		Amount:    req.Amount,
		AmountDue: req.Amount,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		Notes:     req.Notes,
	}
	g.orders[order.ID] = order
	return order, nil
}

func (g *fakeGateway) FetchOrder(_ context.Context, orderID string) (payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return payment.Order{}, g.fetchErr
	}
	order, ok := g.orders[orderID]
	if !ok {
		return payment.Order{}, payment.ErrOrderNotFound
	}
	return order, nil
}

func (g *fakeGateway) created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type memStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]Record
	byTx      map[string]uuid.UUID
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[uuid.UUID]Record{}, byTx: map[string]uuid.UUID{}}
}

func (s *memStore) InsertDonation(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return Record{}, s.insertErr
	}
	if _, ok := s.byTx[rec.TransactionID]; ok {
		return Record{}, ErrDuplicateTransaction
	}
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	s.records[rec.ID] = rec
	s.byTx[rec.TransactionID] = rec.ID
	return rec, nil
}

func (s *memStore) GetDonation(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) GetDonationByTransaction(_ context.Context, tx string) (Record, error) {
	s.mu.Lock()
	id, ok := s.byTx[tx]
	s.mu.Unlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.GetDonation(context.Background(), id)
}

func (s *memStore) ListDonations(_ context.Context, filter ListFilter) ([]Record, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if filter.Status != "" && rec.PaymentStatus != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) MarkReceiptSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.ReceiptSent = true
	s.records[id] = rec
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	topics []string
	ids    []uuid.UUID
}

func (e *fakeEmitter) Emit(_ context.Context, topic string, aggregateID uuid.UUID, _ any) (events.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics = append(e.topics, topic)
	e.ids = append(e.ids, aggregateID)
	return events.Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID}, nil
}

type fixture struct {
	svc     *Service
	gateway *fakeGateway
	store   *memStore
	queue   *fakeQueue
	events  *fakeEmitter
	redis   *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		gateway: newFakeGateway(),
		store:   newMemStore(),
		queue:   &fakeQueue{},
		events:  &fakeEmitter{},
		redis:   mr,
	}
	f.svc = &Service{
		Store:          f.store,
		Gateway:        f.gateway,
		KeySecret:      testSecret,
		Orders:         RedisOrderCache{R: client},
		Locker:         lock.Locker{R: client, RetryBackoff: 2 * time.Millisecond},
		ReconcileQueue: f.queue,
		Events:         f.events,
		Rules: Rules{
			MinAmount:         100,
			Currency:          "INR",
			ReceiptPrefix:     "rcpt",
			DefaultPurpose:    "General Donation",
			ReconcileAttempts: 5,
		},
		Logger: zerolog.Nop(),
	}
	return f
}

func (f *fixture) paidVerification(t *testing.T, amount int64) Verification {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), Intent{Amount: amount, Name: "Asha", Email: "asha@example.org"})
	require.NoError(t, err)
	paymentID := "pay_" + order.ID
	return Verification{
		PaymentID:  paymentID,
		OrderID:    order.ID,
		Signature:  payment.Sign(testSecret, order.ID, paymentID),
		DonorName:  "Asha",
		DonorEmail: "asha@example.org",
		Amount:     amount,
	}
}

var errBoom = errors.New("boom")
