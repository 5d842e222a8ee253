package checkout

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-donasi/internal/donation"
	"github.com/noah-isme/backend-donasi/internal/payment"
	"github.com/noah-isme/backend-donasi/internal/queue"
)

const (
	testKeySecret = "rzp_test_secret"
	testAPIKey    = "edge-function-key"
)

// orderBook stands in for the gateway Orders API on the server side.
type orderBook struct {
	mu     sync.Mutex
	orders map[string]payment.Order
}

func (b *orderBook) CreateOrder(_ context.Context, req payment.OrderRequest) (payment.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orders == nil {
		b.orders = map[string]payment.Order{}
	}
	o := payment.Order{
		ID:       fmt.Sprintf("order_%d", len(b.orders)+1),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}
	b.orders[o.ID] = o
	return o, nil
}

func (b *orderBook) FetchOrder(_ context.Context, id string) (payment.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return payment.Order{}, payment.ErrOrderNotFound
	}
	return o, nil
}

func (b *orderBook) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

type recordStore struct {
	mu      sync.Mutex
	records []donation.Record
	failing bool
}

func (s *recordStore) InsertDonation(_ context.Context, rec donation.Record) (donation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return donation.Record{}, fmt.Errorf("connection refused")
	}
	for _, r := range s.records {
		if r.TransactionID == rec.TransactionID {
			return donation.Record{}, donation.ErrDuplicateTransaction
		}
	}
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *recordStore) GetDonation(_ context.Context, id uuid.UUID) (donation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return donation.Record{}, donation.ErrNotFound
}

func (s *recordStore) GetDonationByTransaction(_ context.Context, tx string) (donation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.TransactionID == tx {
			return r, nil
		}
	}
	return donation.Record{}, donation.ErrNotFound
}

func (s *recordStore) ListDonations(_ context.Context, _ donation.ListFilter) ([]donation.Record, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]donation.Record(nil), s.records...)
	return out, int64(len(out)), nil
}

func (s *recordStore) MarkReceiptSent(context.Context, uuid.UUID) error { return nil }

func (s *recordStore) all() []donation.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]donation.Record(nil), s.records...)
}

type taskSink struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *taskSink) Enqueue(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return nil
}

// widget simulates the hosted checkout. mode selects how the donor behaves.
type widget struct {
	mu      sync.Mutex
	mode    string
	opened  []Options
	release chan struct{}
}

func (w *widget) CreateCheckout(_ context.Context, opts Options) (Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = append(w.opened, opts)
	return &session{w: w, opts: opts, mode: w.mode}, nil
}

func (w *widget) openedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.opened)
}

type session struct {
	w    *widget
	opts Options
	mode string
}

func (s *session) Await(ctx context.Context) (Callback, error) {
	switch s.mode {
	case "dismiss":
		return Callback{}, ErrCheckoutDismissed
	case "block":
		select {
		case <-s.w.release:
		case <-ctx.Done():
			return Callback{}, ctx.Err()
		}
	}
	paymentID := "pay_" + s.opts.OrderID
	secret := testKeySecret
	if s.mode == "forge" {
		secret = "not-the-secret"
	}
	return Callback{
		PaymentID: paymentID,
		OrderID:   s.opts.OrderID,
		Signature: payment.Sign(secret, s.opts.OrderID, paymentID),
	}, nil
}

type harness struct {
	srv    *httptest.Server
	book   *orderBook
	store  *recordStore
	tasks  *taskSink
	widget *widget
	client *Client
	cfg    Config

	mu          sync.Mutex
	hits        map[string]int
	authHeaders []string
	// lostVerifies is how many verify responses are replaced by a 502 after
	// the handler has already run.
	lostVerifies int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		book:   &orderBook{},
		store:  &recordStore{},
		tasks:  &taskSink{},
		widget: &widget{mode: "pay"},
		hits:   map[string]int{},
	}
	svc := &donation.Service{
		Store:          h.store,
		Gateway:        h.book,
		KeySecret:      testKeySecret,
		ReconcileQueue: h.tasks,
		Rules:          donation.Rules{MinAmount: 100, Currency: "INR", ReceiptPrefix: "rcpt", DefaultPurpose: "General Donation"},
		Logger:         zerolog.Nop(),
	}
	handler := &donation.Handler{Service: svc, Logger: zerolog.Nop()}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h.mu.Lock()
			h.hits[req.URL.Path]++
			h.authHeaders = append(h.authHeaders, req.Header.Get("Authorization"))
			lose := strings.HasSuffix(req.URL.Path, "/verify") && h.lostVerifies > 0
			if lose {
				h.lostVerifies--
			}
			h.mu.Unlock()
			if lose {
				next.ServeHTTP(httptest.NewRecorder(), req)
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/v1/donations", func(r chi.Router) {
		r.Post("/orders", handler.CreateOrder)
		r.Post("/verify", handler.VerifyPayment)
		r.Get("/checkout-config", handler.CheckoutConfigHandler)
	})
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)

	h.cfg = Config{
		BaseURL:    h.srv.URL + "/api/v1",
		KeyID:      "rzp_test_key",
		APIKey:     testAPIKey,
		Name:       "Garuda Dhhruvam Foundation",
		ThemeColor: "#FBC02D",
	}
	h.client = NewClient(h.cfg, h.srv.Client())
	return h
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(h.cfg, h.widget, WithAPI(h.client))
	require.NoError(t, err)
	return o
}

func (h *harness) hitCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func (h *harness) totalHits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.hits {
		n += c
	}
	return n
}
