package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/goartstore/paywall-module/internal/config"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
	"github.com/bigkaa/goartstore/paywall-module/internal/payment"
	"github.com/bigkaa/goartstore/paywall-module/internal/repository"
	"github.com/bigkaa/goartstore/paywall-module/internal/storage/blobstore"
)

// --- In-memory хранилище ---
//
// memStore эмулирует таблицы media, payments, media_access, webhook_events
// с их ограничениями: один pending/completed платёж на пару (user, media),
// одна запись доступа на пару, каскадное удаление при удалении медиа.
// WithinTx сериализует транзакции и откатывает изменения при ошибке.

type memState struct {
	media        map[string]model.MediaItem
	payments     map[string]model.Payment
	entitlements map[string]model.Entitlement // ключ: user|media
	events       map[string]model.WebhookEvent
}

func (s *memState) clone() *memState {
	c := &memState{
		media:        make(map[string]model.MediaItem, len(s.media)),
		payments:     make(map[string]model.Payment, len(s.payments)),
		entitlements: make(map[string]model.Entitlement, len(s.entitlements)),
		events:       make(map[string]model.WebhookEvent, len(s.events)),
	}
	for k, v := range s.media {
		c.media[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.entitlements {
		c.entitlements[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

type memStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time

	// failOn — ошибки, возвращаемые операциями (ключ: "Entitlements.Grant" и т.п.)
	failMu sync.Mutex
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			media:        map[string]model.MediaItem{},
			payments:     map[string]model.Payment{},
			entitlements: map[string]model.Entitlement{},
			events:       map[string]model.WebhookEvent{},
		},
		now:    time.Now,
		failOn: map[string]error{},
	}
}

func (s *memStore) fail(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

func (s *memStore) injected(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failOn[op]
}

// repos возвращает репозитории вне транзакции (каждый вызов под mutex).
func (s *memStore) repos() repository.Repos {
	return s.reposWith(false)
}

func (s *memStore) reposWith(inTx bool) repository.Repos {
	base := memRepo{store: s, inTx: inTx}
	return repository.Repos{
		Media:         &memMediaRepo{base},
		Payments:      &memPaymentRepo{base},
		Entitlements:  &memEntitlementRepo{base},
		WebhookEvents: &memWebhookRepo{base},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(r repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.reposWith(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// payment возвращает копию платежа (для проверок в тестах).
func (s *memStore) payment(id string) (model.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.payments[id]
	return p, ok
}

// paymentsFor возвращает все платежи пары (user, media).
func (s *memStore) paymentsFor(userID, mediaID string) []model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Payment
	for _, p := range s.state.payments {
		if p.UserID == userID && p.MediaID == mediaID {
			out = append(out, p)
		}
	}
	return out
}

func (s *memStore) entitlement(userID, mediaID string) (model.Entitlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.entitlements[userID+"|"+mediaID]
	return e, ok
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.events)
}

// setCreatedAt сдвигает время создания платежа (для тестов sweep).
func (s *memStore) setCreatedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.state.payments[id]
	p.CreatedAt = at
	s.state.payments[id] = p
}

type memRepo struct {
	store *memStore
	inTx  bool
}

// lock захватывает mutex вне транзакции. Внутри транзакции он уже захвачен.
func (r memRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r memRepo) st() *memState { return r.store.state }

// --- media ---

type memMediaRepo struct{ memRepo }

func (r *memMediaRepo) Create(_ context.Context, m *model.MediaItem) error {
	if err := r.store.injected("Media.Create"); err != nil {
		return err
	}
	defer r.lock()()
	if _, ok := r.st().media[m.ID]; ok {
		return repository.ErrConflict
	}
	r.st().media[m.ID] = *m
	return nil
}

func (r *memMediaRepo) GetByID(_ context.Context, id string) (*model.MediaItem, error) {
	if err := r.store.injected("Media.GetByID"); err != nil {
		return nil, err
	}
	defer r.lock()()
	m, ok := r.st().media[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r *memMediaRepo) List(_ context.Context, limit, offset int) ([]*model.MediaItem, error) {
	defer r.lock()()
	items := make([]*model.MediaItem, 0, len(r.st().media))
	for _, m := range r.st().media {
		items = append(items, &m)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if offset >= len(items) {
		return []*model.MediaItem{}, nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *memMediaRepo) Count(_ context.Context) (int, error) {
	defer r.lock()()
	return len(r.st().media), nil
}

func (r *memMediaRepo) Delete(_ context.Context, id string) (*model.MediaItem, error) {
	defer r.lock()()
	m, ok := r.st().media[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.st().media, id)
	for pid, p := range r.st().payments {
		if p.MediaID == id {
			delete(r.st().payments, pid)
		}
	}
	for k, e := range r.st().entitlements {
		if e.MediaID == id {
			delete(r.st().entitlements, k)
		}
	}
	return &m, nil
}

// --- payments ---

type memPaymentRepo struct{ memRepo }

func isOpen(p model.Payment) bool {
	return p.Status == model.PaymentPending || p.Status == model.PaymentCompleted
}

func (r *memPaymentRepo) CreatePending(_ context.Context, p *model.Payment) error {
	if err := r.store.injected("Payments.CreatePending"); err != nil {
		return err
	}
	defer r.lock()()
	if _, ok := r.st().media[p.MediaID]; !ok {
		return repository.ErrNotFound
	}
	for _, existing := range r.st().payments {
		if existing.UserID == p.UserID && existing.MediaID == p.MediaID && isOpen(existing) {
			return repository.ErrConflict
		}
	}
	now := r.store.now().UTC()
	p.Status = model.PaymentPending
	p.CreatedAt = now
	p.UpdatedAt = now
	r.st().payments[p.ID] = *p
	return nil
}

func (r *memPaymentRepo) GetByID(_ context.Context, id string) (*model.Payment, error) {
	defer r.lock()()
	p, ok := r.st().payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *memPaymentRepo) FindOpen(_ context.Context, userID, mediaID string) (*model.Payment, error) {
	defer r.lock()()
	for _, p := range r.st().payments {
		if p.UserID == userID && p.MediaID == mediaID && isOpen(p) {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memPaymentRepo) HasCompleted(_ context.Context, userID, mediaID string) (bool, error) {
	if err := r.store.injected("Payments.HasCompleted"); err != nil {
		return false, err
	}
	defer r.lock()()
	for _, p := range r.st().payments {
		if p.UserID == userID && p.MediaID == mediaID && p.Status == model.PaymentCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *memPaymentRepo) CompletedMediaIDs(_ context.Context, userID string, mediaIDs []string) (map[string]bool, error) {
	defer r.lock()()
	want := make(map[string]bool, len(mediaIDs))
	for _, id := range mediaIDs {
		want[id] = true
	}
	out := map[string]bool{}
	for _, p := range r.st().payments {
		if p.UserID == userID && want[p.MediaID] && p.Status == model.PaymentCompleted {
			out[p.MediaID] = true
		}
	}
	return out, nil
}

func (r *memPaymentRepo) SetProviderRef(_ context.Context, id, providerRef string) error {
	defer r.lock()()
	p, ok := r.st().payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.ProviderRef = &providerRef
	r.st().payments[id] = p
	return nil
}

func (r *memPaymentRepo) Transition(
	_ context.Context, id string, to model.PaymentStatus, at time.Time, reason *string,
) (*model.Payment, bool, error) {
	if err := r.store.injected("Payments.Transition"); err != nil {
		return nil, false, err
	}
	defer r.lock()()
	p, ok := r.st().payments[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if p.Status != model.PaymentPending {
		return &p, false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	if to == model.PaymentCompleted {
		p.CompletedAt = &at
	}
	p.FailureReason = reason
	r.st().payments[id] = p
	return &p, true, nil
}

func (r *memPaymentRepo) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*model.Payment, error) {
	defer r.lock()()
	var out []*model.Payment
	for _, p := range r.st().payments {
		if p.Status == model.PaymentPending && p.CreatedAt.Before(olderThan) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPaymentRepo) ListRecentCompleted(_ context.Context, limit int) ([]*model.PaymentSummary, error) {
	defer r.lock()()
	var out []*model.PaymentSummary
	for _, p := range r.st().payments {
		if p.Status != model.PaymentCompleted {
			continue
		}
		out = append(out, &model.PaymentSummary{Payment: p, MediaTitle: r.st().media[p.MediaID].Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(*out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPaymentRepo) Totals(_ context.Context) (*model.SalesTotals, error) {
	defer r.lock()()
	t := &model.SalesTotals{TotalMedia: len(r.st().media), Revenue: decimal.Zero}
	buyers := map[string]bool{}
	for _, p := range r.st().payments {
		if p.Status != model.PaymentCompleted {
			continue
		}
		t.TotalPurchases++
		t.Revenue = t.Revenue.Add(p.Amount)
		buyers[p.UserID] = true
	}
	t.Buyers = len(buyers)
	return t, nil
}

func (r *memPaymentRepo) MediaSales(_ context.Context) ([]*model.MediaSales, error) {
	defer r.lock()()
	byID := map[string]*model.MediaSales{}
	var out []*model.MediaSales
	for _, m := range r.st().media {
		s := &model.MediaSales{MediaID: m.ID, Title: m.Title, Price: m.Price, Revenue: decimal.Zero}
		byID[m.ID] = s
		out = append(out, s)
	}
	for _, p := range r.st().payments {
		if s, ok := byID[p.MediaID]; ok && p.Status == model.PaymentCompleted {
			s.Purchases++
			s.Revenue = s.Revenue.Add(p.Amount)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revenue.GreaterThan(out[j].Revenue) })
	return out, nil
}

// --- media_access ---

type memEntitlementRepo struct{ memRepo }

func (r *memEntitlementRepo) Grant(_ context.Context, userID, mediaID string, at time.Time) (*model.Entitlement, error) {
	if err := r.store.injected("Entitlements.Grant"); err != nil {
		return nil, err
	}
	defer r.lock()()
	key := userID + "|" + mediaID
	e, ok := r.st().entitlements[key]
	if !ok {
		e = model.Entitlement{ID: uuid.New().String(), UserID: userID, MediaID: mediaID}
	}
	e.Unlocked = true
	if e.UnlockedAt == nil {
		t := at
		e.UnlockedAt = &t
	}
	r.st().entitlements[key] = e
	return &e, nil
}

func (r *memEntitlementRepo) Get(_ context.Context, userID, mediaID string) (*model.Entitlement, error) {
	defer r.lock()()
	e, ok := r.st().entitlements[userID+"|"+mediaID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r *memEntitlementRepo) UnlockedMediaIDs(_ context.Context, userID string, mediaIDs []string) (map[string]bool, error) {
	defer r.lock()()
	out := map[string]bool{}
	for _, id := range mediaIDs {
		if e, ok := r.st().entitlements[userID+"|"+id]; ok && e.Unlocked {
			out[id] = true
		}
	}
	return out, nil
}

// --- webhook_events ---

type memWebhookRepo struct{ memRepo }

func (r *memWebhookRepo) Record(_ context.Context, e *model.WebhookEvent) (bool, error) {
	defer r.lock()()
	if _, ok := r.st().events[e.ProviderEventID]; ok {
		return false, nil
	}
	if e.Result == "" {
		e.Result = model.WebhookResultReceived
	}
	r.st().events[e.ProviderEventID] = *e
	return true, nil
}

func (r *memWebhookRepo) MarkResult(_ context.Context, providerEventID, result string) error {
	defer r.lock()()
	e, ok := r.st().events[providerEventID]
	if !ok {
		return repository.ErrNotFound
	}
	e.Result = result
	r.st().events[providerEventID] = e
	return nil
}

// --- Мок провайдера платежей ---

type mockGateway struct {
	chargeFn   func(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error)
	initiateFn func(ctx context.Context, req payment.ChargeRequest) (*payment.InitiateResult, error)
	statusFn   func(ctx context.Context, reference string) (*payment.StatusResult, error)

	charges atomic.Int32
}

func (g *mockGateway) Name() string                { return "mock" }
func (g *mockGateway) Method() model.PaymentMethod { return model.MethodProvider }

func (g *mockGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.charges.Add(1)
	if g.chargeFn != nil {
		return g.chargeFn(ctx, req)
	}
	return &payment.ChargeResult{Status: payment.StatusSucceeded, ProviderRef: "ch_" + req.Reference}, nil
}

func (g *mockGateway) Initiate(ctx context.Context, req payment.ChargeRequest) (*payment.InitiateResult, error) {
	if g.initiateFn != nil {
		return g.initiateFn(ctx, req)
	}
	return &payment.InitiateResult{ProviderRef: "pi_" + req.Reference, CheckoutURL: "https://pay.example/" + req.Reference}, nil
}

func (g *mockGateway) Status(ctx context.Context, reference string) (*payment.StatusResult, error) {
	if g.statusFn != nil {
		return g.statusFn(ctx, reference)
	}
	return &payment.StatusResult{Status: payment.StatusUnknown}, nil
}

// --- Мок сервиса водяных знаков ---

type mockWatermarker struct {
	applyFn func(ctx context.Context, src io.Reader, contentType, text string) ([]byte, error)
	calls   atomic.Int32
}

func (w *mockWatermarker) Apply(ctx context.Context, src io.Reader, contentType, text string) ([]byte, error) {
	w.calls.Add(1)
	if w.applyFn != nil {
		return w.applyFn(ctx, src, contentType, text)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return append([]byte(text+":"), data...), nil
}

// --- Сборка сервисов ---

var errDBDown = errors.New("connection refused")

type testEnv struct {
	store      *memStore
	blobs      *blobstore.Store
	gateway    *mockGateway
	watermark  *mockWatermarker
	media      *MediaStore
	access     *AccessResolver
	ledger     *Ledger
	purchase   *PurchaseService
	reconciler *Reconciler
	delivery   *DeliveryGate
	catalog    *CatalogService
	reporting  *ReportingService
	sweep      *SweepService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithPolicy(t, config.PricePolicyStrict)
}

func newTestEnvWithPolicy(t *testing.T, policy string) *testEnv {
	t.Helper()

	store := newMemStore()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repos := store.repos()

	env := &testEnv{
		store:     store,
		blobs:     blobs,
		gateway:   &mockGateway{},
		watermark: &mockWatermarker{},
	}
	env.media = NewMediaStore(repos.Media, 100, time.Minute)
	env.access = NewAccessResolver(env.media, repos.Entitlements, repos.Payments)
	env.ledger = NewLedger(store, 5*time.Second, logger)
	env.purchase = NewPurchaseService(env.media, env.access, repos.Payments, env.ledger, env.gateway, PurchaseConfig{
		Currency:      "USD",
		PricePolicy:   policy,
		ChargeTimeout: 5 * time.Second,
	}, logger)
	env.reconciler = NewReconciler(store, env.ledger, 5*time.Second, logger)
	env.delivery = NewDeliveryGate(env.media, env.access, blobs, logger)
	env.catalog = NewCatalogService(env.media, repos.Media, env.access, blobs, env.watermark, CatalogConfig{
		DefaultPrice:  decimal.RequireFromString("9.99"),
		WatermarkText: "PREVIEW",
	}, logger)
	env.reporting = NewReportingService(repos.Payments)
	env.sweep = NewSweepService(repos.Payments, env.ledger, env.gateway, SweepConfig{
		Interval:      time.Hour,
		PendingAge:    5 * time.Minute,
		ExpireAfter:   24 * time.Hour,
		BatchSize:     100,
		StatusTimeout: time.Second,
	}, logger)
	return env
}

// seedMedia создаёт медиа владельца ownerID с ценой price и файлами в blob store.
func (e *testEnv) seedMedia(t *testing.T, ownerID, price string) *model.MediaItem {
	t.Helper()
	var p *decimal.Decimal
	if price != "" {
		d := decimal.RequireFromString(price)
		p = &d
	}
	m, err := e.catalog.Upload(context.Background(), ownerID, UploadInput{
		Title:    "Sunset",
		Filename: "sunset.jpg",
		Price:    p,
		Body:     strings.NewReader("original-bytes"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return m
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
