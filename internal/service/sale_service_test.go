package service

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/store/memory"
	"pos-service/internal/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sentMessage struct {
	phone   string
	message string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (d *recordingDispatcher) Dispatch(phone, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{phone, message})
}

func (d *recordingDispatcher) messages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

type recordingPublisher struct {
	mu       sync.Mutex
	sales    []*models.SaleCompletedEvent
	statuses []*models.OrderStatusChangedEvent
	restocks []*models.StockRestockedEvent
	err      error
}

func (p *recordingPublisher) PublishSaleCompleted(_ context.Context, e *models.SaleCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sales = append(p.sales, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, e)
	return p.err
}

func (p *recordingPublisher) PublishStockRestocked(_ context.Context, e *models.StockRestockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restocks = append(p.restocks, e)
	return p.err
}

type testEnv struct {
	svc       *SaleService
	store     *memory.Store
	notifier  *recordingDispatcher
	publisher *recordingPublisher
	metrics   *util.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New(5 * time.Second)
	env := &testEnv{
		store:     st,
		notifier:  &recordingDispatcher{},
		publisher: &recordingPublisher{},
		metrics:   util.NewMetrics(prometheus.NewRegistry()),
	}
	env.svc = NewSaleService(st, env.publisher, env.notifier, env.metrics, zaptest.NewLogger(t), Options{
		PhoneCountryCode: "254",
		CurrencyCode:     "KES",
	})
	return env
}

func (e *testEnv) product(t *testing.T, name, price string, qty int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Price: decimal.RequireFromString(price), Quantity: qty}
	require.NoError(t, e.store.CreateProduct(context.Background(), p))
	return p
}

func (e *testEnv) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := e.store.GetProductByID(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func TestSubmitCashierSale(t *testing.T) {
	env := newTestEnv(t)
	sugar := env.product(t, "Sugar 1kg", "160.00", 10)
	milk := env.product(t, "Milk 500ml", "65.50", 5)

	sale, err := env.svc.SubmitSale(context.Background(), cashierRequest(
		models.LineRequest{ProductID: sugar.ID, Quantity: 2},
		models.LineRequest{ProductID: milk.ID, Quantity: 3},
	))
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^OTC[0-9A-F]{8}$`), sale.TransactionCode)
	assert.Equal(t, models.CashierStatusCompleted, sale.Status)
	assert.Equal(t, 8, env.stock(t, sugar.ID))
	assert.Equal(t, 2, env.stock(t, milk.ID))

	require.Len(t, sale.Lines, 2)
	assert.Equal(t, 1, sale.Lines[0].Position)
	assert.True(t, decimal.RequireFromString("320.00").Equal(sale.Lines[0].LineTotal))
	assert.True(t, decimal.RequireFromString("196.50").Equal(sale.Lines[1].LineTotal))
	assert.True(t, decimal.RequireFromString("516.50").Equal(sale.GrandTotal))

	stored, err := env.svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.TransactionCode, stored.TransactionCode)
	assert.Len(t, stored.Lines, 2)

	require.Len(t, env.publisher.sales, 1)
	assert.Equal(t, []models.StockLevel{{ProductID: sugar.ID, Quantity: 8, Version: 1}, {ProductID: milk.ID, Quantity: 2, Version: 1}},
		env.publisher.sales[0].StockLevels)
	assert.Equal(t, "516.50", env.publisher.sales[0].GrandTotal)

	assert.Empty(t, env.notifier.messages(), "cashier sales send no SMS")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SalesCommittedTotal.WithLabelValues("cashier")))
	assert.Equal(t, 5.0, testutil.ToFloat64(env.metrics.SaleUnitsTotal.WithLabelValues("cashier")))
}

func TestSubmitOrderSendsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	rice := env.product(t, "Rice 2kg", "250.00", 3)

	sale, err := env.svc.SubmitSale(context.Background(), orderRequest(models.LineRequest{ProductID: rice.ID, Quantity: 1}))
	require.NoError(t, err)

	assert.Regexp(t, `^OON[0-9A-F]{8}$`, sale.TransactionCode)
	assert.Equal(t, models.OrderStatusPending, sale.Status)
	assert.Equal(t, "+254712345678", sale.Order.PhoneNumber)

	msgs := env.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+254712345678", msgs[0].phone)
	assert.Contains(t, msgs[0].message, sale.TransactionCode)
	assert.Contains(t, msgs[0].message, "KES 250.00")
}

func TestGrandTotalEqualsSumOfLines(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "Bread", "55.00", 100)
	b := env.product(t, "Eggs tray", "420.75", 100)

	sale, err := env.svc.SubmitSale(context.Background(), cashierRequest(
		models.LineRequest{ProductID: a.ID, Quantity: 3},
		models.LineRequest{ProductID: b.ID, Quantity: 2},
		models.LineRequest{ProductID: a.ID, Quantity: 1},
	))
	require.NoError(t, err)

	sum := decimal.Zero
	for _, l := range sale.Lines {
		assert.True(t, l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Equal(l.LineTotal))
		sum = sum.Add(l.LineTotal)
	}
	assert.True(t, sum.Equal(sale.GrandTotal))
	assert.Len(t, sale.Lines, 3, "lines keep their submitted order and are not merged")
	assert.Equal(t, 96, env.stock(t, a.ID))
}

func TestCumulativeQuantityIsChecked(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Flour 2kg", "190.00", 6)

	_, err := env.svc.SubmitSale(context.Background(), cashierRequest(
		models.LineRequest{ProductID: p.ID, Quantity: 3},
		models.LineRequest{ProductID: p.ID, Quantity: 4},
	))

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, p.ID, insufficient.ProductID)
	assert.Equal(t, 6, insufficient.Available)
	assert.Equal(t, 7, insufficient.Requested)
	assert.Equal(t, 6, env.stock(t, p.ID))
	assert.Zero(t, env.store.CountSales())
}

func TestInsufficientStockLeavesEverythingUntouched(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "Tea leaves", "120.00", 10)
	b := env.product(t, "Cooking oil", "380.00", 1)

	_, err := env.svc.SubmitSale(context.Background(), cashierRequest(
		models.LineRequest{ProductID: a.ID, Quantity: 5},
		models.LineRequest{ProductID: b.ID, Quantity: 2},
	))

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, b.ID, insufficient.ProductID)
	assert.Equal(t, "Cooking oil", insufficient.ProductName)
	assert.Equal(t, 10, env.stock(t, a.ID))
	assert.Equal(t, 1, env.stock(t, b.ID))
	assert.Zero(t, env.store.CountSales())
	assert.Empty(t, env.publisher.sales)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SalesFailedTotal.WithLabelValues("cashier", "insufficient_stock")))
}

func TestUnknownProductRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "Salt", "30.00", 10)

	_, err := env.svc.SubmitSale(context.Background(), cashierRequest(
		models.LineRequest{ProductID: a.ID, Quantity: 1},
		models.LineRequest{ProductID: 999, Quantity: 1},
	))

	var notFound *ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(999), notFound.ProductID)
	assert.Equal(t, 10, env.stock(t, a.ID))
}

func TestInputErrorsNeverReachStore(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "Salt", "30.00", 10)

	_, err := env.svc.SubmitSale(context.Background(), orderRequest())
	assert.ErrorIs(t, err, ErrEmptyCart)

	req := orderRequest(models.LineRequest{ProductID: a.ID, Quantity: 1})
	req.Order.DeliveryOption = models.DeliveryModeDelivery
	_, err = env.svc.SubmitSale(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingAddress)

	assert.Equal(t, 10, env.stock(t, a.ID))
	assert.Empty(t, env.notifier.messages())
}

type faultyStore struct {
	store.InventoryStore
	insertErr error
}

func (f *faultyStore) BeginUnitOfWork(ctx context.Context) (store.UnitOfWork, error) {
	uow, err := f.InventoryStore.BeginUnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyUnit{UnitOfWork: uow, insertErr: f.insertErr}, nil
}

type faultyUnit struct {
	store.UnitOfWork
	insertErr error
}

func (u *faultyUnit) InsertSale(context.Context, *models.Sale) error {
	return u.insertErr
}

func TestFailedInsertRollsBackDecrement(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "Soap", "85.00", 4)

	svc := NewSaleService(&faultyStore{InventoryStore: env.store, insertErr: errors.New("disk full")},
		nil, env.notifier, nil, zaptest.NewLogger(t), Options{PhoneCountryCode: "254"})

	_, err := svc.SubmitSale(context.Background(), orderRequest(models.LineRequest{ProductID: a.ID, Quantity: 3}))
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 4, env.stock(t, a.ID))
	assert.Empty(t, env.notifier.messages())

	// the row lock was released by the rollback
	_, err = env.svc.SubmitSale(context.Background(), cashierRequest(models.LineRequest{ProductID: a.ID, Quantity: 4}))
	require.NoError(t, err)
	assert.Equal(t, 0, env.stock(t, a.ID))
}

func TestTransactionCodeCollisionIsRetried(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "Matches", "5.00", 10)

	codes := []string{"OTC00000001", "OTC00000001", "OTC00000002"}
	var mu sync.Mutex
	env.svc.recorder.newCode = func(models.SaleKind) string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c
	}

	first, err := env.svc.SubmitSale(context.Background(), cashierRequest(models.LineRequest{ProductID: a.ID, Quantity: 1}))
	require.NoError(t, err)
	second, err := env.svc.SubmitSale(context.Background(), cashierRequest(models.LineRequest{ProductID: a.ID, Quantity: 1}))
	require.NoError(t, err)

	assert.Equal(t, "OTC00000001", first.TransactionCode)
	assert.Equal(t, "OTC00000002", second.TransactionCode)
	assert.Equal(t, 8, env.stock(t, a.ID))
}

func TestTransactionCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := NewTransactionCode(models.SaleKindOrder)
		assert.Regexp(t, `^OON[0-9A-F]{8}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
	assert.Regexp(t, `^OTC[0-9A-F]{8}$`, NewTransactionCode(models.SaleKindCashier))
}

func TestConcurrentSalesForLastUnits(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Gas refill", "1100.00", 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.SubmitSale(context.Background(), cashierRequest(models.LineRequest{ProductID: p.ID, Quantity: 6}))
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		var insufficient *InsufficientStockError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &insufficient):
			rejected++
			assert.Equal(t, 4, insufficient.Available)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 4, env.stock(t, p.ID))
	assert.Equal(t, 1, env.store.CountSales())
}

func TestReversedLineOrderDoesNotDeadlock(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "Pens", "20.00", 1000)
	b := env.product(t, "Books", "90.00", 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		lines := []models.LineRequest{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 2}}
		if i%2 == 1 {
			lines[0], lines[1] = lines[1], lines[0]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.SubmitSale(ctx, cashierRequest(lines...))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1000-workers, env.stock(t, a.ID))
	assert.Equal(t, 1000-2*workers, env.stock(t, b.ID))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	const opening = 20
	ids := []int64{
		env.product(t, "A", "10.00", opening).ID,
		env.product(t, "B", "12.00", opening).ID,
		env.product(t, "C", "14.00", opening).ID,
	}

	rng := rand.New(rand.NewSource(42))
	requests := make([]*SaleRequest, 60)
	for i := range requests {
		var lines []models.LineRequest
		for n := rng.Intn(3) + 1; n > 0; n-- {
			lines = append(lines, models.LineRequest{ProductID: ids[rng.Intn(len(ids))], Quantity: rng.Intn(4) + 1})
		}
		requests[i] = cashierRequest(lines...)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var committed []*models.Sale
	for _, req := range requests {
		wg.Add(1)
		go func(req *SaleRequest) {
			defer wg.Done()
			sale, err := env.svc.SubmitSale(context.Background(), req)
			if err != nil {
				var insufficient *InsufficientStockError
				assert.ErrorAs(t, err, &insufficient)
				return
			}
			mu.Lock()
			committed = append(committed, sale)
			mu.Unlock()
		}(req)
	}
	wg.Wait()

	sold := make(map[int64]int)
	for _, sale := range committed {
		for _, l := range sale.Lines {
			sold[l.ProductID] += l.Quantity
		}
	}
	for _, id := range ids {
		remaining := env.stock(t, id)
		assert.GreaterOrEqual(t, remaining, 0)
		assert.Equal(t, opening-sold[id], remaining, "product %d", id)
	}
	assert.Equal(t, len(committed), env.store.CountSales())
}

func TestLockTimeoutSurfacesAsAborted(t *testing.T) {
	st := memory.New(30 * time.Millisecond)
	p := &models.Product{Name: "Charcoal", Price: decimal.RequireFromString("300.00"), Quantity: 5}
	require.NoError(t, st.CreateProduct(context.Background(), p))
	svc := NewSaleService(st, nil, nil, nil, zaptest.NewLogger(t), Options{PhoneCountryCode: "254"})

	holder, err := st.BeginUnitOfWork(context.Background())
	require.NoError(t, err)
	_, err = holder.LockProductsForUpdate(context.Background(), []int64{p.ID})
	require.NoError(t, err)

	_, err = svc.SubmitSale(context.Background(), cashierRequest(models.LineRequest{ProductID: p.ID, Quantity: 1}))
	assert.ErrorIs(t, err, ErrTransactionAborted)

	require.NoError(t, holder.Rollback())
	_, err = svc.SubmitSale(context.Background(), cashierRequest(models.LineRequest{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
}

func TestPublishFailureDoesNotFailSale(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker unavailable")
	p := env.product(t, "Candles", "15.00", 3)

	_, err := env.svc.SubmitSale(context.Background(), cashierRequest(models.LineRequest{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, 2, env.stock(t, p.ID))
}

func TestRestock(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "Rice 2kg", "250.00", 2)

	updated, err := env.svc.Restock(context.Background(), p.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Quantity)
	assert.Equal(t, 10, env.stock(t, p.ID))
	require.Len(t, env.publisher.restocks, 1)
	assert.Equal(t, 8, env.publisher.restocks[0].Added)
	assert.Equal(t, int64(1), env.publisher.restocks[0].Version)

	_, err = env.svc.Restock(context.Background(), p.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = env.svc.Restock(context.Background(), 404, 1)
	var notFound *ProductNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestGetSaleNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetSale(context.Background(), 12)
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeSnapshot struct {
	levels map[int64]int
	err    error
}

func (f *fakeSnapshot) GetStockLevel(_ context.Context, id int64) (int, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	q, ok := f.levels[id]
	return q, ok, nil
}

func TestStockReaderFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "A", "1.00", 7)
	b := env.product(t, "B", "1.00", 3)
	logger := zaptest.NewLogger(t)

	reader := NewStockReader(&fakeSnapshot{levels: map[int64]int{a.ID: 6}}, env.store, logger)
	level, err := reader.StockLevel(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, &StockLevel{ProductID: a.ID, Quantity: 6, Source: StockSourceSnapshot}, level)

	level, err = reader.StockLevel(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StockSourceStore, level.Source)
	assert.Equal(t, 3, level.Quantity)

	reader = NewStockReader(&fakeSnapshot{err: errors.New("timeout")}, env.store, logger)
	level, err = reader.StockLevel(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, level.Quantity)

	_, err = NewStockReader(nil, env.store, logger).StockLevel(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}
