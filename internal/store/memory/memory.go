// Package memory is an in-process inventory store with the same locking
// contract as the Postgres store: one exclusive lock per product row and per
// sale row, held until the unit of work commits or rolls back.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
)

type Store struct {
	mu          sync.Mutex
	products    map[int64]models.Product
	sales       map[int64]*models.Sale
	codes       map[string]int64
	rowLocks    map[string]*rowLock
	nextProduct int64
	nextSale    int64
	nextLine    int64
	lockTimeout time.Duration
}

// New returns an empty store. A zero lockTimeout waits on locks until the
// context is done.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		products:    make(map[int64]models.Product),
		sales:       make(map[int64]*models.Sale),
		codes:       make(map[string]int64),
		rowLocks:    make(map[string]*rowLock),
		lockTimeout: lockTimeout,
	}
}

// CreateProduct inserts a catalog product with its opening stock
func (s *Store) CreateProduct(_ context.Context, product *models.Product) error {
	if product.Quantity < 0 {
		return store.ErrNegativeStock
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProduct++
	product.ID = s.nextProduct
	product.Version = 0
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = *product
	return nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (s *Store) GetSaleByID(_ context.Context, id int64) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", id, store.ErrNotFound)
	}
	return cloneSale(sale), nil
}

// CountSales returns the number of committed sales
func (s *Store) CountSales() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sales)
}

func (s *Store) BeginUnitOfWork(_ context.Context) (store.UnitOfWork, error) {
	return &unitOfWork{
		s:        s,
		held:     make(map[string]*rowLock),
		products: make(map[int64]models.Product),
		statuses: make(map[int64]string),
	}, nil
}

// rowLock is an exclusive row lock. refs counts the holder and the waiters;
// the entry leaves Store.rowLocks when it drops to zero.
type rowLock struct {
	ch   chan struct{}
	refs int
}

func (s *Store) refRow(key string) *rowLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.rowLocks[key]
	if !ok {
		lock = &rowLock{ch: make(chan struct{}, 1)}
		s.rowLocks[key] = lock
	}
	lock.refs++
	return lock
}

func (s *Store) unrefRow(key string, lock *rowLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(s.rowLocks, key)
	}
}

type unitOfWork struct {
	s        *Store
	held     map[string]*rowLock
	products map[int64]models.Product
	sales    []*models.Sale
	statuses map[int64]string
	done     bool
}

// acquire blocks on the row lock until it is free, the context is done or
// the store lock timeout elapses.
func (u *unitOfWork) acquire(ctx context.Context, key string) error {
	if _, ok := u.held[key]; ok {
		return nil
	}
	lock := u.s.refRow(key)

	var timeout <-chan time.Time
	if u.s.lockTimeout > 0 {
		timer := time.NewTimer(u.s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock.ch <- struct{}{}:
		u.held[key] = lock
		return nil
	case <-timeout:
		u.s.unrefRow(key, lock)
		return fmt.Errorf("%w: lock wait timeout on %s", store.ErrTransactionAborted, key)
	case <-ctx.Done():
		u.s.unrefRow(key, lock)
		return fmt.Errorf("%w: %w", store.ErrTransactionAborted, ctx.Err())
	}
}

func productKey(id int64) string { return fmt.Sprintf("product:%d", id) }
func saleKey(id int64) string    { return fmt.Sprintf("sale:%d", id) }

func (u *unitOfWork) LockProductsForUpdate(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	if u.done {
		return nil, store.ErrTxDone
	}
	locked := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		u.s.mu.Lock()
		_, exists := u.s.products[id]
		u.s.mu.Unlock()
		if !exists {
			continue
		}

		if err := u.acquire(ctx, productKey(id)); err != nil {
			return nil, err
		}

		p, ok := u.products[id]
		if !ok {
			u.s.mu.Lock()
			p, ok = u.s.products[id]
			u.s.mu.Unlock()
			if !ok {
				continue
			}
		}
		locked[id] = &p
	}
	return locked, nil
}

func (u *unitOfWork) SaveProduct(_ context.Context, product *models.Product) error {
	if u.done {
		return store.ErrTxDone
	}
	if _, ok := u.held[productKey(product.ID)]; !ok {
		return fmt.Errorf("product %d: %w", product.ID, store.ErrNotLocked)
	}
	if product.Quantity < 0 {
		return store.ErrNegativeStock
	}
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	u.products[product.ID] = *product
	return nil
}

// InsertSale assigns ids immediately and reserves the transaction code; both
// are released again on rollback except the ids, which leave gaps like a
// database sequence.
func (u *unitOfWork) InsertSale(_ context.Context, sale *models.Sale) error {
	if u.done {
		return store.ErrTxDone
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if _, taken := u.s.codes[sale.TransactionCode]; taken {
		return store.ErrDuplicateTransactionCode
	}
	for _, l := range sale.Lines {
		if _, ok := u.s.products[l.ProductID]; !ok {
			return fmt.Errorf("sale line references product %d: %w", l.ProductID, store.ErrNotFound)
		}
	}

	u.s.nextSale++
	sale.ID = u.s.nextSale
	sale.UpdatedAt = sale.CreatedAt
	for i := range sale.Lines {
		u.s.nextLine++
		sale.Lines[i].ID = u.s.nextLine
		sale.Lines[i].SaleID = sale.ID
	}
	u.s.codes[sale.TransactionCode] = sale.ID
	u.sales = append(u.sales, cloneSale(sale))
	return nil
}

func (u *unitOfWork) LockSaleForUpdate(ctx context.Context, id int64) (*models.Sale, error) {
	if u.done {
		return nil, store.ErrTxDone
	}
	u.s.mu.Lock()
	_, exists := u.s.sales[id]
	u.s.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("sale %d: %w", id, store.ErrNotFound)
	}

	if err := u.acquire(ctx, saleKey(id)); err != nil {
		return nil, err
	}

	u.s.mu.Lock()
	sale := cloneSale(u.s.sales[id])
	u.s.mu.Unlock()
	if status, ok := u.statuses[id]; ok {
		sale.Status = status
	}
	return sale, nil
}

func (u *unitOfWork) UpdateSaleStatus(_ context.Context, id int64, status string) error {
	if u.done {
		return store.ErrTxDone
	}
	if _, ok := u.held[saleKey(id)]; !ok {
		return fmt.Errorf("sale %d: %w", id, store.ErrNotLocked)
	}
	u.statuses[id] = status
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return store.ErrTxDone
	}
	u.s.mu.Lock()
	now := time.Now().UTC()
	for id, p := range u.products {
		u.s.products[id] = p
	}
	for _, sale := range u.sales {
		u.s.sales[sale.ID] = sale
	}
	for id, status := range u.statuses {
		if sale, ok := u.s.sales[id]; ok {
			sale.Status = status
			sale.UpdatedAt = now
		}
	}
	u.s.mu.Unlock()

	u.finish()
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.s.mu.Lock()
	for _, sale := range u.sales {
		delete(u.s.codes, sale.TransactionCode)
	}
	u.s.mu.Unlock()

	u.finish()
	return nil
}

func (u *unitOfWork) finish() {
	u.done = true
	for key, lock := range u.held {
		<-lock.ch
		u.s.unrefRow(key, lock)
		delete(u.held, key)
	}
}

func cloneSale(sale *models.Sale) *models.Sale {
	c := *sale
	c.Lines = append([]models.SaleLine(nil), sale.Lines...)
	if sale.Order != nil {
		o := *sale.Order
		c.Order = &o
	}
	if sale.Cashier != nil {
		cd := *sale.Cashier
		c.Cashier = &cd
	}
	return &c
}
