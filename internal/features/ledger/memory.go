// memory.go — хранилище реестра в памяти процесса.
// Повторяет семантику PostgreSQL-репозитория: блокировка счёта держится
// до конца транзакции, записи транзакции видны другим только после фиксации.
// Используется в тестах и при STORAGE_DRIVER=memory.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/credit-ledger/internal/common"
)

type refKey struct {
	owner string
	ref   string
}

// MemoryStore — реализация Store в памяти.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  []*Entry
	byRef    map[refKey]*Entry
	locks    map[string]chan struct{} // Блокировка счёта: занятый слот = блокировка взята
	nextID   int64
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byRef:    make(map[refKey]*Entry),
		locks:    make(map[string]chan struct{}),
	}
}

// WithTx выполняет fn; изменения применяются разом при успехе.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:    s,
		held:     make(map[string]struct{}),
		created:  make(map[string]struct{}),
		balances: make(map[string]int64),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("транзакция прервана: %w: %w", common.ErrStorageUnavailable, err)
	}
	tx.commit()
	return nil
}

// GetOrCreateAccount возвращает счёт, создавая его при отсутствии.
func (s *MemoryStore) GetOrCreateAccount(ctx context.Context, ownerID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		now := time.Now().UTC()
		acc = &Account{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
		s.accounts[ownerID] = acc
	}
	cp := *acc
	return &cp, nil
}

// GetAccount возвращает копию счёта, не создавая его.
func (s *MemoryStore) GetAccount(ctx context.Context, ownerID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrAccountNotFound, ownerID)
	}
	cp := *acc
	return &cp, nil
}

// ListEntries — последние записи владельца, новые первыми.
func (s *MemoryStore) ListEntries(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].OwnerID == ownerID {
			cp := *s.entries[i]
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SumEntries — сумма записей без корректировок сверки.
func (s *MemoryStore) SumEntries(ctx context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumLocked(ownerID), nil
}

func (s *MemoryStore) sumLocked(ownerID string) int64 {
	var sum int64
	for _, e := range s.entries {
		if e.OwnerID == ownerID && !e.Adjustment {
			sum += e.Amount
		}
	}
	return sum
}

// ListAccounts — страница счетов после after по возрастанию owner_id.
func (s *MemoryStore) ListAccounts(ctx context.Context, after string, limit int) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owners := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		if id > after {
			owners = append(owners, id)
		}
	}
	sort.Strings(owners)
	if limit > 0 && len(owners) > limit {
		owners = owners[:limit]
	}

	out := make([]*Account, 0, len(owners))
	for _, id := range owners {
		cp := *s.accounts[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Ping всегда успешен.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// ForceBalance перезаписывает баланс в обход журнала.
// Нужен, чтобы смоделировать постороннее вмешательство и расхождение с историей.
func (s *MemoryStore) ForceBalance(ownerID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	acc, ok := s.accounts[ownerID]
	if !ok {
		acc = &Account{OwnerID: ownerID, CreatedAt: now}
		s.accounts[ownerID] = acc
	}
	acc.Balance = balance
	acc.UpdatedAt = now
}

func (s *MemoryStore) lockChan(ownerID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.locks[ownerID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[ownerID] = ch
	}
	return ch
}

// memTx копит изменения до фиксации.
type memTx struct {
	store    *MemoryStore
	held     map[string]struct{}
	created  map[string]struct{}
	balances map[string]int64
	entries  []*Entry
}

func (t *memTx) acquire(ctx context.Context, ownerID string) error {
	if _, ok := t.held[ownerID]; ok {
		return nil
	}
	ch := t.store.lockChan(ownerID)
	select {
	case ch <- struct{}{}:
		t.held[ownerID] = struct{}{}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ожидание блокировки счёта %s: %w: %w", ownerID, common.ErrStorageUnavailable, ctx.Err())
	}
}

func (t *memTx) unlock(ownerID string) {
	if _, ok := t.held[ownerID]; !ok {
		return
	}
	delete(t.held, ownerID)
	<-t.store.lockChan(ownerID)
}

func (t *memTx) release() {
	for ownerID := range t.held {
		t.unlock(ownerID)
	}
}

// snapshot — счёт с учётом несохранённых изменений транзакции.
func (t *memTx) snapshot(ownerID string) (*Account, bool) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var acc Account
	if stored, ok := s.accounts[ownerID]; ok {
		acc = *stored
	} else if _, ok := t.created[ownerID]; ok {
		now := time.Now().UTC()
		acc = Account{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	} else {
		return nil, false
	}
	if b, ok := t.balances[ownerID]; ok {
		acc.Balance = b
	}
	return &acc, true
}

func (t *memTx) LockAccount(ctx context.Context, ownerID string) (*Account, error) {
	if err := t.acquire(ctx, ownerID); err != nil {
		return nil, err
	}
	acc, ok := t.snapshot(ownerID)
	if !ok {
		t.unlock(ownerID)
		return nil, fmt.Errorf("%w: %s", common.ErrAccountNotFound, ownerID)
	}
	return acc, nil
}

func (t *memTx) LockOrCreateAccount(ctx context.Context, ownerID string) (*Account, error) {
	if err := t.acquire(ctx, ownerID); err != nil {
		return nil, err
	}
	acc, ok := t.snapshot(ownerID)
	if !ok {
		t.created[ownerID] = struct{}{}
		acc, _ = t.snapshot(ownerID)
	}
	return acc, nil
}

func (t *memTx) SetBalance(ctx context.Context, ownerID string, balance int64) error {
	if _, ok := t.held[ownerID]; !ok {
		return fmt.Errorf("счёт %s не заблокирован в транзакции", ownerID)
	}
	if balance < 0 {
		return fmt.Errorf("%w: баланс %d", common.ErrIntegrityViolation, balance)
	}
	t.balances[ownerID] = balance
	return nil
}

func (t *memTx) FindEntry(ctx context.Context, ownerID, referenceID string) (*Entry, error) {
	for _, e := range t.entries {
		if e.OwnerID == ownerID && e.ReferenceID == referenceID {
			cp := *e
			return &cp, nil
		}
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byRef[refKey{ownerID, referenceID}]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (t *memTx) InsertEntry(ctx context.Context, e *Entry) error {
	existing, _ := t.FindEntry(ctx, e.OwnerID, e.ReferenceID)
	if existing != nil {
		return &DuplicateReferenceError{OwnerID: e.OwnerID, ReferenceID: e.ReferenceID, Existing: existing}
	}

	s := t.store
	s.mu.Lock()
	s.nextID++
	e.ID = s.nextID
	s.mu.Unlock()

	cp := *e
	t.entries = append(t.entries, &cp)
	return nil
}

func (t *memTx) SumEntries(ctx context.Context, ownerID string) (int64, error) {
	s := t.store
	s.mu.Lock()
	sum := s.sumLocked(ownerID)
	s.mu.Unlock()

	for _, e := range t.entries {
		if e.OwnerID == ownerID && !e.Adjustment {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for ownerID := range t.created {
		if _, ok := s.accounts[ownerID]; !ok {
			s.accounts[ownerID] = &Account{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
		}
	}
	for ownerID, balance := range t.balances {
		acc := s.accounts[ownerID]
		acc.Balance = balance
		acc.UpdatedAt = now
	}
	for _, e := range t.entries {
		s.entries = append(s.entries, e)
		s.byRef[refKey{e.OwnerID, e.ReferenceID}] = e
	}
}
