package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/invoice-workflow/internal/application/dispatcher"
	"github.com/garyjia/invoice-workflow/internal/domain/entity"
	"github.com/garyjia/invoice-workflow/internal/domain/event"
	domainwf "github.com/garyjia/invoice-workflow/internal/domain/workflow"
)

// memStore implements port.InvoiceRepository, port.AuditLog and
// port.TransactionManager over maps. Transactions are serialized; a failed
// transaction undoes only the writes it made itself.
type memStore struct {
	txMu sync.Mutex

	mu          sync.Mutex
	invoices    map[int64]*entity.Invoice
	events      []*entity.WorkflowEvent
	nextEventID int64
	now         time.Time

	// undo holds the pre-write status of invoices changed by the open transaction
	undo    map[int64]string
	created []int64
	inTx    bool

	appendErr  error
	casErr     map[int64]error
	listErr    error
	onListDue  func(ids []int64)
	onHistory  func(invoiceID int64)
}

func newMemStore() *memStore {
	return &memStore{
		invoices: make(map[int64]*entity.Invoice),
		casErr:   make(map[int64]error),
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) seed(id int64, status domainwf.Status, due *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[id] = &entity.Invoice{
		ID:      id,
		Number:  fmt.Sprintf("INV-%04d", id),
		Status:  status.String(),
		DueDate: due,
	}
}

func (m *memStore) status(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id].Status
}

func (m *memStore) eventsFor(id int64) []*entity.WorkflowEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*entity.WorkflowEvent
	for _, e := range m.events {
		if e.InvoiceID == id {
			result = append(result, e)
		}
	}
	return result
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	m.inTx = true
	m.undo = make(map[int64]string)
	m.created = nil
	eventCount := len(m.events)
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		for id, s := range m.undo {
			if inv, ok := m.invoices[id]; ok {
				inv.Status = s
			}
		}
		for _, id := range m.created {
			delete(m.invoices, id)
		}
		m.events = m.events[:eventCount]
	}
	m.inTx = false
	m.undo = nil
	m.created = nil
	return err
}

func (m *memStore) Create(ctx context.Context, invoice *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var maxID int64
	for id := range m.invoices {
		if id > maxID {
			maxID = id
		}
	}
	invoice.ID = maxID + 1
	cp := *invoice
	m.invoices[invoice.ID] = &cp
	if m.inTx {
		m.created = append(m.created, invoice.ID)
	}
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, domainwf.ErrInvoiceNotFound)
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) GetStatus(ctx context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return "", fmt.Errorf("invoice %d: %w", id, domainwf.ErrInvoiceNotFound)
	}
	return inv.Status, nil
}

func (m *memStore) CompareAndSetStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.casErr[id]; err != nil {
		return false, err
	}
	inv, ok := m.invoices[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	if m.inTx {
		if _, seen := m.undo[id]; !seen {
			m.undo[id] = inv.Status
		}
	}
	inv.Status = to
	return true, nil
}

func (m *memStore) ListDueBefore(ctx context.Context, status string, before time.Time) ([]int64, error) {
	ids, err := m.listDueBefore(status, before)
	if err != nil {
		return nil, err
	}
	if m.onListDue != nil {
		m.onListDue(ids)
	}
	return ids, nil
}

func (m *memStore) listDueBefore(status string, before time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := []int64{}
	for id, inv := range m.invoices {
		if inv.Status == status && inv.DueDate != nil && inv.DueDate.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) Append(ctx context.Context, evt *entity.WorkflowEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.nextEventID++
	evt.ID = m.nextEventID
	if evt.CreatedAt.IsZero() {
		m.now = m.now.Add(time.Second)
		evt.CreatedAt = m.now
	}
	cp := *evt
	m.events = append(m.events, &cp)
	return evt.ID, nil
}

func (m *memStore) History(ctx context.Context, invoiceID int64) ([]*entity.WorkflowEvent, error) {
	if m.onHistory != nil {
		m.onHistory(invoiceID)
	}
	result := m.eventsFor(invoiceID)
	if result == nil {
		result = []*entity.WorkflowEvent{}
	}
	return result, nil
}

// mockDispatcher records dispatched events
type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *mockDispatcher) Close() error { return nil }

func (m *mockDispatcher) ofType(t event.Type) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*event.Event
	for _, e := range m.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}
