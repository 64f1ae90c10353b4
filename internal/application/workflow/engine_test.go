package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/invoice-workflow/internal/application/dispatcher"
	"github.com/garyjia/invoice-workflow/internal/domain/entity"
	"github.com/garyjia/invoice-workflow/internal/domain/event"
	domainwf "github.com/garyjia/invoice-workflow/internal/domain/workflow"
)

var allStatuses = []domainwf.Status{
	domainwf.StatusDraft,
	domainwf.StatusSent,
	domainwf.StatusPaid,
	domainwf.StatusOverdue,
	domainwf.StatusCancelled,
}

func newTestEngine(store *memStore, opts ...EngineOption) (*engineImpl, *mockDispatcher) {
	d := &mockDispatcher{}
	opts = append([]EngineOption{WithDispatcher(d)}, opts...)
	e := NewEngine(store, store, store, opts...).(*engineImpl)
	return e, d
}

func TestTransition_ValidEdges(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range domainwf.AllowedTargets(from) {
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				store := newMemStore()
				store.seed(1, from, nil)
				engine, d := newTestEngine(store)

				err := engine.Transition(context.Background(), 1, to, "user-7", "note")
				require.NoError(t, err)

				assert.Equal(t, to.String(), store.status(1))

				events := store.eventsFor(1)
				require.Len(t, events, 1)
				assert.Equal(t, entity.ActionStatusTransition, events[0].Action)
				assert.Equal(t, from.String(), events[0].FromStatus)
				assert.Equal(t, to.String(), events[0].ToStatus)
				assert.Equal(t, "user-7", events[0].ActorID)
				assert.Equal(t, "note", events[0].Notes)

				changed := d.ofType(event.TypeStatusChanged)
				require.Len(t, changed, 1)
				assert.Equal(t, int64(1), changed[0].InvoiceID)
				assert.Equal(t, from.String(), changed[0].GetPayloadString(event.PayloadFromStatus))
				assert.Equal(t, to.String(), changed[0].GetPayloadString(event.PayloadToStatus))
				assert.Equal(t, events[0].ID, changed[0].Payload[event.PayloadAuditID])
			})
		}
	}
}

func TestTransition_InvalidEdgesAreRejected(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range append(allStatuses, domainwf.Status("archived")) {
			if domainwf.CanTransition(from, to) {
				continue
			}
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				store := newMemStore()
				store.seed(1, from, nil)
				engine, d := newTestEngine(store)

				err := engine.Transition(context.Background(), 1, to, "user-7", "")
				require.ErrorIs(t, err, domainwf.ErrInvalidTransition)
				assert.False(t, domainwf.IsRetryable(err))

				assert.Equal(t, from.String(), store.status(1))
				assert.Empty(t, store.eventsFor(1))
				assert.Empty(t, d.ofType(event.TypeStatusChanged))
			})
		}
	}
}

func TestTransition_NotFound(t *testing.T) {
	store := newMemStore()
	engine, _ := newTestEngine(store)

	err := engine.Transition(context.Background(), 99, domainwf.StatusSent, "user-1", "")
	require.ErrorIs(t, err, domainwf.ErrInvoiceNotFound)
	assert.NotErrorIs(t, err, domainwf.ErrInvalidTransition)
	assert.Empty(t, store.eventsFor(99))
}

func TestTransition_UnknownStoredStatusIsRejected(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.Status("void"), nil)
	engine, _ := newTestEngine(store)

	err := engine.Transition(context.Background(), 1, domainwf.StatusSent, "user-1", "")
	require.ErrorIs(t, err, domainwf.ErrInvalidTransition)
	assert.ErrorIs(t, err, domainwf.ErrInvalidState)
}

func TestTransition_AuditFailureRollsBackStatus(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusDraft, nil)
	store.appendErr = errors.New("disk I/O error")
	engine, d := newTestEngine(store)

	err := engine.Transition(context.Background(), 1, domainwf.StatusSent, "user-1", "")
	require.ErrorIs(t, err, domainwf.ErrStoreUnavailable)
	assert.True(t, domainwf.IsRetryable(err))
	assert.NotErrorIs(t, err, domainwf.ErrInvalidTransition)

	assert.Equal(t, "draft", store.status(1))
	assert.Empty(t, store.eventsFor(1))
	assert.Empty(t, d.ofType(event.TypeStatusChanged))
}

func TestTransition_StatusWriteFailure(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusSent, nil)
	store.casErr[1] = errors.New("connection reset")
	engine, _ := newTestEngine(store)

	err := engine.MarkPaid(context.Background(), 1, "user-1", "")
	require.ErrorIs(t, err, domainwf.ErrStoreUnavailable)
	assert.Equal(t, "sent", store.status(1))
	assert.Empty(t, store.eventsFor(1))
}

func TestTransition_LockTimeout(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusDraft, nil)
	engine, _ := newTestEngine(store)

	release, err := engine.locks.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = engine.Transition(ctx, 1, domainwf.StatusSent, "user-1", "")
	require.ErrorIs(t, err, domainwf.ErrConcurrencyTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domainwf.ErrInvalidTransition)
	assert.NotErrorIs(t, err, domainwf.ErrInvoiceNotFound)
	assert.Equal(t, "draft", store.status(1))
}

func TestTransition_DefaultLockTimeout(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusDraft, nil)
	engine, _ := newTestEngine(store, WithLockTimeout(20*time.Millisecond))

	release, err := engine.locks.Acquire(context.Background(), 1)
	require.NoError(t, err)

	err = engine.Transition(context.Background(), 1, domainwf.StatusSent, "user-1", "")
	require.ErrorIs(t, err, domainwf.ErrConcurrencyTimeout)

	release()
	require.NoError(t, engine.Transition(context.Background(), 1, domainwf.StatusSent, "user-1", ""))
	assert.Equal(t, 0, engine.locks.size())
}

func TestTransition_OtherInvoicesAreNotBlocked(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusDraft, nil)
	store.seed(2, domainwf.StatusDraft, nil)
	engine, _ := newTestEngine(store)

	release, err := engine.locks.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, engine.Transition(ctx, 2, domainwf.StatusSent, "user-1", ""))
}

func TestTransition_ConcurrentCallersSingleWinner(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusSent, nil)
	engine, _ := newTestEngine(store)

	const n = 20
	var wg sync.WaitGroup
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results <- engine.MarkPaid(context.Background(), 1, "payer", "")
			} else {
				results <- engine.Cancel(context.Background(), 1, "canceller", "")
			}
		}(i)
	}
	wg.Wait()
	close(results)

	var successes, rejected int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domainwf.ErrInvalidTransition):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, rejected)
	assert.Len(t, store.eventsFor(1), 1)
	assert.Equal(t, 0, engine.locks.size())
}

func TestTransition_TerminalStatusesAcceptNothing(t *testing.T) {
	for _, terminal := range []domainwf.Status{domainwf.StatusPaid, domainwf.StatusCancelled} {
		store := newMemStore()
		store.seed(1, terminal, nil)
		engine, _ := newTestEngine(store)

		for _, to := range allStatuses {
			err := engine.Transition(context.Background(), 1, to, "user-1", "")
			assert.ErrorIs(t, err, domainwf.ErrInvalidTransition, "%s -> %s", terminal, to)
		}
		assert.ErrorIs(t, engine.MarkOverdue(context.Background(), 1), domainwf.ErrInvalidTransition)
		assert.Equal(t, terminal.String(), store.status(1))
		assert.Empty(t, store.eventsFor(1))
	}
}

func TestSend(t *testing.T) {
	t.Run("records transition only", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusDraft, nil)
		engine, _ := newTestEngine(store)

		require.NoError(t, engine.Send(context.Background(), 1, "user-1", SendOptions{}))

		events := store.eventsFor(1)
		require.Len(t, events, 1)
		assert.Equal(t, entity.NotesInvoiceSent, events[0].Notes)
		assert.Equal(t, "sent", store.status(1))
	})

	t.Run("records email in the same unit", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusDraft, nil)
		engine, _ := newTestEngine(store)

		require.NoError(t, engine.Send(context.Background(), 1, "user-1", SendOptions{EmailSent: true}))

		events := store.eventsFor(1)
		require.Len(t, events, 2)
		assert.Equal(t, entity.ActionStatusTransition, events[0].Action)
		assert.Equal(t, entity.ActionEmailSent, events[1].Action)
		assert.Equal(t, entity.NotesEmailSent, events[1].Notes)
		assert.Empty(t, events[1].ToStatus)
	})

	t.Run("rejected send writes no email event", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusPaid, nil)
		engine, _ := newTestEngine(store)

		err := engine.Send(context.Background(), 1, "user-1", SendOptions{EmailSent: true})
		require.ErrorIs(t, err, domainwf.ErrInvalidTransition)
		assert.Empty(t, store.eventsFor(1))
	})
}

func TestMarkPaid(t *testing.T) {
	t.Run("folds reference into notes", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusSent, nil)
		engine, _ := newTestEngine(store)

		require.NoError(t, engine.MarkPaid(context.Background(), 1, "user-1", "REF123"))

		assert.Equal(t, "paid", store.status(1))
		events := store.eventsFor(1)
		require.Len(t, events, 1)
		assert.Contains(t, events[0].Notes, "REF123")
		assert.Equal(t, "Payment received. Reference: REF123", events[0].Notes)
	})

	t.Run("plain notes without reference", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusOverdue, nil)
		engine, _ := newTestEngine(store)

		require.NoError(t, engine.MarkPaid(context.Background(), 1, "user-1", ""))
		assert.Equal(t, entity.NotesPaymentReceived, store.eventsFor(1)[0].Notes)
	})
}

func TestCancel(t *testing.T) {
	t.Run("paid invoice cannot be cancelled", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusPaid, nil)
		engine, _ := newTestEngine(store)

		err := engine.Cancel(context.Background(), 1, "user-1", "duplicate")
		require.ErrorIs(t, err, domainwf.ErrInvalidTransition)
		assert.Equal(t, "paid", store.status(1))
		assert.Empty(t, store.eventsFor(1))
	})

	t.Run("folds reason into notes", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusDraft, nil)
		engine, _ := newTestEngine(store)

		require.NoError(t, engine.Cancel(context.Background(), 1, "user-1", "duplicate"))
		assert.Equal(t, "Invoice cancelled. Reason: duplicate", store.eventsFor(1)[0].Notes)
	})
}

func TestMarkOverdue(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusSent, nil)
	engine, _ := newTestEngine(store)

	require.NoError(t, engine.MarkOverdue(context.Background(), 1))

	events := store.eventsFor(1)
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActionAutoOverdue, events[0].Action)
	assert.Equal(t, "sent", events[0].FromStatus)
	assert.Equal(t, "overdue", events[0].ToStatus)
	assert.Empty(t, events[0].ActorID)
	assert.Empty(t, events[0].ActorID)
	assert.Equal(t, entity.NotesAutoOverdue, events[0].Notes)
}

func TestLogAction(t *testing.T) {
	t.Run("appends annotation without touching status", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusSent, nil)
		engine, d := newTestEngine(store)

		id, err := engine.LogAction(context.Background(), ActionEntry{
			InvoiceID: 1,
			Action:    "reminder_sent",
			ToStatus:  "sent",
			ActorID:   "user-1",
			Notes:     "Second reminder",
		})
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.Equal(t, "sent", store.status(1))

		events := store.eventsFor(1)
		require.Len(t, events, 1)
		assert.False(t, events[0].IsTransition())
		assert.Len(t, d.ofType(event.TypeActionLogged), 1)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		engine, _ := newTestEngine(newMemStore())
		_, err := engine.LogAction(context.Background(), ActionEntry{InvoiceID: 5, Action: "note"})
		assert.ErrorIs(t, err, domainwf.ErrInvoiceNotFound)
	})

	t.Run("terminal invoice", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusCancelled, nil)
		engine, _ := newTestEngine(store)

		_, err := engine.LogAction(context.Background(), ActionEntry{InvoiceID: 1, Action: "note"})
		assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
		assert.Empty(t, store.eventsFor(1))
	})

	t.Run("action is required", func(t *testing.T) {
		store := newMemStore()
		store.seed(1, domainwf.StatusDraft, nil)
		engine, _ := newTestEngine(store)

		_, err := engine.LogAction(context.Background(), ActionEntry{InvoiceID: 1})
		assert.Error(t, err)
	})
}

func TestValidNextStates(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusSent, nil)
	store.seed(2, domainwf.StatusPaid, nil)
	engine, _ := newTestEngine(store)

	next, err := engine.ValidNextStates(context.Background(), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domainwf.Status{domainwf.StatusPaid, domainwf.StatusOverdue, domainwf.StatusCancelled}, next)

	next, err = engine.ValidNextStates(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = engine.ValidNextStates(context.Background(), 3)
	assert.ErrorIs(t, err, domainwf.ErrInvoiceNotFound)
}

func TestCreateInvoice(t *testing.T) {
	store := newMemStore()
	engine, d := newTestEngine(store)

	invoice := &entity.Invoice{Number: "INV-2024-001", CustomerID: 3, TotalCents: 12000, Status: "paid"}
	require.NoError(t, engine.CreateInvoice(context.Background(), invoice, "user-1"))

	assert.NotZero(t, invoice.ID)
	assert.Equal(t, "draft", invoice.Status)
	assert.Equal(t, "draft", store.status(invoice.ID))

	events := store.eventsFor(invoice.ID)
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActionCreated, events[0].Action)
	assert.False(t, events[0].IsTransition())
	assert.Len(t, d.ofType(event.TypeInvoiceCreated), 1)

	got, err := engine.GetInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-001", got.Number)
}

func TestCreateInvoice_RollsBackOnAuditFailure(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("disk full")
	engine, _ := newTestEngine(store)

	err := engine.CreateInvoice(context.Background(), &entity.Invoice{Number: "INV-1"}, "user-1")
	require.ErrorIs(t, err, domainwf.ErrStoreUnavailable)
	assert.Empty(t, store.invoices)
}

func TestVerifyHistory(t *testing.T) {
	store := newMemStore()
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	invoice := &entity.Invoice{Number: "INV-1"}
	require.NoError(t, engine.CreateInvoice(ctx, invoice, "user-1"))
	require.NoError(t, engine.Send(ctx, invoice.ID, "user-1", SendOptions{EmailSent: true}))
	require.NoError(t, engine.MarkOverdue(ctx, invoice.ID))
	require.NoError(t, engine.MarkPaid(ctx, invoice.ID, "user-2", "REF9"))

	require.NoError(t, engine.VerifyHistory(ctx, invoice.ID))

	history, err := engine.History(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}

	// status changed behind the engine's back
	store.mu.Lock()
	store.invoices[invoice.ID].Status = "cancelled"
	store.mu.Unlock()

	err = engine.VerifyHistory(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrHistoryInconsistent)
}

func TestVerifyHistory_ConcurrentTransition(t *testing.T) {
	store := newMemStore()
	engine, _ := newTestEngine(store)
	ctx := context.Background()

	invoice := &entity.Invoice{Number: "INV-1"}
	require.NoError(t, engine.CreateInvoice(ctx, invoice, "user-1"))
	require.NoError(t, engine.Send(ctx, invoice.ID, "user-1", SendOptions{}))

	// a payment arrives after the status was read but before the history is
	var wg sync.WaitGroup
	var payErr error
	var once sync.Once
	store.onHistory = func(id int64) {
		once.Do(func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				payErr = engine.MarkPaid(context.Background(), id, "user-2", "REF1")
			}()
			time.Sleep(50 * time.Millisecond)
		})
	}

	require.NoError(t, engine.VerifyHistory(ctx, invoice.ID))

	wg.Wait()
	require.NoError(t, payErr)
	assert.Equal(t, "paid", store.status(invoice.ID))
	require.NoError(t, engine.VerifyHistory(ctx, invoice.ID))
}

func TestReplayHistory(t *testing.T) {
	table := domainwf.InvoiceTable()
	step := func(action, from, to string) *entity.WorkflowEvent {
		return &entity.WorkflowEvent{Action: action, FromStatus: from, ToStatus: to}
	}

	t.Run("empty history is draft", func(t *testing.T) {
		assert.NoError(t, ReplayHistory(table, domainwf.StatusDraft, nil))
		assert.ErrorIs(t, ReplayHistory(table, domainwf.StatusSent, nil), ErrHistoryInconsistent)
	})

	t.Run("annotations are ignored", func(t *testing.T) {
		events := []*entity.WorkflowEvent{
			step(entity.ActionCreated, "", "draft"),
			step(entity.ActionStatusTransition, "draft", "sent"),
			step("status_changed", "sent", "paid"),
			step(entity.ActionAutoOverdue, "sent", "overdue"),
		}
		assert.NoError(t, ReplayHistory(table, domainwf.StatusOverdue, events))
	})

	t.Run("gap in the walk", func(t *testing.T) {
		events := []*entity.WorkflowEvent{
			step(entity.ActionStatusTransition, "sent", "paid"),
		}
		assert.ErrorIs(t, ReplayHistory(table, domainwf.StatusPaid, events), ErrHistoryInconsistent)
	})

	t.Run("edge outside the table", func(t *testing.T) {
		events := []*entity.WorkflowEvent{
			step(entity.ActionStatusTransition, "draft", "paid"),
		}
		err := ReplayHistory(table, domainwf.StatusPaid, events)
		assert.ErrorIs(t, err, ErrHistoryInconsistent)
		assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
	})

	t.Run("event after terminal", func(t *testing.T) {
		events := []*entity.WorkflowEvent{
			step(entity.ActionStatusTransition, "draft", "cancelled"),
			step(entity.ActionStatusTransition, "cancelled", "sent"),
		}
		assert.ErrorIs(t, ReplayHistory(table, domainwf.StatusSent, events), ErrHistoryInconsistent)
	})
}

func TestTransition_HookFailureDoesNotAffectCommit(t *testing.T) {
	store := newMemStore()
	store.seed(1, domainwf.StatusDraft, nil)

	d := dispatcher.NewDispatcher()
	var mu sync.Mutex
	var seen []string
	dispatcher.OnTransition(d, "failing", func(ctx context.Context, invoiceID int64, from, to string) error {
		mu.Lock()
		seen = append(seen, from+"->"+to)
		mu.Unlock()
		return errors.New("webhook unreachable")
	})
	dispatcher.OnTransition(d, "panicking", func(ctx context.Context, invoiceID int64, from, to string) error {
		panic("hook bug")
	})

	engine := NewEngine(store, store, store, WithDispatcher(d))
	require.NoError(t, engine.Send(context.Background(), 1, "user-1", SendOptions{}))
	require.NoError(t, d.Close())

	assert.Equal(t, "sent", store.status(1))
	assert.Len(t, store.eventsFor(1), 1)
	assert.Equal(t, []string{"draft->sent"}, seen)
}
