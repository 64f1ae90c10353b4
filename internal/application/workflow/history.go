package workflow

import (
	"errors"
	"fmt"

	"github.com/garyjia/invoice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/invoice-workflow/internal/domain/workflow"
)

// ErrHistoryInconsistent is returned when an audit trail is not a valid walk over the table
var ErrHistoryInconsistent = errors.New("workflow history inconsistent")

// ReplayHistory walks the transition events from the initial status and checks
// every step is a table edge starting where the previous one ended, and that
// the walk ends at current. Annotation events are ignored.
func ReplayHistory(table *domainwf.Table, current domainwf.Status, events []*entity.WorkflowEvent) error {
	machine := domainwf.NewMachine(table, domainwf.InitialStatus)

	for _, evt := range events {
		if !evt.IsTransition() {
			continue
		}

		if evt.FromStatus != machine.State().String() {
			return fmt.Errorf("%w: event %d starts at %q, expected %q",
				ErrHistoryInconsistent, evt.ID, evt.FromStatus, machine.State())
		}

		to, err := domainwf.ParseStatus(evt.ToStatus)
		if err != nil {
			return fmt.Errorf("%w: event %d: %w", ErrHistoryInconsistent, evt.ID, err)
		}

		if err := machine.Fire(to); err != nil {
			return fmt.Errorf("%w: event %d: %w", ErrHistoryInconsistent, evt.ID, err)
		}
	}

	if machine.State() != current {
		return fmt.Errorf("%w: replay ends at %s, stored status is %s",
			ErrHistoryInconsistent, machine.State(), current)
	}
	return nil
}
