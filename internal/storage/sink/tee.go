package sink

import (
	"log/slog"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// Tee appends to a primary sink and then to mirrors. Only the primary
// decides whether a flush succeeded: mirror failures are logged and
// counted, so a retried flush never duplicates rows in the primary.
type Tee struct {
	primary Sink
	mirrors []Sink
	logger  *slog.Logger
	stats   counters
}

// NewTee creates a Tee. With no mirrors it behaves like primary.
func NewTee(primary Sink, mirrors ...Sink) *Tee {
	return &Tee{
		primary: primary,
		mirrors: mirrors,
		logger:  logging.Component("sink").With("sink", "tee"),
	}
}

// Name returns the primary sink's name.
func (t *Tee) Name() string { return t.primary.Name() }

// Primary returns the primary sink.
func (t *Tee) Primary() Sink { return t.primary }

// EnsureHeader prepares all sinks. Only a primary failure is returned.
func (t *Tee) EnsureHeader() error {
	if err := t.primary.EnsureHeader(); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.EnsureHeader(); err != nil {
			t.stats.failures.Add(1)
			t.logger.Warn("mirror initialization failed", "mirror", m.Name(), "error", err)
		}
	}
	return nil
}

// AppendRows appends to the primary and, if that succeeded, to every mirror.
func (t *Tee) AppendRows(rows []types.Row) error {
	if err := t.primary.AppendRows(rows); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.AppendRows(rows); err != nil {
			t.stats.failures.Add(1)
			t.logger.Warn("mirror append failed", "mirror", m.Name(), "rows", len(rows), "error", err)
		}
	}
	if len(rows) > 0 {
		t.stats.success(len(rows))
	}
	return nil
}

// Close closes all sinks and returns the joined errors.
func (t *Tee) Close() error {
	errs := []error{t.primary.Close()}
	for _, m := range t.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

// Stats returns statistics of the Tee. Failures count mirror failures.
func (t *Tee) Stats() Stats {
	return t.stats.stats()
}
