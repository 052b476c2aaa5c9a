package migrate

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Probe answers questions about the live schema without changing it.
//
// It works on anything that can run a query: the pool while the runner
// decides whether a step is needed, or the step's own transaction while it
// applies, so a step sees the columns it has just added or dropped.
type Probe struct {
	q sqlx.QueryerContext
}

// NewProbe returns a Probe reading through q.
func NewProbe(q sqlx.QueryerContext) *Probe {
	return &Probe{q: q}
}

// TableExists reports whether a table named table exists.
func (p *Probe) TableExists(ctx context.Context, table string) (bool, error) {
	return p.exists(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
}

// ColumnExists reports whether table has a column named column. A missing
// table has no columns.
func (p *Probe) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	return p.exists(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column)
}

// IndexExists reports whether an index named index exists.
func (p *Probe) IndexExists(ctx context.Context, index string) (bool, error) {
	return p.exists(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, index)
}

// CountNull counts the rows of table whose column is NULL. Returns 0 when
// the column does not exist.
//
// table and column are interpolated into the query, so they must come from
// code, never from input.
func (p *Probe) CountNull(ctx context.Context, table, column string) (int, error) {
	ok, err := p.ColumnExists(ctx, table, column)
	if err != nil || !ok {
		return 0, err
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s IS NULL`, table, column)
	if err := sqlx.GetContext(ctx, p.q, &n, query); err != nil {
		return 0, fmt.Errorf("counting NULL %s.%s: %w", table, column, err)
	}
	return n, nil
}

func (p *Probe) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, p.q, &n, query, args...); err != nil {
		return false, fmt.Errorf("probing schema: %w", err)
	}
	return n > 0, nil
}

// missingAny reports whether any marker is absent. Markers are evaluated in
// order and the first absent one short-circuits.
func missingAny(ctx context.Context, markers ...func(context.Context) (bool, error)) (bool, error) {
	for _, present := range markers {
		ok, err := present(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *Probe) table(name string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) { return p.TableExists(ctx, name) }
}

func (p *Probe) column(table, column string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) { return p.ColumnExists(ctx, table, column) }
}

func (p *Probe) index(name string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) { return p.IndexExists(ctx, name) }
}

// noColumn is present when the column is gone, for markers like "the
// legacy code column has been dropped".
func (p *Probe) noColumn(table, column string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		ok, err := p.ColumnExists(ctx, table, column)
		return !ok, err
	}
}
