// Package migrate brings a SQLite database from any known schema state,
// including the legacy single-blob snippets table, to the current schema.
//
// PROBE-DRIVEN, NO VERSION TABLE:
// There is no schema_migrations bookkeeping. Each Step carries a predicate
// that inspects the live schema (tables, columns, indexes) and answers "is
// this step still needed?". The database describes its own version, so a
// file restored from any era, or touched by hand, is still migrated
// correctly, and running the migrations twice is a no-op.
//
// TRANSACTIONS:
// A step's schema changes and its data backfill run in one transaction.
// If anything fails the whole step rolls back, the runner stops and
// returns a *StepError. The service must not start on a half-migrated
// database.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/dbx"
)

// Step is one idempotent schema transition.
type Step struct {
	Name string
	// NeedsMigration must not change anything. Any missing marker of the
	// step's target schema means "needed".
	NeedsMigration func(ctx context.Context, p *Probe) (bool, error)
	// Apply runs inside the step's transaction. Use tx for every
	// statement.
	Apply func(ctx context.Context, tx *sqlx.Tx) error
}

// StepStatus is one line of Runner.Status.
type StepStatus struct {
	Name    string
	Pending bool
}

// StepError reports the step that failed. It matches apperror.ErrMigration
// under errors.Is and unwraps to the underlying cause.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migrate: step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, apperror.ErrMigration) true for every StepError.
func (e *StepError) Is(target error) bool { return target == apperror.ErrMigration }

// Options carries the bootstrap admin credentials. Both empty means no
// bootstrap admin.
type Options struct {
	AdminUsername string
	AdminPassword string
	// Passwords hashes the bootstrap admin's password. nil means
	// auth.NewPasswordService().
	Passwords *auth.PasswordService
}

func (o Options) hasAdmin() bool {
	return o.AdminUsername != "" || o.AdminPassword != ""
}

// Runner applies Steps in order.
type Runner struct {
	db     *sqlx.DB
	steps  []Step
	opts   Options
	logger *slog.Logger
}

// New returns a Runner over the default step list.
func New(db *sqlx.DB, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:     db,
		steps:  DefaultSteps(opts, logger),
		opts:   opts,
		logger: logger,
	}
}

// Run applies every pending step and stops at the first failure.
func (r *Runner) Run(ctx context.Context) error {
	probe := NewProbe(r.db)

	for _, step := range r.steps {
		needed, err := step.NeedsMigration(ctx, probe)
		if err != nil {
			return &StepError{Step: step.Name, Err: fmt.Errorf("checking: %w", err)}
		}
		if !needed {
			r.logger.Debug("migration not needed", "step", step.Name)
			continue
		}

		if err := dbx.WithTx(ctx, r.db, step.Apply); err != nil {
			r.logger.Error("migration failed", "step", step.Name, "error", err)
			return &StepError{Step: step.Name, Err: err}
		}
		r.logger.Info("migration applied", "step", step.Name)
	}

	return r.reportOrphans(ctx, probe)
}

// Status reports which steps Run would apply, without applying any.
func (r *Runner) Status(ctx context.Context) ([]StepStatus, error) {
	probe := NewProbe(r.db)
	statuses := make([]StepStatus, 0, len(r.steps))

	for _, step := range r.steps {
		needed, err := step.NeedsMigration(ctx, probe)
		if err != nil {
			return nil, &StepError{Step: step.Name, Err: fmt.Errorf("checking: %w", err)}
		}
		statuses = append(statuses, StepStatus{Name: step.Name, Pending: needed})
	}

	return statuses, nil
}

// reportOrphans warns about snippets nobody owns. They stay unreachable
// through the API until bootstrap credentials are configured and the
// service restarts.
func (r *Runner) reportOrphans(ctx context.Context, probe *Probe) error {
	if r.opts.hasAdmin() {
		return nil
	}

	orphans, err := probe.CountNull(ctx, "snippets", "user_id")
	if err != nil {
		return &StepError{Step: stepAssociateUsers, Err: err}
	}
	if orphans > 0 {
		r.logger.Warn("ownerless snippets found; set ADMIN_USERNAME and ADMIN_PASSWORD to claim them",
			"count", orphans)
	}
	return nil
}
