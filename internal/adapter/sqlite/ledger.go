package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tkrause/jobgate/internal/domain"
)

// LedgerRepository implements domain.EntitlementRepository on SQLite.
// Entitlements are versioned records mutated only through conditional
// updates; payment events are append-only.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a LedgerRepository over an opened database.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Get returns the account's entitlement, creating a default free record on
// first touch so admission and webhook paths always have a row to update.
func (r *LedgerRepository) Get(ctx context.Context, accountID string) (*domain.Entitlement, error) {
	if accountID == "" {
		return nil, domain.ErrAccountNotFound
	}
	if err := r.ensure(ctx, r.db, accountID); err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT account_id, plan, expires_at, point_balance, bonus_used, version, updated_at
		 FROM entitlements WHERE account_id = ?`, accountID)

	var e domain.Entitlement
	var plan string
	if err := row.Scan(&e.AccountID, &plan, &e.ExpiresAt, &e.PointBalance,
		&e.BonusUsed, &e.Version, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	e.Plan = domain.Plan(plan)
	return &e, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *LedgerRepository) ensure(ctx context.Context, db execer, accountID string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entitlements (account_id, plan, expires_at, point_balance, bonus_used, version, updated_at)
		 VALUES (?, ?, ?, 0, 0, 0, ?)`,
		accountID, domain.PlanFree, time.Unix(0, 0).UTC(), time.Now().UTC(),
	)
	return err
}

// ApplyEvent records a payment event and applies its effect atomically.
// Re-delivery of a known event ID is a no-op returning (false, nil).
func (r *LedgerRepository) ApplyEvent(ctx context.Context, ev *domain.PaymentEvent) (bool, error) {
	applied := false
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO payment_events (event_id, account_id, effect, points, plan, extend_days, applied, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			ev.EventID, ev.AccountID, ev.Effect, ev.Points, ev.Plan, ev.ExtendDays, now,
		)
		if isUniqueViolation(err) {
			return nil // already applied, acknowledge without effect
		}
		if err != nil {
			return err
		}
		if err := r.ensure(ctx, tx, ev.AccountID); err != nil {
			return err
		}

		switch ev.Effect {
		case domain.EffectCreditPoints:
			_, err = tx.ExecContext(ctx,
				`UPDATE entitlements SET point_balance = point_balance + ?, version = version + 1, updated_at = ?
				 WHERE account_id = ?`,
				ev.Points, now, ev.AccountID)
		case domain.EffectExtendSubscription:
			// Extension stacks on the remaining term when one exists.
			var current time.Time
			if err := tx.QueryRowContext(ctx,
				`SELECT expires_at FROM entitlements WHERE account_id = ?`,
				ev.AccountID).Scan(&current); err != nil {
				return err
			}
			base := now
			if current.After(now) {
				base = current
			}
			until := base.AddDate(0, 0, ev.ExtendDays)
			_, err = tx.ExecContext(ctx,
				`UPDATE entitlements SET plan = ?, expires_at = ?, version = version + 1, updated_at = ?
				 WHERE account_id = ?`,
				ev.Plan, until, now, ev.AccountID)
		default:
			return fmt.Errorf("unknown payment effect %q", ev.Effect)
		}
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
