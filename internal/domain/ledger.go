package domain

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LedgerService ingests payment-gateway callbacks into the entitlement
// ledger. Ingestion is idempotent on the gateway-assigned event ID.
type LedgerService struct {
	ledger EntitlementRepository
	log    *zap.Logger
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(ledger EntitlementRepository, log *zap.Logger) *LedgerService {
	return &LedgerService{ledger: ledger, log: log}
}

// Ingest applies a payment event to the owning entitlement. Re-delivery of
// an already-applied event returns (false, nil) and changes nothing.
func (s *LedgerService) Ingest(ctx context.Context, ev *PaymentEvent) (bool, error) {
	if ev.EventID == "" || ev.AccountID == "" {
		return false, fmt.Errorf("payment event missing event_id or account_id")
	}
	if !ev.Effect.Valid() {
		return false, fmt.Errorf("unknown payment effect %q", ev.Effect)
	}
	if ev.Effect == EffectExtendSubscription && !ev.Plan.Valid() {
		return false, fmt.Errorf("unknown plan %q", ev.Plan)
	}

	applied, err := s.ledger.ApplyEvent(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("apply payment event: %w", err)
	}
	if applied {
		s.log.Info("payment event applied",
			zap.String("event_id", ev.EventID),
			zap.String("account_id", ev.AccountID),
			zap.String("effect", string(ev.Effect)),
		)
	} else {
		s.log.Debug("payment event re-delivered, ignored",
			zap.String("event_id", ev.EventID))
	}
	return applied, nil
}

// Entitlement returns the account's current entitlement record.
func (s *LedgerService) Entitlement(ctx context.Context, accountID string) (*Entitlement, error) {
	return s.ledger.Get(ctx, accountID)
}
