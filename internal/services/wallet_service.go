package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WalletService struct {
	store repositories.Store
	cfg   *config.Config
	log   *zap.Logger
}

func NewWalletService(store repositories.Store, cfg *config.Config, log *zap.Logger) *WalletService {
	return &WalletService{store: store, cfg: cfg, log: log}
}

// owner resolves whose wallet a caller may read. Admins may read any.
func owner(a models.Actor, userID uuid.UUID) (uuid.UUID, error) {
	if userID == uuid.Nil || userID == a.ID {
		return a.ID, nil
	}
	if !a.IsAdmin() {
		return uuid.Nil, apperror.Forbidden("cannot read another user's wallet")
	}
	return userID, nil
}

// Balance returns the wallet, creating an empty one on first access.
func (s *WalletService) Balance(ctx context.Context, a models.Actor, userID uuid.UUID) (*models.Wallet, error) {
	id, err := owner(a, userID)
	if err != nil {
		return nil, err
	}
	w, err := s.store.Wallets().GetOrCreate(ctx, id, s.cfg.Currency)
	if err != nil {
		return nil, apperror.Internal(err, "load wallet")
	}
	return w, nil
}

// Entries lists the ledger newest first.
func (s *WalletService) Entries(ctx context.Context, a models.Actor, userID uuid.UUID, limit, offset int) ([]models.WalletEntry, error) {
	id, err := owner(a, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	entries, err := s.store.Wallets().Entries(ctx, id, limit, offset)
	if err != nil {
		return nil, apperror.Internal(err, "list wallet entries")
	}
	return entries, nil
}

// TopUp credits a wallet by hand, e.g. after an offline bank transfer.
func (s *WalletService) TopUp(ctx context.Context, a models.Actor, userID uuid.UUID, amount decimal.Decimal, note string) (*models.WalletEntry, error) {
	if !a.IsAdmin() {
		return nil, apperror.Unauthorized("admin role required")
	}
	if !amount.IsPositive() {
		return nil, apperror.BadRequest("top-up amount must be positive, got %s", amount)
	}

	e := &models.WalletEntry{
		UserID:      userID,
		Category:    models.CategoryTopUp,
		Amount:      amount.Round(2),
		Description: note,
	}
	if e.Description == "" {
		e.Description = fmt.Sprintf("manual top-up by %s", a.ID)
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repositories.Repos) error {
		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return apperror.NotFound("user %s not found", userID)
		}
		if err := tx.Wallets().Credit(ctx, e); err != nil {
			return apperror.Internal(err, "credit wallet")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Audit().Log(ctx, models.NewAuditLog(a, "wallet_top_up", "wallet", e.WalletID,
		map[string]any{"user_id": userID.String(), "amount": e.Amount.String()})); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", "wallet_top_up"), zap.Error(err))
	}
	s.log.Info("wallet topped up",
		zap.String("user_id", userID.String()),
		zap.String("amount", e.Amount.String()),
		zap.String("balance_after", e.BalanceAfter.String()),
	)
	return e, nil
}
