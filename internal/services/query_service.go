package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
)

// TransactionQueries serves the read side of bookings and orders.
type TransactionQueries struct {
	store repositories.Store
}

func NewTransactionQueries(store repositories.Store) *TransactionQueries {
	return &TransactionQueries{store: store}
}

func (q *TransactionQueries) Get(ctx context.Context, id uuid.UUID, a models.Actor) (*models.Transaction, error) {
	t, err := q.store.Transactions().GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperror.NotFound("transaction %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal(err, "load transaction")
	}
	if t.DeletedAt != nil && !a.IsAdmin() {
		return nil, apperror.NotFound("transaction %s not found", id)
	}
	if t.PartyOf(a) == models.PartyNone {
		return nil, apperror.Forbidden("not a party to %s", t.Reference)
	}
	return t, nil
}

// List returns transactions the caller takes part in. Admins see everything
// unless they filter.
func (q *TransactionQueries) List(ctx context.Context, a models.Actor, f repositories.TransactionFilter) ([]models.Transaction, error) {
	if !a.IsAdmin() {
		id := a.ID
		switch a.Role {
		case models.RoleSeller:
			f.CustomerID, f.SellerID = nil, &id
		case models.RoleCustomer:
			f.CustomerID, f.SellerID = &id, nil
		default:
			f.CustomerID, f.SellerID = &id, &id
		}
	}
	if f.Kind != nil && !f.Kind.Valid() {
		return nil, apperror.BadRequest("unknown kind %q", *f.Kind)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	list, err := q.store.Transactions().List(ctx, f)
	if err != nil {
		return nil, apperror.Internal(err, "list transactions")
	}
	return list, nil
}

// Audit returns the audit trail of a transaction, newest first.
func (q *TransactionQueries) Audit(ctx context.Context, id uuid.UUID, a models.Actor, limit, offset int) ([]models.AuditLog, error) {
	if _, err := q.Get(ctx, id, a); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	logs, err := q.store.Audit().GetByEntity(ctx, "transaction", id, limit, offset)
	if err != nil {
		return nil, apperror.Internal(err, "load audit trail")
	}
	return logs, nil
}
