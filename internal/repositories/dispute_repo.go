package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketplace-escrow/backend/internal/models"
)

type DisputeRepo struct {
	db DBTX
}

func NewDisputeRepo(db DBTX) *DisputeRepo {
	return &DisputeRepo{db: db}
}

const disputeColumns = `
	id, reference, transaction_id, transaction_kind, customer_id, seller_id, seller_type,
	product_id, service_id, opened_by, reason, description, evidence,
	status, priority, messages, status_history, assigned_to, assigned_at,
	customer_responded, seller_responded, escalated, escalation_reason,
	resolution, resolution_note, refund_amount, resolved_by, resolved_at, closed_at,
	created_at, updated_at`

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(
		&d.ID, &d.Reference, &d.TransactionID, &d.TransactionKind, &d.CustomerID, &d.SellerID, &d.SellerType,
		&d.ProductID, &d.ServiceID, &d.OpenedBy, &d.Reason, &d.Description, &d.Evidence,
		&d.Status, &d.Priority, &d.Messages, &d.History, &d.AssignedTo, &d.AssignedAt,
		&d.CustomerResponded, &d.SellerResponded, &d.Escalated, &d.EscalationReason,
		&d.Resolution, &d.ResolutionNote, &d.RefundAmount, &d.ResolvedBy, &d.ResolvedAt, &d.ClosedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	if d.Evidence == nil {
		d.Evidence = []string{}
	}
	if d.Messages == nil {
		d.Messages = []models.DisputeMessage{}
	}
	if d.History == nil {
		d.History = []models.StatusEntry{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO disputes (
			reference, transaction_id, transaction_kind, customer_id, seller_id, seller_type,
			product_id, service_id, opened_by, reason, description, evidence,
			status, priority, messages, status_history, customer_responded, seller_responded
		)
		VALUES (next_reference('DP', 'dispute_ref_seq'), $1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17)
		RETURNING id, reference, created_at, updated_at
	`, d.TransactionID, d.TransactionKind, d.CustomerID, d.SellerID, d.SellerType,
		d.ProductID, d.ServiceID, d.OpenedBy, d.Reason, d.Description, d.Evidence,
		d.Status, d.Priority, d.Messages, d.History, d.CustomerResponded, d.SellerResponded,
	).Scan(&d.ID, &d.Reference, &d.CreatedAt, &d.UpdatedAt)
	return uniqueViolation(err)
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (r *DisputeRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
}

func (r *DisputeRepo) Update(ctx context.Context, d *models.Dispute) error {
	err := r.db.QueryRow(ctx, `
		UPDATE disputes SET
			status = $2, priority = $3, assigned_to = $4, assigned_at = $5,
			customer_responded = $6, seller_responded = $7,
			escalated = $8, escalation_reason = $9,
			resolution = $10, resolution_note = $11, refund_amount = $12,
			resolved_by = $13, resolved_at = $14, closed_at = $15,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, d.ID,
		d.Status, d.Priority, d.AssignedTo, d.AssignedAt,
		d.CustomerResponded, d.SellerResponded,
		d.Escalated, d.EscalationReason,
		d.Resolution, d.ResolutionNote, d.RefundAmount,
		d.ResolvedBy, d.ResolvedAt, d.ClosedAt,
	).Scan(&d.UpdatedAt)
	return notFound(err)
}

func (r *DisputeRepo) AppendMessage(ctx context.Context, id uuid.UUID, msg models.DisputeMessage) error {
	return r.appendJSON(ctx, "messages", id, msg)
}

func (r *DisputeRepo) AppendHistory(ctx context.Context, id uuid.UUID, entry models.StatusEntry) error {
	return r.appendJSON(ctx, "status_history", id, entry)
}

func (r *DisputeRepo) appendJSON(ctx context.Context, column string, id uuid.UUID, v any) error {
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE disputes SET %[1]s = %[1]s || jsonb_build_array($2::jsonb), updated_at = now()
		WHERE id = $1
	`, column), id, v)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DisputeRepo) List(ctx context.Context, f DisputeFilter) ([]models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.Priority != nil {
		where = append(where, fmt.Sprintf("priority = $%d", argIdx))
		args = append(args, *f.Priority)
		argIdx++
	}
	if f.AssignedTo != nil {
		where = append(where, fmt.Sprintf("assigned_to = $%d", argIdx))
		args = append(args, *f.AssignedTo)
		argIdx++
	}
	if f.PartyID != nil {
		where = append(where, fmt.Sprintf("(customer_id = $%d OR seller_id = $%d)", argIdx, argIdx))
		args = append(args, *f.PartyID)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
