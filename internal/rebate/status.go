package rebate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fidus/internal/models"
	"fidus/internal/repository"
)

var (
	ErrInvalidTransition = errors.New("rebate: invalid status transition")
	ErrNotFound          = errors.New("rebate: transaction not found")
)

var transitions = map[string][]string{
	models.RebateStatusPending:  {models.RebateStatusApproved},
	models.RebateStatusApproved: {models.RebateStatusVerified, models.RebateStatusPending},
	models.RebateStatusVerified: {models.RebateStatusPaid, models.RebateStatusApproved},
}

// CanTransition reports whether a transaction may move from one verification
// status to another. Paid is terminal.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SetStatus moves transaction id to status. Moving to paid also marks the
// payment as paid.
func (c *Calculator) SetStatus(ctx context.Context, id uint64, status string) (*models.RebateTransaction, error) {
	if c == nil || c.Repo == nil {
		return nil, ErrNotFound
	}
	status = strings.ToLower(strings.TrimSpace(status))
	tx, err := c.Repo.GetRebateTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrNotFound
	}
	if !CanTransition(tx.VerificationStatus, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.VerificationStatus, status)
	}
	update := repository.RebateStatusUpdate{
		VerificationStatus: status,
		PaymentStatus:      models.PaymentStatusUnpaid,
	}
	if status == models.RebateStatusPaid {
		paidAt := c.now()
		update.PaymentStatus = models.PaymentStatusPaid
		update.PaidAt = &paidAt
	}
	if err := c.Repo.UpdateRebateStatus(ctx, id, update); err != nil {
		return nil, err
	}
	return c.Repo.GetRebateTransactionByID(ctx, id)
}

func (c *Calculator) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
