package repo

import (
	"context"
	"database/sql"
	"errors"
	"subscription-checkout/internal/apperr"
	"subscription-checkout/internal/domain"

	"go.uber.org/zap"
)

type PaymentRepo interface {
	// CreatePayment inserts the row. inserted is false when the id already
	// exists. Constraint failures come back as apperr SQL codes.
	CreatePayment(ctx context.Context, payment *domain.Payment) (inserted bool, err error)
	// FindById returns nil, nil when the payment is unknown locally.
	FindById(ctx context.Context, id string) (*domain.Payment, error)
}

type paymentRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPaymentRepo(db *sql.DB, logger *zap.Logger) PaymentRepo {
	return &paymentRepo{db: db, logger: logger}
}

func (r *paymentRepo) CreatePayment(ctx context.Context, payment *domain.Payment) (bool, error) {
	query := `INSERT INTO payments (id, user_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, payment.ID, payment.UserID, payment.CreatedAt)
	if err != nil {
		return false, apperr.HandleSQLError(r.logger, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *paymentRepo) FindById(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT id, user_id, created_at FROM payments WHERE id = $1`
	var p domain.Payment
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.UserID,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
