package repo

import (
	"context"
	"database/sql"
	"errors"
	"subscription-checkout/internal/domain"
)

type ProductRepo interface {
	FindById(ctx context.Context, id int64) (*domain.Product, error)
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) FindById(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx, "SELECT id, price FROM products WHERE id = $1", id).Scan(&p.ID, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
