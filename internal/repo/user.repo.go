package repo

import (
	"context"
	"database/sql"
	"errors"
	"subscription-checkout/internal/domain"
)

type UserRepo interface {
	FindById(ctx context.Context, id int64) (*domain.User, error)
}

type userRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

func (r *userRepo) FindById(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx, "SELECT id, tg_id, name FROM users WHERE id = $1", id).Scan(
		&u.ID,
		&u.TgID,
		&u.Name,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
