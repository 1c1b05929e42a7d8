package domain

import (
	"time"
)

// Payment is the local shadow of a gateway payment. Status lives on the gateway.
type Payment struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
}
