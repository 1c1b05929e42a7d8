package domain

type User struct {
	ID   int64
	TgID int64
	Name string
}
