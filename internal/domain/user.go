package domain

import "time"

// User оператор из реестра users_list.
type User struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"firstname"`
	LastName     string    `json:"lastname"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Никогда не отдаем наружу
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}
