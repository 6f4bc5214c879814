package model

import "time"

// User stores the registration profile of a Telegram user.
type User struct {
	Name       string
	Phone      string
	Department string
	Floor      string
	TelegramID int64
	Username   string
	CreatedAt  time.Time
}
