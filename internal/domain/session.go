package domain

import (
	"time"
)

// Session is what a caller receives when a session is established
type Session struct {
	Token     string    `json:"token"`
	Expire    int64     `json:"expire"`
	ExpiresAt time.Time `json:"expires_at"`
}
