// Package user defines the User domain entity.
package user

import "time"

// User is a platform account with a credit balance.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Credits        float64   `json:"credits"`
	CreditsEnabled bool      `json:"credits_enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
