package models

// Identity is what the auth collaborator vouches for after verifying a token.
type Identity struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
}
