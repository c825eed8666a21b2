package model

import "time"

// Account is a temporary mailbox account on a provider.
type Account struct {
	ID         string    `json:"id" db:"id"`
	Address    string    `json:"address" db:"address"`
	Quota      int64     `json:"quota" db:"quota"`
	Used       int64     `json:"used" db:"used"`
	IsDisabled bool      `json:"isDisabled" db:"is_disabled"`
	IsDeleted  bool      `json:"isDeleted" db:"is_deleted"`
	ProviderID string    `json:"providerId,omitempty" db:"provider_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// Domain is a receiving domain offered by a provider.
type Domain struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	IsActive  bool   `json:"isActive"`
	IsPrivate bool   `json:"isPrivate"`
}

// Credentials identify the account the sync core works against. Any
// change to either field is an account switch.
type Credentials struct {
	AccountID string
	Token     string
}

// Valid reports whether both the account id and the token are set.
func (c Credentials) Valid() bool {
	return c.AccountID != "" && c.Token != ""
}

// Key returns a comparable identity for the pair.
func (c Credentials) Key() string {
	return c.AccountID + "\x00" + c.Token
}
