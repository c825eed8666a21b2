package mailapi

// PageSize is the fixed number of messages the list endpoint returns.
const PageSize = 30

// collection is a Hydra (API Platform) collection envelope.
type collection[T any] struct {
	Member     []T `json:"hydra:member"`
	TotalItems int `json:"hydra:totalItems"`
}

// credentialsRequest is the body for POST /accounts and POST /token.
type credentialsRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /token.
type TokenResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type seenPatch struct {
	Seen bool `json:"seen"`
}
