package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/mailapi"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
)

// ErrNoSession is returned by Restore when no account has been signed in.
var ErrNoSession = errors.New("no stored session")

// AccountAPI is the part of the mailbox API used to sign in.
type AccountAPI interface {
	Domains(ctx context.Context) ([]model.Domain, error)
	CreateAccount(ctx context.Context, address, password string) (*model.Account, error)
	Token(ctx context.Context, address, password string) (*mailapi.TokenResponse, error)
	Me(ctx context.Context, token string) (*model.Account, error)
}

// Authenticator signs accounts in and keeps their secrets in the
// credential store and their records in the local store.
type Authenticator struct {
	api        AccountAPI
	store      store.Store
	secrets    credential.Store
	providerID string
	log        *slog.Logger
}

// NewAuthenticator creates an Authenticator for one provider.
func NewAuthenticator(api AccountAPI, s store.Store, secrets credential.Store, providerID string, log *slog.Logger) *Authenticator {
	return &Authenticator{
		api:        api,
		store:      s,
		secrets:    secrets,
		providerID: providerID,
		log:        logger.OrDefault(log, "auth"),
	}
}

// Login exchanges address and password for a token, stores the account
// and its secrets, and makes it the current account.
func (a *Authenticator) Login(ctx context.Context, address, password string) (model.Account, model.Credentials, error) {
	address = strings.TrimSpace(address)
	if address == "" || password == "" {
		return model.Account{}, model.Credentials{}, fmt.Errorf("address and password are required")
	}

	tok, err := a.api.Token(ctx, address, password)
	if err != nil {
		return model.Account{}, model.Credentials{}, fmt.Errorf("signing in as %s: %w", address, err)
	}

	acc, err := a.api.Me(ctx, tok.Token)
	if err != nil {
		return model.Account{}, model.Credentials{}, fmt.Errorf("loading account %s: %w", address, err)
	}
	if acc.ID == "" {
		acc.ID = tok.ID
	}
	if acc.Address == "" {
		acc.Address = address
	}
	acc.ProviderID = a.providerID

	if err := a.store.UpsertAccount(ctx, *acc); err != nil {
		return model.Account{}, model.Credentials{}, err
	}
	if err := a.secrets.Set(credential.PasswordKey(acc.ID), password); err != nil {
		return model.Account{}, model.Credentials{}, err
	}
	if err := a.secrets.Set(credential.TokenKey(acc.ID), tok.Token); err != nil {
		return model.Account{}, model.Credentials{}, err
	}
	if err := a.store.SetPreference(ctx, store.PrefCurrentAccount, acc.ID); err != nil {
		return model.Account{}, model.Credentials{}, err
	}

	a.log.Info("signed in", "account", acc.ID, "address", acc.Address)
	return *acc, model.Credentials{AccountID: acc.ID, Token: tok.Token}, nil
}

// Create registers a new mailbox and signs in to it. An empty domain
// picks the first active one offered by the provider.
func (a *Authenticator) Create(ctx context.Context, username, domain, password string) (model.Account, model.Credentials, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.Account{}, model.Credentials{}, fmt.Errorf("username and password are required")
	}

	if domain == "" {
		domains, err := a.api.Domains(ctx)
		if err != nil {
			return model.Account{}, model.Credentials{}, fmt.Errorf("listing domains: %w", err)
		}
		for _, d := range domains {
			if d.IsActive {
				domain = d.Domain
				break
			}
		}
		if domain == "" {
			return model.Account{}, model.Credentials{}, fmt.Errorf("provider %s offers no active domain", a.providerID)
		}
	}

	address := username + "@" + strings.TrimPrefix(domain, "@")
	if _, err := a.api.CreateAccount(ctx, address, password); err != nil {
		return model.Account{}, model.Credentials{}, fmt.Errorf("creating %s: %w", address, err)
	}
	return a.Login(ctx, address, password)
}

// Restore returns the current account with its stored token.
func (a *Authenticator) Restore(ctx context.Context) (model.Account, model.Credentials, error) {
	id, err := a.store.GetPreference(ctx, store.PrefCurrentAccount)
	if errors.Is(err, store.ErrNotFound) || (err == nil && id == "") {
		return model.Account{}, model.Credentials{}, ErrNoSession
	}
	if err != nil {
		return model.Account{}, model.Credentials{}, err
	}
	return a.Switch(ctx, id)
}

// Switch makes accountID the current account.
func (a *Authenticator) Switch(ctx context.Context, accountID string) (model.Account, model.Credentials, error) {
	acc, err := a.store.GetAccountByID(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Account{}, model.Credentials{}, ErrNoSession
	}
	if err != nil {
		return model.Account{}, model.Credentials{}, err
	}

	token, err := a.secrets.Get(credential.TokenKey(acc.ID))
	if errors.Is(err, credential.ErrNotFound) {
		creds, rerr := a.Reauthenticate(ctx, *acc)
		if rerr != nil {
			return model.Account{}, model.Credentials{}, ErrNoSession
		}
		token = creds.Token
	} else if err != nil {
		return model.Account{}, model.Credentials{}, err
	}

	if err := a.store.SetPreference(ctx, store.PrefCurrentAccount, acc.ID); err != nil {
		return model.Account{}, model.Credentials{}, err
	}
	return *acc, model.Credentials{AccountID: acc.ID, Token: token}, nil
}

// Reauthenticate requests a fresh token with the stored password.
func (a *Authenticator) Reauthenticate(ctx context.Context, acc model.Account) (model.Credentials, error) {
	password, err := a.secrets.Get(credential.PasswordKey(acc.ID))
	if err != nil {
		return model.Credentials{}, fmt.Errorf("no stored password for %s: %w", acc.Address, err)
	}

	tok, err := a.api.Token(ctx, acc.Address, password)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("refreshing token for %s: %w", acc.Address, err)
	}
	if err := a.secrets.Set(credential.TokenKey(acc.ID), tok.Token); err != nil {
		return model.Credentials{}, err
	}

	a.log.Info("token refreshed", "account", acc.ID)
	return model.Credentials{AccountID: acc.ID, Token: tok.Token}, nil
}

// Logout forgets the secrets of accountID and clears the current account.
// The account row and its notifications stay in the local store.
func (a *Authenticator) Logout(ctx context.Context, accountID string) error {
	if err := a.secrets.Delete(credential.TokenKey(accountID)); err != nil {
		return err
	}
	if err := a.secrets.Delete(credential.PasswordKey(accountID)); err != nil {
		return err
	}
	return a.store.SetPreference(ctx, store.PrefCurrentAccount, "")
}
