// Package pwdauth verifies username and password credentials for resource
// owners. Accounts are looked up through an AccountFinder so applications can
// back them with their own user model.
package pwdauth

import (
	"context"
	"sync"

	"github.com/dpup/authorizer/errors"
	"google.golang.org/grpc/codes"
)

var (
	// ErrAccountNotFound is returned by an AccountFinder for unknown usernames.
	ErrAccountNotFound = errors.NewC("account not found", codes.NotFound)

	// ErrInvalidCredentials is returned by Authenticate for an unknown username
	// or a wrong password. Callers can not tell the two cases apart.
	ErrInvalidCredentials = errors.NewC("invalid credentials", codes.Unauthenticated).
		WithPublicMessage("invalid username or password")
)

// AccountFinder looks up an account by username.
type AccountFinder interface {
	FindAccount(ctx context.Context, username string) (*Account, error)
}

// Account contains the minimal information needed to authenticate a resource
// owner.
type Account struct {
	ID             string `koanf:"id"`
	Username       string `koanf:"username"`
	HashedPassword string `koanf:"hashedPassword"`
}

// Authenticate finds the account for username and verifies password against
// its hash. Lookup failures other than ErrAccountNotFound are returned as is.
func Authenticate(ctx context.Context, finder AccountFinder, hasher Hasher, username, password string) (*Account, error) {
	if username == "" || password == "" {
		return nil, errors.Mark(ErrInvalidCredentials, 0)
	}

	account, err := finder.FindAccount(ctx, username)
	if errors.Is(err, ErrAccountNotFound) {
		// Spend the same time as a real comparison.
		_ = hasher.Compare(dummyHash(hasher), []byte(password))
		return nil, errors.Mark(ErrInvalidCredentials, 0)
	} else if err != nil {
		return nil, err
	}

	if err := hasher.Compare([]byte(account.HashedPassword), []byte(password)); err != nil {
		return nil, errors.Mark(ErrInvalidCredentials, 0)
	}
	return account, nil
}

var (
	dummyHashes   = map[Hasher][]byte{}
	dummyHashesMu sync.Mutex
)

func dummyHash(h Hasher) []byte {
	dummyHashesMu.Lock()
	defer dummyHashesMu.Unlock()
	if b, ok := dummyHashes[h]; ok {
		return b
	}
	b, _ := h.Generate([]byte("not-a-real-password"))
	dummyHashes[h] = b
	return b
}

// StaticAccounts is an AccountFinder over a fixed set of accounts, typically
// loaded from configuration.
type StaticAccounts map[string]Account

// NewStaticAccounts indexes accounts by username.
func NewStaticAccounts(accounts ...Account) StaticAccounts {
	s := StaticAccounts{}
	for _, a := range accounts {
		s[a.Username] = a
	}
	return s
}

// FindAccount implements AccountFinder.
func (s StaticAccounts) FindAccount(_ context.Context, username string) (*Account, error) {
	a, ok := s[username]
	if !ok {
		return nil, errors.Mark(ErrAccountNotFound, 0).Append(username)
	}
	return &a, nil
}
