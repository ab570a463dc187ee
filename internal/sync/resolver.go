package sync

import (
	"errors"
	"strconv"

	"github.com/memolab/issuesync/internal/store"
)

// githubProvider is the account-provider key for linked GitHub identities.
const githubProvider = "github"

// UserResolver maps a GitHub actor to a local user.
type UserResolver struct {
	store *store.Store
}

// NewUserResolver builds a resolver over the given store.
func NewUserResolver(st *store.Store) *UserResolver {
	return &UserResolver{store: st}
}

// Resolve returns the local user id for a remote actor, or empty when nobody
// matches. Lookup order: exact username match, then linked account on
// (provider=github, provider_account_id=remoteID). There is deliberately no
// fuzzy fallback: misattributing a comment or assignment is worse than
// leaving it unattributed.
func (r *UserResolver) Resolve(login string, remoteID int64) (string, error) {
	if login == "" {
		return "", nil
	}

	user, err := r.store.GetUserByUsername(login)
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	user, err = r.store.GetUserByAccount(githubProvider, strconv.FormatInt(remoteID, 10))
	if err == nil {
		return user.ID, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return "", err
}
