package participant

import (
	"errors"
	"time"

	"github.com/subchen/go-trylock/v2"
)

// ErrLockTimeout is returned when the account guard cannot be acquired
// within the configured bound. Callers must treat it as an abort, not
// retry.
var ErrLockTimeout = errors.New("account lock acquisition timed out")

// Account holds a single balance behind a bounded-wait guard. All
// mutations happen with the guard held; a new balance is visible to
// readers only after Release.
type Account struct {
	owner   string
	balance int64
	mu      trylock.TryLocker
}

// NewAccount ...
func NewAccount(owner string, balance int64) *Account {
	return &Account{
		owner:   owner,
		balance: balance,
		mu:      trylock.New(),
	}
}

// Acquire takes the guard, waiting up to timeout.
func (a *Account) Acquire(timeout time.Duration) error {
	if ok := a.mu.TryLockTimeout(timeout); !ok {
		return ErrLockTimeout
	}
	return nil
}

// Release gives the guard back.
func (a *Account) Release() {
	a.mu.Unlock()
}

// Debit subtracts amount. The guard must be held. It returns false and
// leaves the balance untouched when funds are insufficient.
func (a *Account) Debit(amount int64) bool {
	if a.balance < amount {
		return false
	}
	a.balance -= amount
	return true
}

// Credit adds amount. The guard must be held.
func (a *Account) Credit(amount int64) {
	a.balance += amount
}

// Balance reads the balance under a bounded read lock.
func (a *Account) Balance(timeout time.Duration) (int64, error) {
	if ok := a.mu.RTryLockTimeout(timeout); !ok {
		return 0, ErrLockTimeout
	}
	defer a.mu.RUnlock()
	return a.balance, nil
}
