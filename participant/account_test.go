package participant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccountDebitCredit(t *testing.T) {
	a := NewAccount("alice", 1000)

	assert.NoError(t, a.Acquire(time.Second))
	assert.True(t, a.Debit(300), "debit within balance should succeed")
	a.Credit(50)
	a.Release()

	balance, err := a.Balance(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, int64(750), balance)
}

func TestAccountInsufficientFunds(t *testing.T) {
	a := NewAccount("alice", 100)

	assert.NoError(t, a.Acquire(time.Second))
	assert.False(t, a.Debit(101), "debit beyond balance must fail")
	a.Release()

	balance, err := a.Balance(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), balance, "failed debit must not mutate the balance")
}

func TestAccountLockTimeout(t *testing.T) {
	a := NewAccount("alice", 100)

	assert.NoError(t, a.Acquire(time.Second))
	defer a.Release()

	err := a.Acquire(10 * time.Millisecond)
	assert.Equal(t, ErrLockTimeout, err)

	_, err = a.Balance(10 * time.Millisecond)
	assert.Equal(t, ErrLockTimeout, err, "reads are blocked while the guard is held")
}
