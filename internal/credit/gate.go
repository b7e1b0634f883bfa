// Package credit implements the admission-control gate over account usage
// credits. Schedulers consult it once per tick; the actual decrement lives
// with result persistence in the store so charge and state change commit as
// one unit.
package credit

import (
	"github.com/rs/zerolog"
)

// Balances is the backing store surface the gate needs.
type Balances interface {
	AccountsWithCredit() (map[int64]struct{}, error)
	CreditBalance(accountID int64) (int, error)
}

// Gate answers "which accounts may consume AI resources right now".
type Gate struct {
	balances Balances
	log      zerolog.Logger
}

// NewGate creates a credit gate over the given balance store.
func NewGate(balances Balances, log zerolog.Logger) *Gate {
	return &Gate{
		balances: balances,
		log:      log.With().Str("component", "credit_gate").Logger(),
	}
}

// AccountsWithCredit returns the set of credited accounts in one aggregate
// query. Callers filter their candidate batches against this set in memory
// instead of asking per row.
func (g *Gate) AccountsWithCredit() (map[int64]struct{}, error) {
	return g.balances.AccountsWithCredit()
}

// HasCredit is the single-account check used by manual triggers.
func (g *Gate) HasCredit(accountID int64) (bool, error) {
	balance, err := g.balances.CreditBalance(accountID)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}
