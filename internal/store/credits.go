package store

import (
	"database/sql"
	"time"
)

// AccountsWithCredit returns the set of account IDs with a positive balance.
// This is the single aggregate query consulted once per scheduling tick.
func (s *Store) AccountsWithCredit() (map[int64]struct{}, error) {
	rows, err := s.conn.Query(`SELECT account_id FROM account_credits WHERE balance > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accounts[id] = struct{}{}
	}
	return accounts, rows.Err()
}

// CreditBalance returns the balance for an account. Accounts without a
// credit row have balance zero.
func (s *Store) CreditBalance(accountID int64) (int, error) {
	var balance int
	err := s.conn.QueryRow(
		`SELECT balance FROM account_credits WHERE account_id = ?`, accountID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// SetCreditBalance sets an account's balance outright (replenishment path).
func (s *Store) SetCreditBalance(accountID int64, balance int, now time.Time) error {
	_, err := s.conn.Exec(
		`INSERT INTO account_credits (account_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
		accountID, balance, formatTime(now),
	)
	return err
}

// DecrementCredit atomically subtracts n from an account's balance. Returns
// false when the balance is insufficient; the balance is never driven
// negative and never clamped.
func (s *Store) DecrementCredit(accountID int64, n int, now time.Time) (bool, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ok, err := decrementTx(tx, accountID, n, now)
	if err != nil {
		return false, err
	}
	return ok, tx.Commit()
}

// decrementTx performs the conditional decrement inside an existing
// transaction. The WHERE clause is the whole concurrency story: two workers
// racing for the last credit resolve to exactly one affected row.
func decrementTx(tx *sql.Tx, accountID int64, n int, now time.Time) (bool, error) {
	result, err := tx.Exec(
		`UPDATE account_credits SET balance = balance - ?, updated_at = ?
		WHERE account_id = ? AND balance >= ?`,
		n, formatTime(now), accountID, n,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected == 1, err
}
