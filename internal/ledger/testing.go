package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that overwrites an account balance when using the in-memory store.
// It bypasses the record trail, so only use it to arrange fixtures.
func SeedBalance(s Store, accountID string, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if acct, ok := mem.accounts[accountID]; ok {
			acct.Balance = amount
			mem.accounts[accountID] = acct
		}
	}
}
