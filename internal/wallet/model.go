package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance compares the cached ledger balance with the live chain balance.
type Balance struct {
	WalletID string
	Currency string
	Ledger   decimal.Decimal
	// Chain is nil for wallets without an address.
	Chain   *decimal.Decimal
	Network string
	AsOf    time.Time
}

// Drift is chain minus ledger, zero when there is no chain balance.
func (b Balance) Drift() decimal.Decimal {
	if b.Chain == nil {
		return decimal.Zero
	}
	return b.Chain.Sub(b.Ledger)
}
