package ledger

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the ledger wraps exactly one of these,
// so callers can branch with errors.Is on the class or on the specific error.
var (
	// ErrValidation covers malformed input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers unknown wallets and transactions.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance occurs when the source wallet cannot cover amount plus fee.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrConflict covers state conflicts; the caller may retry after a delay.
	ErrConflict = errors.New("conflict")
	// ErrBlockchainTransient wraps chain node failures. Retryable.
	ErrBlockchainTransient = errors.New("blockchain temporarily unavailable")
	// ErrDecryption means the wallet's signing key could not be opened.
	ErrDecryption = errors.New("signing key decryption failed")
)

var (
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidFee        = fmt.Errorf("%w: fee must not be negative", ErrValidation)
	ErrSameWallet        = fmt.Errorf("%w: cannot transfer to same wallet", ErrValidation)
	ErrCurrencyMismatch  = fmt.Errorf("%w: currency mismatch", ErrValidation)
	ErrInvalidAddress    = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrNotSendable       = fmt.Errorf("%w: wallet has no address or signing key", ErrValidation)
	ErrUnknownNetwork    = fmt.Errorf("%w: unknown network", ErrValidation)
	ErrNetworkMismatch   = fmt.Errorf("%w: network does not carry wallet currency", ErrValidation)
	ErrInvalidWalletType = fmt.Errorf("%w: wallet type must be fiat or crypto", ErrValidation)
	// ErrChainBacked rejects ledger-only movements on a wallet whose balance
	// follows an on-chain address. Such wallets move funds with SendExternal.
	ErrChainBacked = fmt.Errorf("%w: wallet is backed by an on-chain address", ErrValidation)

	ErrWalletNotFound      = fmt.Errorf("wallet %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	ErrSendCooldown      = fmt.Errorf("%w: previous send from this wallet is still pending", ErrConflict)
	ErrDuplicateHash     = fmt.Errorf("%w: transaction hash already recorded for wallet", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrWalletNotEmpty    = fmt.Errorf("%w: wallet still holds funds or transactions", ErrConflict)
	ErrAddressInUse      = fmt.Errorf("%w: address already bound to a wallet", ErrConflict)
	ErrWalletExists      = fmt.Errorf("%w: user already holds a wallet in this currency", ErrConflict)

	// ErrSendOutcomeUnknown is returned when the broadcast call failed after the
	// payload was signed. The transaction may or may not have reached the chain.
	ErrSendOutcomeUnknown = fmt.Errorf("%w: send outcome unknown, retry later", ErrBlockchainTransient)
)
