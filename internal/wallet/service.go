package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/chain"
	"github.com/congo-pay/custody-gateway/internal/ledger"
)

// Vault seals raw signing keys into storable references.
type Vault interface {
	Encrypt(raw string) (string, error)
}

var (
	errAddressOnFiat = fmt.Errorf("%w: fiat wallets cannot be bound to an address", ledger.ErrValidation)
	errKeyNoAddress  = fmt.Errorf("%w: a private key needs an address", ledger.ErrValidation)
)

// Service manages wallet records and their chain binding.
type Service struct {
	store       ledger.Store
	chains      ledger.Chains
	vault       Vault
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewService builds a wallet service. chains and vault may be nil when only
// fiat wallets are served.
func NewService(store ledger.Store, chains ledger.Chains, vault Vault, logger *slog.Logger, callTimeout time.Duration) *Service {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Service{
		store:       store,
		chains:      chains,
		vault:       vault,
		logger:      logger.With("component", "wallet"),
		callTimeout: callTimeout,
	}
}

// CreateInput captures data required to create or import a wallet.
type CreateInput struct {
	UserID   string `valid:"required,printableascii,stringlength(1|128)"`
	Currency string `valid:"required,alphanum,stringlength(2|10)"`
	// Type defaults to crypto when an address is given, fiat otherwise.
	Type       ledger.WalletType `valid:"-"`
	Address    string            `valid:"-"`
	PrivateKey string            `valid:"-"`
}

// Create provisions a wallet. A user holds at most one wallet per currency.
// Crypto wallets created without an address get a freshly generated account
// whose key is sealed by the vault. Imported addresses start from their chain
// balance, recorded as an opening deposit.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Wallet, error) {
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	input.Address = strings.TrimSpace(input.Address)
	if _, err := govalidator.ValidateStruct(input); err != nil {
		return ledger.Wallet{}, fmt.Errorf("%w: %s", ledger.ErrValidation, err)
	}
	if input.Type == "" {
		input.Type = ledger.WalletTypeFiat
		if input.Address != "" {
			input.Type = ledger.WalletTypeCrypto
		}
	}
	if !input.Type.Valid() {
		return ledger.Wallet{}, ledger.ErrInvalidWalletType
	}
	if input.Type == ledger.WalletTypeFiat && input.Address != "" {
		return ledger.Wallet{}, errAddressOnFiat
	}
	if input.PrivateKey != "" && input.Address == "" {
		return ledger.Wallet{}, errKeyNoAddress
	}

	existing, err := s.store.ListUserWallets(ctx, input.UserID)
	if err != nil {
		return ledger.Wallet{}, fmt.Errorf("list wallets: %w", err)
	}
	for _, other := range existing {
		if other.CurrencyCode == input.Currency {
			return ledger.Wallet{}, fmt.Errorf("%w: %s wallet for %s", ledger.ErrWalletExists, input.Currency, input.UserID)
		}
	}

	now := time.Now().UTC()
	w := ledger.Wallet{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		CurrencyCode: input.Currency,
		Type:         input.Type,
		Balance:      decimal.Zero,
		Address:      input.Address,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var (
		opening decimal.Decimal
		network chain.Network
	)
	if w.Type == ledger.WalletTypeCrypto {
		gw, n, err := s.gateway(w.CurrencyCode)
		if err != nil {
			return ledger.Wallet{}, err
		}
		network = n
		if w.Address == "" {
			account, err := gw.NewAccount(ctx)
			if err != nil {
				return ledger.Wallet{}, fmt.Errorf("%w: generate account: %w", ledger.ErrBlockchainTransient, err)
			}
			w.Address = account.Address
			input.PrivateKey = account.PrivateKey
		}
		if !gw.IsValidAddress(w.Address) {
			return ledger.Wallet{}, fmt.Errorf("%w: %s", ledger.ErrInvalidAddress, w.Address)
		}
		if input.PrivateKey != "" {
			if s.vault == nil {
				return ledger.Wallet{}, fmt.Errorf("%w: no key vault configured", ledger.ErrDecryption)
			}
			ref, err := s.vault.Encrypt(input.PrivateKey)
			if err != nil {
				return ledger.Wallet{}, fmt.Errorf("seal signing key: %w", err)
			}
			w.SigningKeyRef = ref
		}
		opening, err = s.chainBalance(ctx, gw, w.Address)
		if err != nil {
			return ledger.Wallet{}, err
		}
	}

	if err := s.store.CreateWallet(ctx, w); err != nil {
		return ledger.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	s.logger.Info("wallet created", "wallet_id", w.ID, "user_id", w.UserID, "currency", w.CurrencyCode, "type", w.Type, "address", w.Address)

	if opening.IsPositive() {
		err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
			at := time.Now().UTC()
			if err := tx.InsertTransaction(ctx, ledger.Transaction{
				ID:          uuid.NewString(),
				WalletID:    w.ID,
				Type:        ledger.TypeDeposit,
				Direction:   ledger.DirectionIn,
				Amount:      opening,
				Fee:         decimal.Zero,
				Status:      ledger.StatusCompleted,
				Network:     network.Name,
				Description: fmt.Sprintf("Opening balance on %s", network.Name),
				CreatedAt:   at,
				CompletedAt: &at,
			}); err != nil {
				return err
			}
			return tx.SetBalance(ctx, w.ID, opening, at)
		})
		if err != nil {
			// The monitor picks the balance up as a detected deposit.
			s.logger.Warn("opening balance not recorded", "wallet_id", w.ID, "error", err)
		} else {
			w.Balance = opening
		}
	}
	return w, nil
}

// Get retrieves a wallet.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return s.store.GetWallet(ctx, id)
}

// ListByUser returns every wallet a user owns, oldest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]ledger.Wallet, error) {
	return s.store.ListUserWallets(ctx, userID)
}

// LiveBalance returns the ledger balance and, for addressed wallets, the
// balance the chain reports right now.
func (s *Service) LiveBalance(ctx context.Context, id string) (Balance, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	out := Balance{WalletID: w.ID, Currency: w.CurrencyCode, Ledger: w.Balance, AsOf: time.Now().UTC()}
	if w.Address == "" {
		return out, nil
	}
	gw, network, err := s.gateway(w.CurrencyCode)
	if err != nil {
		return Balance{}, err
	}
	onChain, err := s.chainBalance(ctx, gw, w.Address)
	if err != nil {
		return Balance{}, err
	}
	out.Chain = &onChain
	out.Network = network.Name
	return out, nil
}

// Sync overwrites the cached balance with the chain balance. Refused while a
// send is unsettled, since the cached balance then holds a provisional debit.
func (s *Service) Sync(ctx context.Context, id string) (ledger.Wallet, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if w.Address == "" {
		return ledger.Wallet{}, fmt.Errorf("%w: wallet has no address", ledger.ErrValidation)
	}
	gw, _, err := s.gateway(w.CurrencyCode)
	if err != nil {
		return ledger.Wallet{}, err
	}
	onChain, err := s.chainBalance(ctx, gw, w.Address)
	if err != nil {
		return ledger.Wallet{}, err
	}

	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		locked, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		busy, err := tx.HasOutstandingSend(ctx, id)
		if err != nil {
			return err
		}
		if busy {
			return ledger.ErrSendCooldown
		}
		if locked.Balance.Equal(onChain) {
			w = locked
			return nil
		}
		at := time.Now().UTC()
		if err := tx.SetBalance(ctx, id, onChain, at); err != nil {
			return err
		}
		w = locked
		w.Balance, w.UpdatedAt = onChain, at
		return nil
	})
	if err != nil {
		return ledger.Wallet{}, fmt.Errorf("sync wallet: %w", err)
	}
	s.logger.Info("wallet synced", "wallet_id", id, "balance", onChain.String())
	return w, nil
}

// Delete removes an empty wallet without history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteWallet(ctx, id); err != nil {
		return err
	}
	s.logger.Info("wallet deleted", "wallet_id", id)
	return nil
}

func (s *Service) gateway(currency string) (chain.Gateway, chain.Network, error) {
	if s.chains == nil {
		return nil, chain.Network{}, fmt.Errorf("%w: no chains configured", ledger.ErrUnknownNetwork)
	}
	gw, n, err := s.chains.ForCurrency(currency)
	if err != nil {
		return nil, chain.Network{}, fmt.Errorf("%w: %w", ledger.ErrUnknownNetwork, err)
	}
	return gw, n, nil
}

func (s *Service) chainBalance(ctx context.Context, gw chain.Gateway, address string) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	amount, err := gw.Balance(callCtx, address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: chain balance: %w", ledger.ErrBlockchainTransient, err)
	}
	return amount, nil
}
