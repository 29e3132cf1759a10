package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	walletColumns      = "id, user_id, currency_code, wallet_type, balance, address, signing_key_ref, created_at, updated_at"
	transactionColumns = "id, wallet_id, type, direction, amount, fee, status, tx_hash, network, description, reference_id, created_at, completed_at"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists wallets and transactions in PostgreSQL. Units of work
// lock wallet and transaction rows with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateWallet inserts a wallet row.
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.UserID, w.CurrencyCode, string(w.Type), w.Balance,
		nullString(w.Address), nullString(w.SigningKeyRef), w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return mapWriteError(err)
}

// GetWallet fetches a wallet by id.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	return getWallet(ctx, s.db, id, false)
}

// ListUserWallets returns a user's wallets, oldest first.
func (s *PostgresStore) ListUserWallets(ctx context.Context, userID string) ([]Wallet, error) {
	return s.queryWallets(ctx, psql.Select(walletColumns).From("wallets").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at", "id"))
}

// ListAddressedWallets returns every wallet with an on-chain address.
func (s *PostgresStore) ListAddressedWallets(ctx context.Context) ([]Wallet, error) {
	return s.queryWallets(ctx, psql.Select(walletColumns).From("wallets").
		Where(sq.NotEq{"address": nil}).
		OrderBy("created_at", "id"))
}

// DeleteWallet removes an empty wallet that no transaction references.
func (s *PostgresStore) DeleteWallet(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx Tx) error {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		if !w.Balance.IsZero() {
			return ErrWalletNotEmpty
		}
		pt := tx.(*pgTx)
		var referenced bool
		if err := pt.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE wallet_id = $1)`, id).Scan(&referenced); err != nil {
			return err
		}
		if referenced {
			return ErrWalletNotEmpty
		}
		_, err = pt.tx.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
		return err
	})
}

// GetTransaction fetches a transaction by id.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	return getTransaction(ctx, s.db, id, false)
}

// ListWalletTransactions pages through a wallet's transactions, newest first.
func (s *PostgresStore) ListWalletTransactions(ctx context.Context, walletID string, page Page) ([]Transaction, error) {
	page = page.normalize()
	return s.queryTransactions(ctx, psql.Select(transactionColumns).From("transactions").
		Where(sq.Eq{"wallet_id": walletID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset)))
}

// ListUserTransactions pages through all transactions of a user's wallets.
func (s *PostgresStore) ListUserTransactions(ctx context.Context, userID string, page Page) ([]Transaction, error) {
	page = page.normalize()
	return s.queryTransactions(ctx, psql.Select(prefixed("t.", transactionColumns)).From("transactions t").
		Join("wallets w ON w.id = t.wallet_id").
		Where(sq.Eq{"w.user_id": userID}).
		OrderBy("t.created_at DESC", "t.id DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset)))
}

// ListOutstanding returns pending or processing transactions that carry a hash.
func (s *PostgresStore) ListOutstanding(ctx context.Context) ([]Transaction, error) {
	return s.queryTransactions(ctx, psql.Select(transactionColumns).From("transactions").
		Where(sq.Eq{"status": []string{string(StatusPending), string(StatusProcessing)}}).
		Where(sq.NotEq{"tx_hash": nil}).
		OrderBy("created_at", "id"))
}

// HasOutstandingSend reports whether the wallet has an unsettled on-chain send.
func (s *PostgresStore) HasOutstandingSend(ctx context.Context, walletID string) (bool, error) {
	return hasOutstandingSend(ctx, s.db, walletID)
}

// WithTx runs fn inside a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) queryWallets(ctx context.Context, q sq.SelectBuilder) ([]Wallet, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) queryTransactions(ctx context.Context, q sq.SelectBuilder) ([]Transaction, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, id string) (Wallet, error) {
	return getWallet(ctx, t.tx, id, true)
}

func (t *pgTx) SetBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`, walletID, balance, at.UTC())
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) SetSigningKeyRef(ctx context.Context, walletID, ref string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET signing_key_ref = $2, updated_at = $3 WHERE id = $1`, walletID, nullString(ref), at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tr.ID, tr.WalletID, string(tr.Type), string(tr.Direction), tr.Amount, tr.Fee, string(tr.Status),
		nullString(tr.TxHash), nullString(tr.Network), tr.Description, nullString(tr.ReferenceID),
		tr.CreatedAt.UTC(), tr.CompletedAt)
	return mapWriteError(err)
}

func (t *pgTx) LockTransaction(ctx context.Context, id string) (Transaction, error) {
	return getTransaction(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, tr Transaction) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transactions SET status = $2, tx_hash = $3, completed_at = $4 WHERE id = $1`,
		tr.ID, string(tr.Status), nullString(tr.TxHash), tr.CompletedAt)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (t *pgTx) HasOutstandingSend(ctx context.Context, walletID string) (bool, error) {
	return hasOutstandingSend(ctx, t.tx, walletID)
}

func (t *pgTx) Totals(ctx context.Context, walletID string) (Totals, error) {
	query, args, err := totalsQuery(walletID).ToSql()
	if err != nil {
		return Totals{}, err
	}
	var totals Totals
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&totals.Deposits, &totals.Withdrawals); err != nil {
		return Totals{}, err
	}
	return totals, nil
}

// totalsQuery sums completed deposits and completed withdrawals plus their
// fees. Transfer legs never touch a chain-backed wallet and are left out.
func totalsQuery(walletID string) sq.SelectBuilder {
	return psql.Select(
		fmt.Sprintf("COALESCE(SUM(amount) FILTER (WHERE type = '%s'), 0)", TypeDeposit),
		fmt.Sprintf("COALESCE(SUM(amount + fee) FILTER (WHERE type = '%s'), 0)", TypeWithdrawal),
	).From("transactions").
		Where(sq.Eq{"wallet_id": walletID}).
		Where(sq.Eq{"status": string(StatusCompleted)})
}

type scanner interface {
	Scan(dest ...any) error
}

func getWallet(ctx context.Context, q querier, id string, forUpdate bool) (Wallet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	w, err := scanWallet(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func getTransaction(ctx context.Context, q querier, id string, forUpdate bool) (Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func hasOutstandingSend(ctx context.Context, q querier, walletID string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM transactions
            WHERE wallet_id = $1 AND tx_hash IS NOT NULL AND status IN ('pending', 'processing')
        )`
	var exists bool
	if err := q.QueryRow(ctx, query, walletID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func scanWallet(row scanner) (Wallet, error) {
	var (
		w                    Wallet
		id                   uuid.UUID
		walletType           string
		address, keyRef      *string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &w.UserID, &w.CurrencyCode, &walletType, &w.Balance, &address, &keyRef, &createdAt, &updatedAt); err != nil {
		return Wallet{}, err
	}
	w.ID = id.String()
	w.Type = WalletType(walletType)
	w.Address = deref(address)
	w.SigningKeyRef = deref(keyRef)
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t                         Transaction
		id, walletID              uuid.UUID
		txType, direction, status string
		hash, network, reference  *string
		createdAt                 time.Time
		completedAt               *time.Time
	)
	if err := row.Scan(&id, &walletID, &txType, &direction, &t.Amount, &t.Fee, &status,
		&hash, &network, &t.Description, &reference, &createdAt, &completedAt); err != nil {
		return Transaction{}, err
	}
	t.ID = id.String()
	t.WalletID = walletID.String()
	t.Type = TransactionType(txType)
	t.Direction = Direction(direction)
	t.Status = Status(status)
	t.TxHash = deref(hash)
	t.Network = deref(network)
	t.ReferenceID = deref(reference)
	t.CreatedAt = createdAt.UTC()
	if completedAt != nil {
		utc := completedAt.UTC()
		t.CompletedAt = &utc
	}
	return t, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case "transactions_wallet_tx_hash_key":
			return ErrDuplicateHash
		case "wallets_address_key":
			return ErrAddressInUse
		case "wallets_user_currency_key":
			return ErrWalletExists
		}
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	case pgCheckViolation:
		if pgErr.ConstraintName == "wallets_balance_non_negative" {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
	}
	return err
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
