package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// viewSchema is the persisted layout of the materialized views. Everything
// in this store is derived state: it can be dropped and rebuilt from the
// event log at any time, and is never the system of record.
const viewSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	transaction_id         TEXT PRIMARY KEY,
	account                TEXT NOT NULL,
	date                   TEXT NOT NULL,
	amount                 TEXT NOT NULL,
	currency               TEXT NOT NULL,
	description            TEXT NOT NULL,
	category               TEXT NOT NULL DEFAULT '',
	subcategory            TEXT NOT NULL DEFAULT '',
	is_duplicate           INTEGER NOT NULL DEFAULT 0,
	primary_transaction_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_date ON transactions(account, date);

CREATE TABLE IF NOT EXISTS transaction_descriptions (
	transaction_id TEXT    NOT NULL,
	seq            INTEGER NOT NULL,
	description    TEXT    NOT NULL,
	PRIMARY KEY (transaction_id, seq)
);

CREATE TABLE IF NOT EXISTS transfer_links (
	low_transaction_id         TEXT NOT NULL,
	high_transaction_id        TEXT NOT NULL,
	source_transaction_id      TEXT NOT NULL,
	destination_transaction_id TEXT NOT NULL,
	source_account             TEXT NOT NULL,
	destination_account        TEXT NOT NULL,
	amount                     TEXT NOT NULL,
	currency                   TEXT NOT NULL,
	method                     TEXT NOT NULL,
	score                      REAL NOT NULL,
	fee_transaction_ids        TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (low_transaction_id, high_transaction_id)
);

CREATE TABLE IF NOT EXISTS budgets (
	category       TEXT NOT NULL,
	subcategory    TEXT NOT NULL DEFAULT '',
	effective_from TEXT NOT NULL,
	period         TEXT NOT NULL,
	amount         TEXT NOT NULL,
	currency       TEXT NOT NULL,
	PRIMARY KEY (category, subcategory, effective_from)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	name     TEXT PRIMARY KEY,
	last_seq INTEGER NOT NULL
);
`

// Projection names used as checkpoint keys.
const (
	ProjectionTransactions = "transactions"
	ProjectionBudgets      = "budgets"
)

// TransactionRow is the current state of one transaction in the projection.
// Rows are never deleted, only marked duplicate.
type TransactionRow struct {
	TransactionID string
	Account       string
	Date          date.Date
	Amount        decimal.Decimal
	Currency      string
	Description   string   // the canonical description
	Descriptions  []string // every observed variant, in observation order (loaded on demand)
	Category      string
	Subcategory   string
	IsDuplicate   bool
	// PrimaryTransactionID back-references the surviving transaction when
	// IsDuplicate is set.
	PrimaryTransactionID string
}

// Money returns the row amount as a displayable Money value.
func (r TransactionRow) Money() Money { return M(r.Amount, r.Currency) }

// BudgetRow is one budget version in the projection. Later versions
// supersede earlier ones from their effective date on; superseded rows are
// kept so historical queries remain answerable.
type BudgetRow struct {
	Category      string
	Subcategory   string
	EffectiveFrom date.Date
	Period        string
	Amount        decimal.Decimal
	Currency      string
}

// Money returns the budget amount as a displayable Money value.
func (r BudgetRow) Money() Money { return M(r.Amount, r.Currency) }

// TransferLink is the derived, symmetric relationship between two
// transactions in different accounts that represent the same movement of
// money.
type TransferLink struct {
	SourceTransactionID      string
	DestinationTransactionID string
	SourceAccount            string
	DestinationAccount       string
	Amount                   decimal.Decimal
	Currency                 string
	Method                   string
	Score                    float64
	FeeTransactionIDs        []string
}

// pair returns the ordered id pair keying the link, making its storage
// independent of which side was discovered first.
func (l TransferLink) pair() (lo, hi string) {
	if l.SourceTransactionID < l.DestinationTransactionID {
		return l.SourceTransactionID, l.DestinationTransactionID
	}
	return l.DestinationTransactionID, l.SourceTransactionID
}

// TransactionFilter selects transactions from the projection.
type TransactionFilter struct {
	Account           string    // empty matches all accounts
	From, To          date.Date // zero dates are unbounded
	Category          string    // empty matches all categories
	IncludeDuplicates bool
}

// BudgetFilter selects budget rows from the projection.
type BudgetFilter struct {
	Category string    // empty matches all categories
	Period   string    // empty matches monthly and yearly
	AsOf     date.Date // zero means today
}

// View is the sqlite-backed store of the transaction and budget
// projections, with one checkpoint per projection recording the last event
// sequence number folded in.
type View struct {
	db   *sql.DB
	path string
}

// OpenView opens (creating if necessary) the projection store at path.
func OpenView(path string) (*View, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open projection store %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cannot configure projection store %q: %w", path, err)
		}
	}
	if _, err := db.Exec(viewSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create projection schema in %q: %w", path, err)
	}
	return &View{db: db, path: path}, nil
}

// Close releases the underlying database.
func (v *View) Close() error { return v.db.Close() }

// Path returns the file backing this store.
func (v *View) Path() string { return v.path }

// Checkpoint returns the last sequence number folded into the named
// projection, 0 when the projection has never been built.
func (v *View) Checkpoint(ctx context.Context, name string) (uint64, error) {
	var seq uint64
	err := v.db.QueryRowContext(ctx, "SELECT last_seq FROM checkpoints WHERE name = ?", name).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cannot read checkpoint %q: %w", name, err)
	}
	return seq, nil
}

// Begin starts a batch of projection mutations. The batch commits
// atomically with its checkpoint advance, so a crash mid-catch-up resumes
// from the last committed batch rather than re-processing from zero.
func (v *View) Begin(ctx context.Context) (*ViewTx, error) {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot begin projection batch: %w", err)
	}
	return &ViewTx{tx: tx, ctx: ctx}, nil
}

// ViewTx is one atomic batch of projection mutations.
type ViewTx struct {
	tx  *sql.Tx
	ctx context.Context
}

func (t *ViewTx) Commit() error   { return t.tx.Commit() }
func (t *ViewTx) Rollback() error { return t.tx.Rollback() }

func (t *ViewTx) hasTransaction(id string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx, "SELECT 1 FROM transactions WHERE transaction_id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot probe transaction %q: %w", id, err)
	}
	return true, nil
}

func (t *ViewTx) insertTransaction(r TransactionRow, seq uint64) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO transactions (transaction_id, account, date, amount, currency, description, category, subcategory)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TransactionID, r.Account, r.Date.String(), r.Amount.String(), r.Currency, r.Description, r.Category, r.Subcategory)
	if err != nil {
		return fmt.Errorf("cannot insert transaction %q: %w", r.TransactionID, err)
	}
	// The first description is also the first observed variant.
	return t.recordDescription(r.TransactionID, seq, r.Description)
}

func (t *ViewTx) recordDescription(id string, seq uint64, description string) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO transaction_descriptions (transaction_id, seq, description)
		VALUES (?, ?, ?)
		ON CONFLICT (transaction_id, seq) DO UPDATE SET description = excluded.description`,
		id, seq, description)
	if err != nil {
		return fmt.Errorf("cannot record description of %q: %w", id, err)
	}
	return nil
}

func (t *ViewTx) setCanonicalDescription(id, description string) error {
	_, err := t.tx.ExecContext(t.ctx, "UPDATE transactions SET description = ? WHERE transaction_id = ?", description, id)
	if err != nil {
		return fmt.Errorf("cannot update description of %q: %w", id, err)
	}
	return nil
}

func (t *ViewTx) setCategory(id, category, subcategory string) error {
	_, err := t.tx.ExecContext(t.ctx,
		"UPDATE transactions SET category = ?, subcategory = ? WHERE transaction_id = ?", category, subcategory, id)
	if err != nil {
		return fmt.Errorf("cannot categorize %q: %w", id, err)
	}
	return nil
}

func (t *ViewTx) markDuplicate(duplicateID, primaryID string) error {
	_, err := t.tx.ExecContext(t.ctx,
		"UPDATE transactions SET is_duplicate = 1, primary_transaction_id = ? WHERE transaction_id = ?", primaryID, duplicateID)
	if err != nil {
		return fmt.Errorf("cannot mark %q duplicate of %q: %w", duplicateID, primaryID, err)
	}
	return nil
}

func (t *ViewTx) upsertLink(l TransferLink) error {
	lo, hi := l.pair()
	fees, err := json.Marshal(l.FeeTransactionIDs)
	if err != nil {
		return fmt.Errorf("cannot marshal fee ids: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO transfer_links (low_transaction_id, high_transaction_id, source_transaction_id, destination_transaction_id,
			source_account, destination_account, amount, currency, method, score, fee_transaction_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (low_transaction_id, high_transaction_id) DO UPDATE SET
			source_transaction_id = excluded.source_transaction_id,
			destination_transaction_id = excluded.destination_transaction_id,
			source_account = excluded.source_account,
			destination_account = excluded.destination_account,
			amount = excluded.amount,
			currency = excluded.currency,
			method = excluded.method,
			score = excluded.score,
			fee_transaction_ids = excluded.fee_transaction_ids`,
		lo, hi, l.SourceTransactionID, l.DestinationTransactionID,
		l.SourceAccount, l.DestinationAccount, l.Amount.String(), l.Currency, l.Method, l.Score, string(fees))
	if err != nil {
		return fmt.Errorf("cannot upsert link %s/%s: %w", lo, hi, err)
	}
	return nil
}

func (t *ViewTx) upsertBudget(r BudgetRow) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO budgets (category, subcategory, effective_from, period, amount, currency)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (category, subcategory, effective_from) DO UPDATE SET
			period = excluded.period,
			amount = excluded.amount,
			currency = excluded.currency`,
		r.Category, r.Subcategory, r.EffectiveFrom.String(), r.Period, r.Amount.String(), r.Currency)
	if err != nil {
		return fmt.Errorf("cannot upsert budget %s: %w", BudgetKey(r.Category, r.Subcategory), err)
	}
	return nil
}

func (t *ViewTx) setCheckpoint(name string, seq uint64) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO checkpoints (name, last_seq) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET last_seq = excluded.last_seq`, name, seq)
	if err != nil {
		return fmt.Errorf("cannot advance checkpoint %q: %w", name, err)
	}
	return nil
}

const transactionColumns = "transaction_id, account, date, amount, currency, description, category, subcategory, is_duplicate, primary_transaction_id"

// Transactions returns the rows matching the filter, ordered by date then
// transaction id. Duplicates are excluded unless the filter asks for them.
func (v *View) Transactions(ctx context.Context, f TransactionFilter) ([]TransactionRow, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE 1=1"
	var args []any
	if f.Account != "" {
		query += " AND account = ?"
		args = append(args, f.Account)
	}
	if !f.From.IsZero() {
		query += " AND date >= ?"
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		query += " AND date <= ?"
		args = append(args, f.To.String())
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if !f.IncludeDuplicates {
		query += " AND is_duplicate = 0"
	}
	query += " ORDER BY date, transaction_id"

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot query transactions: %w", err)
	}
	return scanTransactions(rows)
}

// GetTransaction returns one row with its full description history.
func (v *View) GetTransaction(ctx context.Context, id string) (TransactionRow, bool, error) {
	rows, err := v.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE transaction_id = ?", id)
	if err != nil {
		return TransactionRow{}, false, fmt.Errorf("cannot query transaction %q: %w", id, err)
	}
	list, err := scanTransactions(rows)
	if err != nil {
		return TransactionRow{}, false, err
	}
	if len(list) == 0 {
		return TransactionRow{}, false, nil
	}
	r := list[0]
	drows, err := v.db.QueryContext(ctx,
		"SELECT description FROM transaction_descriptions WHERE transaction_id = ? ORDER BY seq", id)
	if err != nil {
		return TransactionRow{}, false, fmt.Errorf("cannot query descriptions of %q: %w", id, err)
	}
	defer drows.Close()
	for drows.Next() {
		var d string
		if err := drows.Scan(&d); err != nil {
			return TransactionRow{}, false, fmt.Errorf("cannot scan description of %q: %w", id, err)
		}
		r.Descriptions = append(r.Descriptions, d)
	}
	if err := drows.Err(); err != nil {
		return TransactionRow{}, false, err
	}
	return r, true, nil
}

// Budgets returns the budget rows in force for the filter, one per
// (category, subcategory): the latest version whose effective date is not
// after the as-of date. Ordered by category then subcategory.
func (v *View) Budgets(ctx context.Context, f BudgetFilter) ([]BudgetRow, error) {
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = date.Today()
	}
	query := `
		SELECT b.category, b.subcategory, b.effective_from, b.period, b.amount, b.currency
		FROM budgets b
		WHERE b.effective_from = (
			SELECT MAX(o.effective_from) FROM budgets o
			WHERE o.category = b.category AND o.subcategory = b.subcategory AND o.effective_from <= ?
		)`
	args := []any{asOf.String()}
	if f.Category != "" {
		query += " AND b.category = ?"
		args = append(args, f.Category)
	}
	if f.Period != "" {
		query += " AND b.period = ?"
		args = append(args, f.Period)
	}
	query += " ORDER BY b.category, b.subcategory"

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot query budgets: %w", err)
	}
	defer rows.Close()
	var list []BudgetRow
	for rows.Next() {
		var (
			r              BudgetRow
			from, amount   string
		)
		if err := rows.Scan(&r.Category, &r.Subcategory, &from, &r.Period, &amount, &r.Currency); err != nil {
			return nil, fmt.Errorf("cannot scan budget row: %w", err)
		}
		if r.EffectiveFrom, err = date.Parse(from); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt budget amount %q: %w", amount, err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// Links returns every transfer link, ordered by the id pair.
func (v *View) Links(ctx context.Context) ([]TransferLink, error) {
	rows, err := v.db.QueryContext(ctx, `
		SELECT source_transaction_id, destination_transaction_id, source_account, destination_account,
			amount, currency, method, score, fee_transaction_ids
		FROM transfer_links ORDER BY low_transaction_id, high_transaction_id`)
	if err != nil {
		return nil, fmt.Errorf("cannot query transfer links: %w", err)
	}
	defer rows.Close()
	var list []TransferLink
	for rows.Next() {
		var (
			l            TransferLink
			amount, fees string
		)
		if err := rows.Scan(&l.SourceTransactionID, &l.DestinationTransactionID, &l.SourceAccount, &l.DestinationAccount,
			&amount, &l.Currency, &l.Method, &l.Score, &fees); err != nil {
			return nil, fmt.Errorf("cannot scan transfer link: %w", err)
		}
		if l.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt link amount %q: %w", amount, err)
		}
		if err := json.Unmarshal([]byte(fees), &l.FeeTransactionIDs); err != nil {
			return nil, fmt.Errorf("corrupt link fee ids %q: %w", fees, err)
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// LinkedIDs returns the set of transaction ids already participating in a
// transfer link.
func (v *View) LinkedIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := v.db.QueryContext(ctx,
		"SELECT low_transaction_id, high_transaction_id FROM transfer_links")
	if err != nil {
		return nil, fmt.Errorf("cannot query linked ids: %w", err)
	}
	defer rows.Close()
	linked := make(map[string]bool)
	for rows.Next() {
		var lo, hi string
		if err := rows.Scan(&lo, &hi); err != nil {
			return nil, fmt.Errorf("cannot scan linked ids: %w", err)
		}
		linked[lo] = true
		linked[hi] = true
	}
	return linked, rows.Err()
}

// CountTransactions returns the number of transaction rows, duplicates
// included.
func (v *View) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&n); err != nil {
		return 0, fmt.Errorf("cannot count transactions: %w", err)
	}
	return n, nil
}

// CountBudgets returns the number of budget rows, superseded versions
// included.
func (v *View) CountBudgets(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM budgets").Scan(&n); err != nil {
		return 0, fmt.Errorf("cannot count budgets: %w", err)
	}
	return n, nil
}

func scanTransactions(rows *sql.Rows) ([]TransactionRow, error) {
	defer rows.Close()
	var list []TransactionRow
	for rows.Next() {
		var (
			r            TransactionRow
			day, amount  string
			isDup        int
		)
		if err := rows.Scan(&r.TransactionID, &r.Account, &day, &amount, &r.Currency, &r.Description,
			&r.Category, &r.Subcategory, &isDup, &r.PrimaryTransactionID); err != nil {
			return nil, fmt.Errorf("cannot scan transaction row: %w", err)
		}
		var err error
		if r.Date, err = date.Parse(day); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt transaction amount %q: %w", amount, err)
		}
		r.IsDuplicate = isDup != 0
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot read transaction rows: %w", err)
	}
	return list, nil
}
