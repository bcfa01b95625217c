package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/biblioteca-yeak8/apiserver/types"
)

// LoanRepository handles persistence for loans. Creation and return couple
// the ledger mutation to the book's inventory count, so both run inside a
// single transaction: either the loan row and the stock change commit
// together, or neither applies.
type LoanRepository struct {
	db *sql.DB
}

func NewLoanRepository(db *sql.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// Create inserts an active loan and decrements the book's available copies.
// The book row is locked for the duration of the transaction, so two
// requests racing on the last copy resolve to exactly one created loan.
// Preconditions are re-verified under the lock and surface as ErrNotFound,
// ErrUnsupportedKind, ErrOutOfStock, or ErrDuplicateActiveLoan.
func (r *LoanRepository) Create(ctx context.Context, userID, bookID int, dueDate time.Time) (types.Loan, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Loan{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const bookQuery = `
		SELECT kind, copies_available
		FROM books
		WHERE id = $1
		FOR UPDATE`
	var kind string
	var copies int
	if err := tx.QueryRowContext(ctx, bookQuery, bookID).Scan(&kind, &copies); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Loan{}, ErrNotFound
		}
		return types.Loan{}, err
	}
	if kind == types.KindDigital {
		return types.Loan{}, ErrUnsupportedKind
	}
	if copies <= 0 {
		return types.Loan{}, ErrOutOfStock
	}

	const activeQuery = `
		SELECT EXISTS (
			SELECT 1 FROM loans
			WHERE user_id = $1 AND book_id = $2 AND state = $3
		)`
	var hasActive bool
	if err := tx.QueryRowContext(ctx, activeQuery, userID, bookID, types.LoanActive).Scan(&hasActive); err != nil {
		return types.Loan{}, err
	}
	if hasActive {
		return types.Loan{}, ErrDuplicateActiveLoan
	}

	loan := types.Loan{
		UserID:      userID,
		BookID:      bookID,
		CreatedDate: time.Now(),
		DueDate:     dueDate,
		State:       types.LoanActive,
	}

	const insertQuery = `
		INSERT INTO loans (user_id, book_id, created_date, due_date, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		loan.UserID,
		loan.BookID,
		loan.CreatedDate,
		loan.DueDate,
		loan.State,
	).Scan(&loan.ID); err != nil {
		return types.Loan{}, err
	}

	const decrementQuery = `
		UPDATE books
		SET copies_available = copies_available - 1,
			updated_at = $1
		WHERE id = $2`
	if _, err := tx.ExecContext(ctx, decrementQuery, time.Now(), bookID); err != nil {
		return types.Loan{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Loan{}, err
	}
	return loan, nil
}

// Return flips an active loan to returned and increments the book's
// available copies. The guarded UPDATE makes the operation idempotent in
// effect: a loan that is absent or already returned yields ErrNotFound and
// the stock is touched at most once per loan.
func (r *LoanRepository) Return(ctx context.Context, loanID int) (types.Loan, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Loan{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	returnedAt := time.Now()
	loan := types.Loan{
		ID:         loanID,
		State:      types.LoanReturned,
		ReturnDate: &returnedAt,
	}

	const returnQuery = `
		UPDATE loans
		SET state = $1, return_date = $2
		WHERE id = $3 AND state = $4
		RETURNING user_id, book_id, created_date, due_date`
	err = tx.QueryRowContext(ctx, returnQuery, types.LoanReturned, returnedAt, loanID, types.LoanActive).Scan(
		&loan.UserID,
		&loan.BookID,
		&loan.CreatedDate,
		&loan.DueDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Loan{}, ErrNotFound
		}
		return types.Loan{}, err
	}

	const incrementQuery = `
		UPDATE books
		SET copies_available = copies_available + 1,
			updated_at = $1
		WHERE id = $2`
	if _, err := tx.ExecContext(ctx, incrementQuery, returnedAt, loan.BookID); err != nil {
		return types.Loan{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Loan{}, err
	}
	return loan, nil
}

// HasActiveLoan reports whether the user currently holds an active loan for
// the book.
func (r *LoanRepository) HasActiveLoan(ctx context.Context, userID, bookID int) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM loans
			WHERE user_id = $1 AND book_id = $2 AND state = $3
		)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, bookID, types.LoanActive).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// History lists all loans joined with borrower handle and book title,
// newest first.
func (r *LoanRepository) History(ctx context.Context) ([]types.LoanHistoryEntry, error) {
	const query = `
		SELECT l.id, u.handle, b.title, l.created_date, l.due_date, l.return_date, l.state
		FROM loans l
		JOIN users u ON l.user_id = u.id
		JOIN books b ON l.book_id = b.id
		ORDER BY l.created_date DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.LoanHistoryEntry
	for rows.Next() {
		var entry types.LoanHistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.UserHandle,
			&entry.BookTitle,
			&entry.CreatedDate,
			&entry.DueDate,
			&entry.ReturnDate,
			&entry.State,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
