package types

import "time"

// Loan states.
const (
	// LoanActive marks a loan whose book has not been returned yet.
	LoanActive = "active"

	// LoanReturned marks a completed loan. Returned loans are immutable.
	LoanReturned = "returned"
)

// Loan links a user and a book for a lending period.
// At most one active loan may exist per (user, book) pair. Creating a loan
// decrements the book's available copies; returning it increments them.
type Loan struct {
	// ID is the unique identifier of the loan.
	ID int `json:"id" db:"id"`

	// UserID references the borrowing user.
	UserID int `json:"user_id" db:"user_id"`

	// BookID references the borrowed book.
	BookID int `json:"book_id" db:"book_id"`

	// CreatedDate is the day the loan was created.
	CreatedDate time.Time `json:"created_date" db:"created_date"`

	// DueDate is the agreed return deadline.
	DueDate time.Time `json:"due_date" db:"due_date"`

	// ReturnDate is the day the book came back. Nil while the loan is active.
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`

	// State is LoanActive or LoanReturned.
	State string `json:"state" db:"state"`
}

// LoanHistoryEntry is a loan joined with the borrower's handle and the
// book's title for listing purposes.
type LoanHistoryEntry struct {
	ID          int        `json:"id" db:"id"`
	UserHandle  string     `json:"user_handle" db:"user_handle"`
	BookTitle   string     `json:"book_title" db:"book_title"`
	CreatedDate time.Time  `json:"created_date" db:"created_date"`
	DueDate     time.Time  `json:"due_date" db:"due_date"`
	ReturnDate  *time.Time `json:"return_date,omitempty" db:"return_date"`
	State       string     `json:"state" db:"state"`
}
