package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
)

// LoanRepository defines persistence operations for loans.
type LoanRepository interface {
	Create(ctx context.Context, userID, bookID int, dueDate time.Time) (types.Loan, error)
	Return(ctx context.Context, loanID int) (types.Loan, error)
	HasActiveLoan(ctx context.Context, userID, bookID int) (bool, error)
	History(ctx context.Context) ([]types.LoanHistoryEntry, error)
}

// EventPublisher publishes loan lifecycle events to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	ID   int
	Role string
}

const loanEventsChannel = "loan-events"

// LoanService encapsulates loan use-cases. It performs the caller-facing
// precondition checks; the repository re-verifies them inside the loan
// transaction, so races still resolve consistently.
type LoanService struct {
	users  UserRepository
	books  BookRepository
	loans  LoanRepository
	events EventPublisher
}

func NewLoanService(users UserRepository, books BookRepository, loans LoanRepository, events EventPublisher) *LoanService {
	return &LoanService{
		users:  users,
		books:  books,
		loans:  loans,
		events: events,
	}
}

// Create registers a loan of the book for the user identified by handle.
// Students may only borrow for themselves.
func (s *LoanService) Create(ctx context.Context, handle string, bookID int, dueDate time.Time, actor Actor) (types.Loan, error) {
	user, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return types.Loan{}, err
	}

	if actor.Role == types.RoleStudent && actor.ID != user.ID {
		return types.Loan{}, ErrForbidden
	}

	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return types.Loan{}, err
	}
	if book.Kind == types.KindDigital {
		return types.Loan{}, store.ErrUnsupportedKind
	}
	if book.CopiesAvailable <= 0 {
		return types.Loan{}, store.ErrOutOfStock
	}

	hasActive, err := s.loans.HasActiveLoan(ctx, user.ID, bookID)
	if err != nil {
		return types.Loan{}, err
	}
	if hasActive {
		return types.Loan{}, store.ErrDuplicateActiveLoan
	}

	loan, err := s.loans.Create(ctx, user.ID, bookID, dueDate)
	if err != nil {
		return types.Loan{}, err
	}

	s.publishEvent(ctx, "loan.created", loan)
	return loan, nil
}

// Return marks the loan as returned and restores the book's stock. A loan
// that is absent or already returned yields store.ErrNotFound.
func (s *LoanService) Return(ctx context.Context, loanID int) (types.Loan, error) {
	loan, err := s.loans.Return(ctx, loanID)
	if err != nil {
		return types.Loan{}, err
	}

	s.publishEvent(ctx, "loan.returned", loan)
	return loan, nil
}

// History lists all loans, newest first.
func (s *LoanService) History(ctx context.Context) ([]types.LoanHistoryEntry, error) {
	return s.loans.History(ctx)
}

// publishEvent emits a loan lifecycle event. Publication is best effort:
// the loan has already committed, so a broker outage must not fail the request.
func (s *LoanService) publishEvent(ctx context.Context, event string, loan types.Loan) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(loan)
	if err != nil {
		return
	}
	_, _ = s.events.Publish(ctx, loanEventsChannel, payload, map[string]string{
		"event":   event,
		"loan_id": strconv.Itoa(loan.ID),
	})
}
