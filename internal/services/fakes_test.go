package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
)

// In-memory repositories mirroring the store contracts, including the
// sentinel errors the SQL implementations return.

type fakeUserRepo struct {
	nextID int
	users  map[int]*types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: map[int]*types.User{}}
}

func (r *fakeUserRepo) add(user types.User) types.User {
	user.ID = r.nextID
	r.nextID++
	copied := user
	r.users[user.ID] = &copied
	return user
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	if user, ok := r.users[id]; ok {
		return *user, nil
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByHandle(ctx context.Context, handle string) (types.User, error) {
	for _, user := range r.users {
		if user.Handle == handle {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByHandleOrContact(ctx context.Context, identifier string) (types.User, error) {
	for _, user := range r.users {
		if user.Handle == identifier || user.Contact == identifier {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) ListByRole(ctx context.Context, role string) ([]types.User, error) {
	var users []types.User
	for _, user := range r.users {
		if user.Role == role {
			users = append(users, *user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Handle < users[j].Handle })
	return users, nil
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	return r.add(user), nil
}

func (r *fakeUserRepo) UpdateLoginState(
	ctx context.Context,
	handle string,
	apply func(types.User) (types.User, error),
) (types.User, error) {
	for _, user := range r.users {
		if user.Handle != handle {
			continue
		}
		updated, err := apply(*user)
		if err != nil {
			return types.User{}, err
		}
		user.PasswordHash = updated.PasswordHash
		user.FailedAttempts = updated.FailedAttempts
		user.LockoutUntil = updated.LockoutUntil
		user.TempPasswordExpiry = updated.TempPasswordExpiry
		return *user, nil
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) SetTemporaryPassword(ctx context.Context, userID int, hash string, expiresAt time.Time) error {
	user, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	expiry := expiresAt
	user.PasswordHash = hash
	user.TempPasswordExpiry = &expiry
	user.FailedAttempts = 0
	user.LockoutUntil = nil
	return nil
}

type fakeBookRepo struct {
	nextID int
	books  map[int]*types.Book
}

func newFakeBookRepo() *fakeBookRepo {
	return &fakeBookRepo{nextID: 1, books: map[int]*types.Book{}}
}

func (r *fakeBookRepo) add(book types.Book) types.Book {
	book.ID = r.nextID
	r.nextID++
	copied := book
	r.books[book.ID] = &copied
	return book
}

func (r *fakeBookRepo) List(ctx context.Context) ([]types.Book, error) {
	var books []types.Book
	for _, book := range r.books {
		books = append(books, *book)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, nil
}

func (r *fakeBookRepo) Get(ctx context.Context, id int) (types.Book, error) {
	if book, ok := r.books[id]; ok {
		return *book, nil
	}
	return types.Book{}, store.ErrNotFound
}

func (r *fakeBookRepo) ExistsByTitleAuthor(ctx context.Context, title, author string) (bool, error) {
	for _, book := range r.books {
		if book.Title == title && book.Author == author {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeBookRepo) Create(ctx context.Context, book types.Book) (types.Book, error) {
	return r.add(book), nil
}

type fakeLoanRepo struct {
	nextID int
	loans  map[int]*types.Loan
	users  *fakeUserRepo
	books  *fakeBookRepo
}

func newFakeLoanRepo(users *fakeUserRepo, books *fakeBookRepo) *fakeLoanRepo {
	return &fakeLoanRepo{nextID: 1, loans: map[int]*types.Loan{}, users: users, books: books}
}

// Create mirrors the transactional guards of the SQL repository.
func (r *fakeLoanRepo) Create(ctx context.Context, userID, bookID int, dueDate time.Time) (types.Loan, error) {
	book, ok := r.books.books[bookID]
	if !ok {
		return types.Loan{}, store.ErrNotFound
	}
	if book.Kind == types.KindDigital {
		return types.Loan{}, store.ErrUnsupportedKind
	}
	if book.CopiesAvailable <= 0 {
		return types.Loan{}, store.ErrOutOfStock
	}
	if active, _ := r.HasActiveLoan(ctx, userID, bookID); active {
		return types.Loan{}, store.ErrDuplicateActiveLoan
	}

	loan := types.Loan{
		ID:          r.nextID,
		UserID:      userID,
		BookID:      bookID,
		CreatedDate: time.Now(),
		DueDate:     dueDate,
		State:       types.LoanActive,
	}
	r.nextID++
	copied := loan
	r.loans[loan.ID] = &copied
	book.CopiesAvailable--
	return loan, nil
}

func (r *fakeLoanRepo) Return(ctx context.Context, loanID int) (types.Loan, error) {
	loan, ok := r.loans[loanID]
	if !ok || loan.State != types.LoanActive {
		return types.Loan{}, store.ErrNotFound
	}
	returnedAt := time.Now()
	loan.State = types.LoanReturned
	loan.ReturnDate = &returnedAt
	if book, ok := r.books.books[loan.BookID]; ok {
		book.CopiesAvailable++
	}
	return *loan, nil
}

func (r *fakeLoanRepo) HasActiveLoan(ctx context.Context, userID, bookID int) (bool, error) {
	for _, loan := range r.loans {
		if loan.UserID == userID && loan.BookID == bookID && loan.State == types.LoanActive {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeLoanRepo) History(ctx context.Context) ([]types.LoanHistoryEntry, error) {
	var entries []types.LoanHistoryEntry
	for _, loan := range r.loans {
		entry := types.LoanHistoryEntry{
			ID:          loan.ID,
			CreatedDate: loan.CreatedDate,
			DueDate:     loan.DueDate,
			ReturnDate:  loan.ReturnDate,
			State:       loan.State,
		}
		if user, ok := r.users.users[loan.UserID]; ok {
			entry.UserHandle = user.Handle
		}
		if book, ok := r.books.books[loan.BookID]; ok {
			entry.BookTitle = book.Title
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	return entries, nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	sent []sentMail
	fail bool
}

func (s *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if s.fail {
		return errors.New("smtp connection refused")
	}
	s.sent = append(s.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

type publishedEvent struct {
	Channel string
	Attrs   map[string]string
}

type fakePublisher struct {
	events []publishedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.events = append(p.events, publishedEvent{Channel: channel, Attrs: attrs})
	return "msg-1", nil
}
