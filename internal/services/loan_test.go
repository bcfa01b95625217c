package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
)

type loanFixture struct {
	users     *fakeUserRepo
	books     *fakeBookRepo
	loans     *fakeLoanRepo
	publisher *fakePublisher
	svc       *LoanService

	student   types.User
	librarian types.User
	physical  types.Book
	digital   types.Book
}

func newLoanFixture(t *testing.T) *loanFixture {
	t.Helper()
	f := &loanFixture{
		users:     newFakeUserRepo(),
		books:     newFakeBookRepo(),
		publisher: &fakePublisher{},
	}
	f.loans = newFakeLoanRepo(f.users, f.books)
	f.svc = NewLoanService(f.users, f.books, f.loans, f.publisher)

	f.student = f.users.add(types.User{Handle: "ana", Role: types.RoleStudent})
	f.librarian = f.users.add(types.User{Handle: "leo", Role: types.RoleLibrarian})
	f.physical = f.books.add(types.Book{
		Title:           "The Go Programming Language",
		Author:          "Donovan",
		Kind:            types.KindPhysical,
		CopiesAvailable: 2,
	})
	f.digital = f.books.add(types.Book{
		Title:  "Effective Concurrency",
		Author: "Pike",
		Kind:   types.KindDigital,
	})
	return f
}

func (f *loanFixture) asStudent() Actor {
	return Actor{ID: f.student.ID, Role: f.student.Role}
}

func (f *loanFixture) asLibrarian() Actor {
	return Actor{ID: f.librarian.ID, Role: f.librarian.Role}
}

func dueDate() time.Time {
	return time.Now().AddDate(0, 0, 14)
}

func TestLoanCreateDecrementsStockAndPublishes(t *testing.T) {
	f := newLoanFixture(t)

	loan, err := f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	require.NoError(t, err)
	assert.Equal(t, types.LoanActive, loan.State)
	assert.Equal(t, f.student.ID, loan.UserID)

	book, err := f.books.Get(context.Background(), f.physical.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.CopiesAvailable)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "loan-events", f.publisher.events[0].Channel)
	assert.Equal(t, "loan.created", f.publisher.events[0].Attrs["event"])
}

func TestLoanCreateRejectsDigitalBooks(t *testing.T) {
	f := newLoanFixture(t)

	_, err := f.svc.Create(context.Background(), "ana", f.digital.ID, dueDate(), f.asStudent())
	assert.ErrorIs(t, err, store.ErrUnsupportedKind)
	assert.Empty(t, f.publisher.events)
}

func TestLoanCreateRejectsOutOfStock(t *testing.T) {
	f := newLoanFixture(t)
	f.books.books[f.physical.ID].CopiesAvailable = 0

	_, err := f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	assert.ErrorIs(t, err, store.ErrOutOfStock)
}

func TestLoanCreateRejectsDuplicateActiveLoan(t *testing.T) {
	f := newLoanFixture(t)

	_, err := f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	assert.ErrorIs(t, err, store.ErrDuplicateActiveLoan)

	// Stock was decremented exactly once.
	book, err := f.books.Get(context.Background(), f.physical.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, book.CopiesAvailable)
}

func TestLoanCreateStudentCannotBorrowForOthers(t *testing.T) {
	f := newLoanFixture(t)

	_, err := f.svc.Create(context.Background(), "leo", f.physical.ID, dueDate(), f.asStudent())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestLoanCreateLibrarianMayBorrowForAnyUser(t *testing.T) {
	f := newLoanFixture(t)

	loan, err := f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asLibrarian())
	require.NoError(t, err)
	assert.Equal(t, f.student.ID, loan.UserID)
}

func TestLoanCreateUnknownHandle(t *testing.T) {
	f := newLoanFixture(t)

	_, err := f.svc.Create(context.Background(), "nobody", f.physical.ID, dueDate(), f.asLibrarian())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoanReturnRestoresStockOnce(t *testing.T) {
	f := newLoanFixture(t)

	loan, err := f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	require.NoError(t, err)

	returned, err := f.svc.Return(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LoanReturned, returned.State)
	require.NotNil(t, returned.ReturnDate)

	book, err := f.books.Get(context.Background(), f.physical.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, book.CopiesAvailable)

	// A second return neither double-credits stock nor succeeds.
	_, err = f.svc.Return(context.Background(), loan.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	book, err = f.books.Get(context.Background(), f.physical.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, book.CopiesAvailable)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, "loan.returned", f.publisher.events[1].Attrs["event"])
}

func TestLoanReturnAllowsImmediateReborrow(t *testing.T) {
	f := newLoanFixture(t)

	loan, err := f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	require.NoError(t, err)
	_, err = f.svc.Return(context.Background(), loan.ID)
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	require.NoError(t, err)
}

func TestLoanHistoryNewestFirst(t *testing.T) {
	f := newLoanFixture(t)

	first, err := f.svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	require.NoError(t, err)
	_, err = f.svc.Return(context.Background(), first.ID)
	require.NoError(t, err)
	second, err := f.svc.Create(context.Background(), "leo", f.physical.ID, dueDate(), f.asLibrarian())
	require.NoError(t, err)

	entries, err := f.svc.History(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID)
	assert.Equal(t, "leo", entries[0].UserHandle)
	assert.Equal(t, types.LoanActive, entries[0].State)
	assert.Equal(t, "ana", entries[1].UserHandle)
	assert.Equal(t, types.LoanReturned, entries[1].State)
	assert.NotNil(t, entries[1].ReturnDate)
	assert.Equal(t, "The Go Programming Language", entries[1].BookTitle)
}

func TestLoanServiceWithoutPublisher(t *testing.T) {
	f := newLoanFixture(t)
	svc := NewLoanService(f.users, f.books, f.loans, nil)

	_, err := svc.Create(context.Background(), "ana", f.physical.ID, dueDate(), f.asStudent())
	require.NoError(t, err)
}
