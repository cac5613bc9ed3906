package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avsenik/knjiznica/internal/db"
	"github.com/avsenik/knjiznica/internal/model"
	"github.com/avsenik/knjiznica/internal/notify"
	"github.com/avsenik/knjiznica/internal/store"
)

// fakeNotifier records dispatched messages and can be told to fail.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

type sentMessage struct {
	to      string
	subject string
	body    string
}

func (f *fakeNotifier) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestService(t *testing.T) (*Service, *sql.DB, *fakeNotifier) {
	t.Helper()
	database := db.NewTestDB(t)
	notifier := &fakeNotifier{}
	svc := &Service{
		DB:       database,
		Notifier: notifier,
		Log:      zerolog.Nop(),
	}
	return svc, database, notifier
}

func createMember(t *testing.T, database *sql.DB, username, email string) *model.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), database, username, email, "hash", model.RoleMember)
	require.NoError(t, err)
	return user
}

func createBook(t *testing.T, database *sql.DB, title string, total, available int) *model.Book {
	t.Helper()
	ctx := context.Background()
	author, err := store.CreateAuthor(ctx, database, "Test Author", "")
	require.NoError(t, err)
	category, err := store.CreateCategory(ctx, database, "Test Category")
	require.NoError(t, err)
	book, err := store.CreateBook(ctx, database, title, "", author.ID, category.ID, total, available)
	require.NoError(t, err)
	return book
}

func setPenaltyPoints(t *testing.T, database *sql.DB, userID int64, points int) {
	t.Helper()
	_, err := database.Exec(`UPDATE users SET penalty_points = ? WHERE id = ?`, points, userID)
	require.NoError(t, err)
}

func availableCopies(t *testing.T, database *sql.DB, bookID int64) int {
	t.Helper()
	book, err := store.GetBook(context.Background(), database, bookID)
	require.NoError(t, err)
	require.NotNil(t, book)
	return book.AvailableCopies
}

func TestBorrowHappyPath(t *testing.T) {
	svc, database, notifier := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "The Dispossessed", 5, 5)

	before := time.Now().UTC()
	borrow, err := svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)

	assert.Equal(t, user.ID, borrow.UserID)
	assert.Equal(t, book.ID, borrow.BookID)
	assert.True(t, borrow.Open())
	assert.Equal(t, 4, availableCopies(t, database, book.ID))

	// Due date is borrow date plus the loan period, to the second.
	assert.WithinDuration(t, borrow.BorrowDate.Add(model.LoanPeriod), borrow.DueDate, time.Second)
	assert.WithinDuration(t, before.Add(model.LoanPeriod), borrow.DueDate, 5*time.Second)

	require.Equal(t, 1, notifier.count())
	msg := notifier.sent[0]
	assert.Equal(t, "alice@example.com", msg.to)
	assert.Equal(t, "Borrow Confirmation: The Dispossessed", msg.subject)
	assert.Contains(t, msg.body, "Dear alice,")
	assert.Contains(t, msg.body, borrow.DueDate.Format("2006-01-02"))
}

func TestBorrowBookNotFound(t *testing.T) {
	svc, database, notifier := newTestService(t)
	user := createMember(t, database, "alice", "alice@example.com")

	_, err := svc.Borrow(context.Background(), user.ID, 9999)
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.Equal(t, 0, notifier.count())
}

func TestBorrowPenaltyLimit(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Dune", 5, 5)
	setPenaltyPoints(t, database, user.ID, model.PenaltyThreshold)

	_, err := svc.Borrow(ctx, user.ID, book.ID)
	assert.ErrorIs(t, err, ErrPenaltyLimit)
	assert.Equal(t, 5, availableCopies(t, database, book.ID))

	// Just below the threshold borrowing works again.
	setPenaltyPoints(t, database, user.ID, model.PenaltyThreshold-1)
	_, err = svc.Borrow(ctx, user.ID, book.ID)
	assert.NoError(t, err)
}

func TestBorrowLimit(t *testing.T) {
	svc, database, notifier := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	for i := 0; i < model.MaxOpenBorrows; i++ {
		book := createBook(t, database, fmt.Sprintf("Book %d", i), 1, 1)
		_, err := svc.Borrow(ctx, user.ID, book.ID)
		require.NoError(t, err)
	}

	fourth := createBook(t, database, "One Too Many", 1, 1)
	_, err := svc.Borrow(ctx, user.ID, fourth.ID)
	assert.ErrorIs(t, err, ErrBorrowLimit)
	assert.Equal(t, 1, availableCopies(t, database, fourth.ID))
	assert.Equal(t, model.MaxOpenBorrows, notifier.count())
}

func TestBorrowOutOfStock(t *testing.T) {
	svc, database, notifier := newTestService(t)

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Rare Edition", 3, 0)

	_, err := svc.Borrow(context.Background(), user.ID, book.ID)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 0, availableCopies(t, database, book.ID))
	assert.Equal(t, 0, notifier.count())

	open, err := store.CountOpenBorrows(context.Background(), database, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, open)
}

func TestBorrowPreconditionOrder(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	setPenaltyPoints(t, database, user.ID, model.PenaltyThreshold)

	// Missing book wins over the penalty state.
	_, err := svc.Borrow(ctx, user.ID, 9999)
	assert.ErrorIs(t, err, ErrBookNotFound)

	// Penalty wins over out-of-stock.
	empty := createBook(t, database, "Empty Shelf", 1, 0)
	_, err = svc.Borrow(ctx, user.ID, empty.ID)
	assert.ErrorIs(t, err, ErrPenaltyLimit)
}

func TestBorrowMissingEmailFailsWholeOperation(t *testing.T) {
	svc, database, notifier := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "noemail", "")
	book := createBook(t, database, "Unreachable", 2, 2)

	_, err := svc.Borrow(ctx, user.ID, book.ID)
	assert.ErrorIs(t, err, notify.ErrInvalidAddress)

	// The whole create rolled back: no copy taken, no borrow row, nothing sent.
	assert.Equal(t, 2, availableCopies(t, database, book.ID))
	open, _ := store.CountOpenBorrows(ctx, database, user.ID)
	assert.Equal(t, 0, open)
	assert.Equal(t, 0, notifier.count())
}

func TestBorrowMalformedEmail(t *testing.T) {
	svc, database, _ := newTestService(t)

	user := createMember(t, database, "badmail", "not-an-address")
	book := createBook(t, database, "Unreachable", 1, 1)

	_, err := svc.Borrow(context.Background(), user.ID, book.ID)
	assert.ErrorIs(t, err, notify.ErrInvalidAddress)
	assert.Equal(t, 1, availableCopies(t, database, book.ID))
}

func TestBorrowNotifierFailureRollsBack(t *testing.T) {
	svc, database, notifier := newTestService(t)
	ctx := context.Background()

	notifier.fail = errors.New("broker unavailable")
	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Undeliverable", 3, 3)

	_, err := svc.Borrow(ctx, user.ID, book.ID)
	require.Error(t, err)

	assert.Equal(t, 3, availableCopies(t, database, book.ID))
	open, _ := store.CountOpenBorrows(ctx, database, user.ID)
	assert.Equal(t, 0, open)
}

func TestBorrowReplayDoesNotRepeatConfirmation(t *testing.T) {
	svc, database, notifier := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Contended", 2, 2)

	// First pass dispatches the confirmation and commits.
	dispatched := false
	_, err := svc.borrowTx(ctx, user.ID, book.ID, &dispatched)
	require.NoError(t, err)
	require.True(t, dispatched)
	require.Equal(t, 1, notifier.count())

	// A replay of the transaction, as after a lock conflict rolled the
	// first attempt back, must not send a second confirmation.
	_, err = svc.borrowTx(ctx, user.ID, book.ID, &dispatched)
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count())
}

func TestReturnRoundTrip(t *testing.T) {
	svc, database, notifier := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Round Trip", 5, 5)

	borrow, err := svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.Equal(t, 4, availableCopies(t, database, book.ID))

	closed, err := svc.Return(ctx, user.ID, borrow.ID)
	require.NoError(t, err)

	assert.False(t, closed.Open())
	assert.Equal(t, 5, availableCopies(t, database, book.ID))

	// On-time return charges nothing.
	points, err := svc.PenaltyPoints(ctx, Actor{ID: user.ID}, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, points)

	// The return transition does not re-fire the confirmation.
	assert.Equal(t, 1, notifier.count())
}

func TestReturnLateChargesPenalty(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Overdue", 1, 1)

	// Borrow at a fixed instant, return 20 days later: 6 full days past the
	// 14-day due date.
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return base }
	borrow, err := svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.WithinDuration(t, base.Add(model.LoanPeriod), borrow.DueDate, time.Second)

	svc.Now = func() time.Time { return base.Add(20 * 24 * time.Hour) }
	closed, err := svc.Return(ctx, user.ID, borrow.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.ReturnDate)

	points, err := svc.PenaltyPoints(ctx, Actor{ID: user.ID}, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 6*model.PointsPerLateDay, points)
}

func TestReturnIdempotent(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Once Only", 1, 1)

	borrow, err := svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)

	first, err := svc.Return(ctx, user.ID, borrow.ID)
	require.NoError(t, err)
	firstReturn := *first.ReturnDate

	_, err = svc.Return(ctx, user.ID, borrow.ID)
	assert.ErrorIs(t, err, ErrInvalidOrReturned)

	// The copy was restored exactly once and the return date never moved.
	assert.Equal(t, 1, availableCopies(t, database, book.ID))
	got, err := store.GetBorrow(ctx, database, borrow.ID)
	require.NoError(t, err)
	assert.True(t, firstReturn.Equal(*got.ReturnDate), "return date moved: %v -> %v", firstReturn, *got.ReturnDate)
}

func TestReturnUnknownBorrow(t *testing.T) {
	svc, database, _ := newTestService(t)
	user := createMember(t, database, "alice", "alice@example.com")

	_, err := svc.Return(context.Background(), user.ID, 9999)
	assert.ErrorIs(t, err, ErrInvalidOrReturned)
}

func TestReturnNotOwner(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	alice := createMember(t, database, "alice", "alice@example.com")
	mallory := createMember(t, database, "mallory", "mallory@example.com")
	book := createBook(t, database, "Mine", 1, 1)

	borrow, err := svc.Borrow(ctx, alice.ID, book.ID)
	require.NoError(t, err)

	_, err = svc.Return(ctx, mallory.ID, borrow.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	// Still open, still out.
	got, _ := store.GetBorrow(ctx, database, borrow.ID)
	assert.True(t, got.Open())
	assert.Equal(t, 0, availableCopies(t, database, book.ID))
}

func TestConcurrentReturnsExactlyOneWins(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "alice", "alice@example.com")
	book := createBook(t, database, "Contested", 1, 1)

	borrow, err := svc.Borrow(ctx, user.ID, book.ID)
	require.NoError(t, err)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Return(ctx, user.ID, borrow.ID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrInvalidOrReturned)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, availableCopies(t, database, book.ID))
}

func TestConcurrentBorrowsLastCopy(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	book := createBook(t, database, "Last Copy", 1, 1)
	users := make([]*model.User, 4)
	for i := range users {
		users[i] = createMember(t, database, fmt.Sprintf("reader%d", i), fmt.Sprintf("reader%d@example.com", i))
	}

	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			_, errs[i] = svc.Borrow(ctx, userID, book.ID)
		}(i, u.ID)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, availableCopies(t, database, book.ID))
}

func TestConcurrentBorrowsRespectOpenLimit(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	user := createMember(t, database, "greedy", "greedy@example.com")
	const attempts = 6
	books := make([]*model.Book, attempts)
	for i := range books {
		books[i] = createBook(t, database, fmt.Sprintf("Title %d", i), 1, 1)
	}

	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i, b := range books {
		wg.Add(1)
		go func(i int, bookID int64) {
			defer wg.Done()
			_, errs[i] = svc.Borrow(ctx, user.ID, bookID)
		}(i, b.ID)
	}
	wg.Wait()

	open, err := store.CountOpenBorrows(ctx, database, user.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, open, model.MaxOpenBorrows)

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, open, successes)
}

func TestPenaltyPointsAuthorization(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	alice := createMember(t, database, "alice", "alice@example.com")
	bob := createMember(t, database, "bob", "bob@example.com")
	setPenaltyPoints(t, database, alice.ID, 42)

	// Self-read works.
	points, err := svc.PenaltyPoints(ctx, Actor{ID: alice.ID}, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, points)

	// Admin can read anyone.
	points, err = svc.PenaltyPoints(ctx, Actor{ID: bob.ID, Admin: true}, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, points)

	// Another member cannot.
	_, err = svc.PenaltyPoints(ctx, Actor{ID: bob.ID}, alice.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Missing target.
	_, err = svc.PenaltyPoints(ctx, Actor{ID: alice.ID, Admin: true}, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
