package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	t     *testing.T
	path  string
	store *sqlite.SQLiteStore
	clock *clock
	e     *Engine

	alice, bob, carol string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{DefaultCurrency: "USD", StorageRetries: 3, RetryInitialInterval: time.Millisecond}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		path:  filepath.Join(t.TempDir(), "ledger.db"),
		clock: &clock{t: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)},
	}
	f.open(opts...)

	ctx := context.Background()
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		u := models.NewUser(fmt.Sprintf("%s@example.com", name), name, "")
		require.NoError(t, f.e.CreateUser(ctx, u))
		switch name {
		case "Alice":
			f.alice = u.ID
		case "Bob":
			f.bob = u.ID
		case "Carol":
			f.carol = u.ID
		}
	}
	return f
}

// open starts an engine over the fixture's database file.
func (f *fixture) open(opts ...Option) {
	f.t.Helper()
	store, err := sqlite.New(f.path)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { store.Close() })

	opts = append([]Option{WithLogger(quietLogger()), WithClock(f.clock.Now)}, opts...)
	e, err := New(context.Background(), store, testConfig(), opts...)
	require.NoError(f.t, err)
	f.t.Cleanup(e.Close)
	f.store, f.e = store, e
}

// reopen simulates a process restart.
func (f *fixture) reopen() {
	f.t.Helper()
	f.e.Close()
	require.NoError(f.t, f.store.Close())
	f.open()
}

func (f *fixture) splitThreeWays(amount int64) models.Expense {
	f.t.Helper()
	exp, err := f.e.RecordExpense(context.Background(), f.alice, models.Expense{
		Description:  "Dinner",
		Amount:       amount,
		Currency:     "USD",
		PaidBy:       f.alice,
		SplitEqually: true,
		Shares:       []models.ExpenseShare{{UserID: f.alice}, {UserID: f.bob}, {UserID: f.carol}},
	}, uuid.NewString())
	require.NoError(f.t, err)
	return exp
}

func (f *fixture) requireNet(userID string, want int64) models.Balance {
	f.t.Helper()
	b, err := f.e.Balance(context.Background(), userID, "")
	require.NoError(f.t, err)
	require.Equal(f.t, want, b.Net, "net of %s", userID)
	require.Equal(f.t, b.Lent-b.Owed, b.Net)
	return b
}

func TestRecordExpense_EqualSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := f.splitThreeWays(300)
	assert.Equal(t, int64(300), exp.ShareTotal())
	assert.Equal(t, f.alice, exp.CreatedBy)

	f.requireNet(f.alice, 200)
	f.requireNet(f.bob, -100)
	f.requireNet(f.carol, -100)

	pair, err := f.e.PairBalance(ctx, f.alice, f.bob, "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pair.Amount)
	assert.Equal(t, "USD", pair.Currency)

	for _, u := range []string{f.alice, f.bob, f.carol} {
		page, err := f.e.Feed(ctx, u, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Activities, 1)
		assert.Equal(t, models.ActivityExpense, page.Activities[0].Type())
		assert.Equal(t, u, page.Activities[0].UserID)
		assert.Contains(t, page.Activities[0].Description, "3.00 USD")

		unread, err := f.e.UnreadCount(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, 1, unread)
	}
}

func TestRecordExpense_RemainderGoesToPayer(t *testing.T) {
	f := newFixture(t)

	exp := f.splitThreeWays(301)
	assert.Equal(t, int64(301), exp.ShareTotal())
	share, ok := exp.ShareOf(f.alice)
	require.True(t, ok)
	assert.Equal(t, int64(101), share.Amount)
	assert.True(t, share.Paid)

	f.requireNet(f.alice, 200)
}

func TestRecordPayment_SettlesShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.splitThreeWays(300)
	before := f.requireNet(f.bob, -100)

	p, err := f.e.RecordPayment(ctx, f.bob, models.Payment{
		From:     f.bob,
		To:       f.alice,
		Amount:   100,
		Currency: "USD",
	}, uuid.NewString())
	require.NoError(t, err)
	require.Len(t, p.ShareIDs, 1)

	f.requireNet(f.alice, 100)
	after := f.requireNet(f.bob, 0)
	assert.Equal(t, before.Owed-100, after.Owed)

	_, err = f.e.RecordPayment(ctx, f.bob, models.Payment{
		From:     f.bob,
		To:       f.alice,
		Amount:   100,
		Currency: "USD",
	}, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrValidation)

	st, err := f.e.Statistics(ctx, f.alice, "USD", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.TotalExpenses)
	assert.Equal(t, int64(100), st.TotalIncome)
}

func TestRecordExpense_RejectedWritesLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		exp  models.Expense
		want error
	}{
		{
			name: "shares do not sum",
			exp: models.Expense{Amount: 300, Currency: "USD", PaidBy: f.alice,
				Shares: []models.ExpenseShare{{UserID: f.alice, Amount: 100}, {UserID: f.bob, Amount: 100}}},
			want: models.ErrValidation,
		},
		{
			name: "unknown share holder",
			exp: models.Expense{Amount: 100, Currency: "USD", PaidBy: f.alice,
				Shares: []models.ExpenseShare{{UserID: "nobody", Amount: 100}}},
			want: models.ErrNotFound,
		},
		{
			name: "unknown group",
			exp: models.Expense{Amount: 100, Currency: "USD", PaidBy: f.alice, GroupID: "missing",
				Shares: []models.ExpenseShare{{UserID: f.bob, Amount: 100}}},
			want: models.ErrNotFound,
		},
		{
			name: "missing payer",
			exp:  models.Expense{Amount: 100, Currency: "USD", Shares: []models.ExpenseShare{{UserID: f.bob, Amount: 100}}},
			want: models.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.e.RecordExpense(ctx, f.alice, tt.exp, uuid.NewString())
			require.ErrorIs(t, err, tt.want)
		})
	}

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	for _, u := range []string{f.alice, f.bob} {
		page, err := f.e.Feed(ctx, u, "", 10)
		require.NoError(t, err)
		assert.Empty(t, page.Activities)
	}
	f.requireNet(f.alice, 0)
}

func TestRecordExpense_Idempotent(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()

	exp := models.Expense{
		Description: "Taxi",
		Amount:      50,
		Currency:    "USD",
		PaidBy:      f.alice,
		Shares:      []models.ExpenseShare{{UserID: f.bob, Amount: 50}},
	}
	first, err := f.e.RecordExpense(ctx, f.alice, exp, "req-1")
	require.NoError(t, err)
	again, err := f.e.RecordExpense(ctx, f.alice, exp, "req-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	f.requireNet(f.bob, -50)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	exp.Amount = 60
	exp.Shares[0].Amount = 60
	_, err = f.e.RecordExpense(ctx, f.alice, exp, "req-1")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.e.RecordExpense(ctx, f.alice, exp, "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecordExpense_LostIdempotencyKeyFallsBackToEventLog(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newFixture(t, WithIdempotencyStore(idempotency.NewRedisStore(client, "test:")))
	ctx := context.Background()

	exp := models.Expense{
		Amount:   80,
		Currency: "USD",
		PaidBy:   f.bob,
		Shares:   []models.ExpenseShare{{UserID: f.carol, Amount: 80}},
	}
	first, err := f.e.RecordExpense(ctx, f.bob, exp, "req-lost")
	require.NoError(t, err)

	mr.FlushAll()

	again, err := f.e.RecordExpense(ctx, f.bob, exp, "req-lost")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	f.requireNet(f.carol, -80)
}

func TestRecordExpense_RequestIDsAreScopedPerActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alices, err := f.e.RecordExpense(ctx, f.alice, models.Expense{
		Description: "A",
		Amount:      50,
		Currency:    "USD",
		PaidBy:      f.alice,
		Shares:      []models.ExpenseShare{{UserID: f.bob, Amount: 50}},
	}, "req-1")
	require.NoError(t, err)

	carols, err := f.e.RecordExpense(ctx, f.carol, models.Expense{
		Description: "C",
		Amount:      900,
		Currency:    "USD",
		PaidBy:      f.carol,
		Shares:      []models.ExpenseShare{{UserID: f.alice, Amount: 900}},
	}, "req-1")
	require.NoError(t, err)
	assert.NotEqual(t, alices.ID, carols.ID)
	assert.Equal(t, "C", carols.Description)
	assert.Equal(t, f.carol, carols.PaidBy)

	f.requireNet(f.carol, 900)
	f.requireNet(f.alice, 50-900)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = f.e.RecordPayment(ctx, f.bob, models.Payment{From: f.bob, To: f.alice, Amount: 50, Currency: "USD"}, "req-1")
	require.NoError(t, err)
	f.requireNet(f.bob, 0)
}

func TestRecordExpense_RetryAfterRestartMidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := models.Expense{
		Description: "Groceries",
		Amount:      120,
		Currency:    "USD",
		PaidBy:      f.alice,
		Shares:      []models.ExpenseShare{{UserID: f.bob, Amount: 120}},
	}
	hash, err := idempotency.Hash(exp)
	require.NoError(t, err)

	// The process died after claiming the request id, before committing.
	_, claimed, err := f.store.Claim(ctx, idempotency.Key(opRecordExpense, f.alice, "req-early"), hash, time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	f.reopen()

	got, err := f.e.RecordExpense(ctx, f.alice, exp, "req-early")
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.Amount)
	f.requireNet(f.bob, -120)

	// The process died after committing, before storing the response.
	first, err := f.e.RecordExpense(ctx, f.alice, exp, "req-late")
	require.NoError(t, err)
	_, err = f.store.Sweep(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	_, claimed, err = f.store.Claim(ctx, idempotency.Key(opRecordExpense, f.alice, "req-late"), hash, time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	f.reopen()

	again, err := f.e.RecordExpense(ctx, f.alice, exp, "req-late")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	f.requireNet(f.bob, -240)

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRecordCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := f.splitThreeWays(300)

	next, err := f.e.RecordCorrection(ctx, f.bob, models.Correction{
		ExpenseID: exp.ID,
		Shares:    []models.ExpenseShare{{UserID: f.alice, Amount: 100}, {UserID: f.bob, Amount: 200}},
		Reason:    "Carol was not there",
	}, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 1, next.Revision)

	f.requireNet(f.alice, 200)
	f.requireNet(f.bob, -200)
	f.requireNet(f.carol, 0)

	revisions, corrections, err := f.e.History(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, revisions, 2)
	require.Len(t, corrections, 1)
	assert.Equal(t, f.bob, corrections[0].CreatedBy)
	assert.Equal(t, int64(100), revisions[0].Shares[2].Amount)

	// Carol was removed from the expense but still hears about it.
	page, err := f.e.Feed(ctx, f.carol, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Activities, 2)

	_, err = f.e.RecordCorrection(ctx, f.carol, models.Correction{ExpenseID: exp.ID, Void: true}, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrValidation)

	void, err := f.e.RecordCorrection(ctx, f.alice, models.Correction{ExpenseID: exp.ID, Void: true}, uuid.NewString())
	require.NoError(t, err)
	assert.True(t, void.Void)
	f.requireNet(f.alice, 0)
	f.requireNet(f.bob, 0)

	_, err = f.e.RecordCorrection(ctx, f.alice, models.Correction{ExpenseID: "missing", Void: true}, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.splitThreeWays(300)
	f.splitThreeWays(600)

	unread, err := f.e.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	wm, err := f.e.MarkRead(ctx, f.bob, "read-1")
	require.NoError(t, err)
	unread, err = f.e.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Zero(t, unread)

	f.splitThreeWays(900)
	unread, err = f.e.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	// Repeating the same request does not cover the new entry.
	again, err := f.e.MarkRead(ctx, f.bob, "read-1")
	require.NoError(t, err)
	assert.Equal(t, wm.FeedKey, again.FeedKey)
	unread, err = f.e.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	// Other users are unaffected.
	unread, err = f.e.UnreadCount(ctx, f.carol)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)
}

func TestRestartReplaysState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.e.CreateGroup(ctx, f.alice, "Trip", "", []string{f.bob, f.carol})
	require.NoError(t, err)
	exp, err := f.e.RecordExpense(ctx, f.alice, models.Expense{
		Description:  "Hotel",
		Amount:       900,
		Currency:     "EUR",
		PaidBy:       f.alice,
		GroupID:      g.ID,
		SplitEqually: true,
		Shares:       []models.ExpenseShare{{UserID: f.alice}, {UserID: f.bob}, {UserID: f.carol}},
		Category:     models.CategoryTravel,
	}, uuid.NewString())
	require.NoError(t, err)
	_, err = f.e.RecordCorrection(ctx, f.alice, models.Correction{
		ExpenseID: exp.ID,
		Shares:    []models.ExpenseShare{{UserID: f.alice, Amount: 300}, {UserID: f.bob, Amount: 600}},
	}, uuid.NewString())
	require.NoError(t, err)
	_, err = f.e.RecordPayment(ctx, f.bob, models.Payment{From: f.bob, To: f.alice, Amount: 600, Currency: "EUR"}, uuid.NewString())
	require.NoError(t, err)
	f.splitThreeWays(300)
	_, err = f.e.MarkRead(ctx, f.carol, uuid.NewString())
	require.NoError(t, err)

	balances := map[string]models.Balance{}
	for _, u := range []string{f.alice, f.bob, f.carol} {
		for _, cur := range []string{"USD", "EUR"} {
			b, err := f.e.Balance(ctx, u, cur)
			require.NoError(t, err)
			balances[u+cur] = b
		}
	}
	feedBefore, err := f.e.Feed(ctx, f.bob, "", 50)
	require.NoError(t, err)
	unreadBefore, err := f.e.UnreadCount(ctx, f.carol)
	require.NoError(t, err)

	f.reopen()

	for _, u := range []string{f.alice, f.bob, f.carol} {
		for _, cur := range []string{"USD", "EUR"} {
			b, err := f.e.Balance(ctx, u, cur)
			require.NoError(t, err)
			assert.Equal(t, balances[u+cur], b, "%s %s", u, cur)
		}
	}
	feedAfter, err := f.e.Feed(ctx, f.bob, "", 50)
	require.NoError(t, err)
	require.Len(t, feedAfter.Activities, len(feedBefore.Activities))
	for i := range feedBefore.Activities {
		assert.Equal(t, feedBefore.Activities[i].ID, feedAfter.Activities[i].ID)
		assert.Equal(t, feedBefore.Activities[i].Detail, feedAfter.Activities[i].Detail)
	}
	unreadAfter, err := f.e.UnreadCount(ctx, f.carol)
	require.NoError(t, err)
	assert.Equal(t, unreadBefore, unreadAfter)

	revisions, _, err := f.e.History(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, revisions, 2)

	got, err := f.e.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.alice, f.bob, f.carol}, got.Members)

	report, err := f.e.Rebuild(ctx)
	require.NoError(t, err)
	assert.False(t, report.Repaired)
	assert.Equal(t, 2, report.Expenses)
}

func TestConcurrentWritesMatchRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := []string{f.alice, f.bob, f.carol}

	var wg sync.WaitGroup
	for w := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 7))
			for range 15 {
				payer := users[rng.IntN(len(users))]
				other := users[rng.IntN(len(users))]
				switch rng.IntN(4) {
				case 0:
					_, _ = f.e.RecordPayment(ctx, other, models.Payment{
						From: other, To: payer, Amount: int64(1 + rng.IntN(50)), Currency: "USD",
					}, uuid.NewString())
				default:
					shares := []models.ExpenseShare{{UserID: payer}}
					if other != payer {
						shares = append(shares, models.ExpenseShare{UserID: other})
					}
					_, err := f.e.RecordExpense(ctx, payer, models.Expense{
						Amount:       int64(1 + rng.IntN(1000)),
						Currency:     "USD",
						PaidBy:       payer,
						SplitEqually: true,
						Shares:       shares,
					}, uuid.NewString())
					if err != nil {
						t.Errorf("RecordExpense: %v", err)
					}
				}
				b, pairs, err := f.e.BalanceSheet(ctx, other, "USD")
				if err != nil {
					t.Errorf("BalanceSheet: %v", err)
					continue
				}
				var owedToOther int64
				for _, p := range pairs {
					owedToOther += p.Amount
				}
				if owedToOther != b.Net {
					t.Errorf("counterparties of %s sum to %d, net is %d", other, owedToOther, b.Net)
				}
			}
		}()
	}
	wg.Wait()

	report, err := f.e.Rebuild(ctx)
	require.NoError(t, err)
	assert.False(t, report.Repaired)

	var sum int64
	for _, u := range users {
		b, err := f.e.Balance(ctx, u, "USD")
		require.NoError(t, err)
		sum += b.Net
	}
	assert.Zero(t, sum)
	assert.Zero(t, f.e.locks.size())
}

func TestRebuild_RepairsDivergence(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()
	f.splitThreeWays(300)

	// An expense the ledger never saw.
	f.e.aggregator().Apply(nil, &models.Expense{
		ID:       "ghost",
		Amount:   50,
		Currency: "USD",
		PaidBy:   f.alice,
		Shares:   []models.ExpenseShare{{ID: "ghost-share", UserID: f.bob, Amount: 50}},
	})
	f.requireNet(f.bob, -150)

	report, err := f.e.Rebuild(ctx)
	require.ErrorIs(t, err, models.ErrConsistency)
	assert.True(t, report.Repaired)
	f.requireNet(f.bob, -100)

	report, err = f.e.Rebuild(ctx)
	require.NoError(t, err)
	assert.False(t, report.Repaired)
}

func TestGroups_MembershipGovernsExpenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.e.CreateGroup(ctx, f.alice, "Flat", "rent and bills", []string{f.bob})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.alice, f.bob}, g.Members)

	groupExpense := func(users ...string) error {
		shares := make([]models.ExpenseShare, len(users))
		for i, u := range users {
			shares[i] = models.ExpenseShare{UserID: u}
		}
		_, err := f.e.RecordExpense(ctx, f.alice, models.Expense{
			Amount: 120, Currency: "USD", PaidBy: f.alice, GroupID: g.ID,
			SplitEqually: true, Shares: shares,
		}, uuid.NewString())
		return err
	}

	require.NoError(t, groupExpense(f.alice, f.bob))
	require.ErrorIs(t, groupExpense(f.alice, f.carol), models.ErrValidation)

	_, err = f.e.AddMember(ctx, f.carol, g.ID, f.carol)
	require.ErrorIs(t, err, models.ErrValidation, "non-members cannot add themselves")

	f.clock.Advance(time.Hour)
	g, err = f.e.AddMember(ctx, f.bob, g.ID, f.carol)
	require.NoError(t, err)
	assert.Len(t, g.Members, 3)
	f.clock.Advance(time.Hour)
	require.NoError(t, groupExpense(f.alice, f.bob, f.carol))

	gb, err := f.e.GroupBalance(ctx, g.ID, f.alice, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(60+80), gb.Net)

	f.clock.Advance(time.Hour)
	g, err = f.e.RemoveMember(ctx, f.carol, g.ID, f.carol)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.alice, f.bob}, g.Members)
	f.clock.Advance(time.Hour)
	require.ErrorIs(t, groupExpense(f.alice, f.carol), models.ErrValidation)

	page, err := f.e.Feed(ctx, f.carol, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Activities, 3)
	assert.Equal(t, models.GroupActivity{Action: models.GroupMemberRemoved, Subject: f.carol}, page.Activities[0].Detail)
	assert.Equal(t, models.GroupActivity{Action: models.GroupMemberAdded, Subject: f.carol}, page.Activities[2].Detail)

	_, err = f.e.GroupBalance(ctx, "missing", f.alice, "USD")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.e.CreateGroup(ctx, f.alice, "Lunch", "", []string{f.bob, f.carol})
	require.NoError(t, err)

	n, err := f.e.PostMessage(ctx, f.bob, g.ID, nil, "who is in today?")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.e.PostMessage(ctx, f.alice, "", []string{f.carol}, "ping")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := f.e.Feed(ctx, f.carol, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Activities, 3)
	assert.Equal(t, models.ActivityMessage, page.Activities[0].Type())
	assert.Equal(t, "Alice: ping", page.Activities[0].Description)

	_, err = f.e.PostMessage(ctx, f.alice, "", nil, "nobody")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.e.PostMessage(ctx, f.alice, g.ID, nil, "   ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

// flakyStore fails the first n commits with a transient error.
type flakyStore struct {
	storage.Store
	failures atomic.Int32
}

func (s *flakyStore) Commit(ctx context.Context, b storage.Batch) error {
	if s.failures.Add(-1) >= 0 {
		return models.Transient(errors.New("database is locked"))
	}
	return s.Store.Commit(ctx, b)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "flaky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	flaky := &flakyStore{Store: store}
	e, err := New(context.Background(), flaky, testConfig(), WithLogger(quietLogger()), WithIdempotencyStore(store))
	require.NoError(t, err)
	ctx := context.Background()

	alice := models.NewUser("alice@example.com", "Alice", "")
	bob := models.NewUser("bob@example.com", "Bob", "")
	require.NoError(t, e.CreateUser(ctx, alice))
	require.NoError(t, e.CreateUser(ctx, bob))

	exp := models.Expense{
		Amount: 10, Currency: "USD", PaidBy: alice.ID,
		Shares: []models.ExpenseShare{{UserID: bob.ID, Amount: 10}},
	}

	flaky.failures.Store(2)
	_, err = e.RecordExpense(ctx, alice.ID, exp, "req-a")
	require.NoError(t, err)

	flaky.failures.Store(10)
	_, err = e.RecordExpense(ctx, alice.ID, exp, "req-b")
	require.ErrorIs(t, err, models.ErrTransient)

	// The failed request released its key and can be retried.
	flaky.failures.Store(0)
	_, err = e.RecordExpense(ctx, alice.ID, exp, "req-b")
	require.NoError(t, err)

	b, err := e.Balance(ctx, bob.ID, "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(-20), b.Net)
}

func TestQueries_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.e.Balance(ctx, "nobody", "USD")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.e.Balance(ctx, f.alice, "dollars")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.e.Feed(ctx, f.alice, "not a cursor!", 10)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.e.UnreadCount(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	_, err = f.e.Statistics(ctx, f.alice, "USD", models.DateRange{From: day, To: day})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = f.e.CreateUser(ctx, models.NewUser("ALICE@example.com", "Alice again", ""))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStatistics_UsesUserTimezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tokyo := models.NewUser("dana@example.com", "Dana", "")
	tokyo.Timezone = "Asia/Tokyo"
	require.NoError(t, f.e.CreateUser(ctx, tokyo))

	// Sunday 20:00 UTC is already Monday in Tokyo.
	sunday := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	_, err := f.e.RecordExpense(ctx, tokyo.ID, models.Expense{
		Amount: 500, Currency: "USD", PaidBy: tokyo.ID, Date: sunday, Category: models.CategoryFood,
		Shares: []models.ExpenseShare{{UserID: tokyo.ID, Amount: 200}, {UserID: f.alice, Amount: 300}},
	}, uuid.NewString())
	require.NoError(t, err)

	st, err := f.e.Statistics(ctx, tokyo.ID, "", models.DateRange{})
	require.NoError(t, err)
	require.Len(t, st.ByWeek, 1)
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, loc).Unix(), st.ByWeek[0].WeekStart.Unix())
	assert.Equal(t, int64(500), st.ByCategory[models.CategoryFood])
	assert.Len(t, st.ByCategory, len(models.Categories()))

	st, err = f.e.Statistics(ctx, f.alice, "USD", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.ByCategory[models.CategoryFood])
	require.Len(t, st.ByWeek, 1)
	assert.True(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC).Equal(st.ByWeek[0].WeekStart))
}

func TestStartTasks_StopOnClose(t *testing.T) {
	f := newFixture(t)
	f.splitThreeWays(300)

	f.e.StartTasks(5*time.Millisecond, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	f.e.Close()
	f.e.Close()

	f.requireNet(f.alice, 200)
}
