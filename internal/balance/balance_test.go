package balance

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

var day = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type openGroups struct{}

func (openGroups) WasMember(string, string, time.Time) (bool, error) { return true, nil }

func newLedger() *ledger.Ledger {
	return ledger.New(openGroups{}, ledger.WithClock(func() time.Time { return day }))
}

func requireNet(t *testing.T, a *Aggregator, user string, want int64) models.Balance {
	t.Helper()
	b, err := a.Net(user, "USD")
	require.NoError(t, err)
	assert.Equal(t, want, b.Net, "net of %s", user)
	assert.Equal(t, b.Lent-b.Owed, b.Net)
	return b
}

func TestEqualSplitThreeWays(t *testing.T) {
	l := newLedger()
	agg := New()

	e, err := l.RecordExpense(models.Expense{
		Amount:       300,
		Currency:     "USD",
		PaidBy:       "a",
		SplitEqually: true,
		Shares:       []models.ExpenseShare{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}},
	})
	require.NoError(t, err)
	agg.Apply(nil, &e)

	requireNet(t, agg, "a", 200)
	bBefore := requireNet(t, agg, "b", -100)
	requireNet(t, agg, "c", -100)
	require.NoError(t, agg.Check())

	assert.Equal(t, int64(100), agg.Pair("a", "b", "USD").Amount)
	assert.Equal(t, int64(-100), agg.Pair("b", "a", "USD").Amount)
	assert.Zero(t, agg.Pair("b", "c", "USD").Amount)

	// B settles their share.
	_, settled, err := l.RecordPayment(models.Payment{From: "b", To: "a", Amount: 100, Currency: "USD"})
	require.NoError(t, err)
	agg.Settle(settled)

	requireNet(t, agg, "a", 100)
	bAfter := requireNet(t, agg, "b", 0)
	assert.Equal(t, bBefore.Owed-100, bAfter.Owed)
	require.NoError(t, agg.Check())
}

func TestRemainderGoesToPayer(t *testing.T) {
	l := newLedger()
	agg := New()

	e, err := l.RecordExpense(models.Expense{
		Amount:       301,
		Currency:     "USD",
		PaidBy:       "a",
		SplitEqually: true,
		Shares:       []models.ExpenseShare{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}},
	})
	require.NoError(t, err)
	agg.Apply(nil, &e)

	assert.Equal(t, int64(301), e.ShareTotal())
	requireNet(t, agg, "a", 200)
	requireNet(t, agg, "b", -100)
}

func TestApply_CorrectionAndVoid(t *testing.T) {
	l := newLedger()
	agg := New()

	e, err := l.RecordExpense(models.Expense{
		Amount:   300,
		Currency: "USD",
		PaidBy:   "a",
		GroupID:  "trip",
		Shares:   []models.ExpenseShare{{UserID: "a", Amount: 100}, {UserID: "b", Amount: 200}},
	})
	require.NoError(t, err)
	agg.Apply(nil, &e)
	assert.Equal(t, int64(200), agg.Group("trip", "a", "USD").Net)

	prev, next, err := l.RecordCorrection(models.Correction{
		ExpenseID: e.ID,
		Shares:    []models.ExpenseShare{{UserID: "a", Amount: 100}, {UserID: "b", Amount: 100}, {UserID: "c", Amount: 100}},
	})
	require.NoError(t, err)
	agg.Apply(&prev, &next)

	requireNet(t, agg, "a", 200)
	requireNet(t, agg, "b", -100)
	requireNet(t, agg, "c", -100)
	assert.Equal(t, int64(-100), agg.Group("trip", "c", "USD").Net)

	prev, next, err = l.RecordCorrection(models.Correction{ExpenseID: e.ID, Void: true})
	require.NoError(t, err)
	agg.Apply(&prev, &next)

	requireNet(t, agg, "a", 0)
	requireNet(t, agg, "c", 0)
	assert.Empty(t, agg.Pairs("a", "USD"))
}

func TestCurrenciesAreSeparate(t *testing.T) {
	agg := New()
	agg.Apply(nil, &models.Expense{
		ID: "e1", Amount: 100, Currency: "USD", PaidBy: "a",
		Shares: []models.ExpenseShare{{ID: "s1", UserID: "b", Amount: 100}},
	})
	agg.Apply(nil, &models.Expense{
		ID: "e2", Amount: 50, Currency: "EUR", PaidBy: "b",
		Shares: []models.ExpenseShare{{ID: "s2", UserID: "a", Amount: 50}},
	})

	usd, err := agg.Net("a", "USD")
	require.NoError(t, err)
	eur, err := agg.Net("a", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(100), usd.Net)
	assert.Equal(t, int64(-50), eur.Net)
}

func TestNet_UnknownUser(t *testing.T) {
	b, err := New().Net("nobody", "USD")
	require.NoError(t, err)
	assert.Zero(t, b.Net)
}

func TestNet_DetectsBrokenPairs(t *testing.T) {
	agg := New()
	agg.Apply(nil, &models.Expense{
		ID: "e1", Amount: 100, Currency: "USD", PaidBy: "a",
		Shares: []models.ExpenseShare{{ID: "s1", UserID: "b", Amount: 100}},
	})

	acc, _ := agg.lookup("a")
	acc.pairs[pairKey{"b", "USD"}] = 42

	_, err := agg.Net("a", "USD")
	require.ErrorIs(t, err, models.ErrConsistency)
	require.ErrorIs(t, agg.Check(), models.ErrConsistency)
}

func TestRecompute_DetectsZeroSumViolation(t *testing.T) {
	agg := New()
	agg.Apply(nil, &models.Expense{
		ID: "e1", Amount: 100, Currency: "USD", PaidBy: "a",
		Shares: []models.ExpenseShare{{ID: "s1", UserID: "b", Amount: 100}},
	})
	acc, _ := agg.lookup("b")
	acc.totals["USD"] = totals{owed: 90}
	require.ErrorIs(t, agg.Check(), models.ErrConsistency)
}

// Incremental updates must match a full recompute for any interleaving of
// expenses, corrections and payments.
func TestIncrementalMatchesRecompute(t *testing.T) {
	users := []string{"a", "b", "c", "d", "e"}
	currencies := []string{"USD", "EUR"}

	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*7919))
			l := newLedger()
			agg := New()
			var ids []string

			for step := 0; step < 200; step++ {
				switch op := rng.IntN(10); {
				case op < 5 || len(ids) == 0:
					e := randomExpense(rng, users, currencies)
					e.Date = day.Add(time.Duration(rng.IntN(1000)) * time.Hour)
					rec, err := l.RecordExpense(e)
					require.NoError(t, err)
					agg.Apply(nil, &rec)
					ids = append(ids, rec.ID)

				case op < 8:
					id := ids[rng.IntN(len(ids))]
					cur, err := l.Expense(id)
					require.NoError(t, err)
					if cur.Void {
						continue
					}
					c := models.Correction{ExpenseID: id, Void: rng.IntN(5) == 0}
					if !c.Void {
						c.Shares = randomShares(rng, users, cur.Amount)
						for i := range c.Shares {
							c.Shares[i].Paid = rng.IntN(4) == 0
						}
					}
					prev, next, err := l.RecordCorrection(c)
					require.NoError(t, err)
					agg.Apply(&prev, &next)

				default:
					from, to := users[rng.IntN(len(users))], users[rng.IntN(len(users))]
					if from == to {
						continue
					}
					owed := agg.Pair(to, from, "USD").Amount
					if owed <= 0 {
						continue
					}
					p, settled, err := l.PreparePayment(models.Payment{From: from, To: to, Amount: owed, Currency: "USD"})
					if err != nil {
						// Whole shares rarely add up to the full pair balance.
						require.ErrorIs(t, err, models.ErrValidation)
						continue
					}
					_, err = l.CommitPayment(p)
					require.NoError(t, err)
					agg.Settle(settled)
				}
			}

			full, err := Recompute(l.All())
			require.NoError(t, err)
			assert.True(t, agg.Equal(full), "incremental state diverged from recompute")
			require.NoError(t, agg.Check())

			for _, u := range users {
				for _, c := range currencies {
					b, err := agg.Net(u, c)
					require.NoError(t, err)
					assert.Equal(t, b.Lent-b.Owed, b.Net)
				}
			}
		})
	}
}

func randomExpense(rng *rand.Rand, users, currencies []string) models.Expense {
	amount := int64(rng.IntN(10000) + 1)
	e := models.Expense{
		Amount:   amount,
		Currency: currencies[rng.IntN(len(currencies))],
		PaidBy:   users[rng.IntN(len(users))],
	}
	if rng.IntN(2) == 0 {
		e.GroupID = "g"
	}
	if rng.IntN(3) == 0 {
		e.SplitEqually = true
		for _, i := range rng.Perm(len(users))[:rng.IntN(len(users))+1] {
			e.Shares = append(e.Shares, models.ExpenseShare{UserID: users[i]})
		}
		return e
	}
	e.Shares = randomShares(rng, users, amount)
	return e
}

func randomShares(rng *rand.Rand, users []string, amount int64) []models.ExpenseShare {
	perm := rng.Perm(len(users))[:rng.IntN(len(users))+1]
	shares := make([]models.ExpenseShare, len(perm))
	remaining := amount
	for i, idx := range perm {
		shares[i].UserID = users[idx]
		if i == len(perm)-1 {
			shares[i].Amount = remaining
			break
		}
		part := rng.Int64N(remaining + 1)
		shares[i].Amount = part
		remaining -= part
	}
	return shares
}
