package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore implements Store in memory with the same conditional-debit
// semantics the SQL repository provides.
type fakeStore struct {
	mu       sync.Mutex
	balances map[string]int
	failing  bool
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{balances: map[string]int{}}
}

var errStoreDown = errors.New("ledger unreachable")

func (f *fakeStore) GetOrCreateAccount(ctx context.Context, ident string) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return Account{}, errStoreDown
	}
	if _, ok := f.balances[ident]; !ok {
		f.balances[ident] = 0
	}
	return Account{Identifier: ident, Balance: f.balances[ident], PlanTier: PlanFree}, nil
}

func (f *fakeStore) Debit(ctx context.Context, ident, feature string, cost int, description string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return 0, errStoreDown
	}
	balance := f.balances[ident]
	if balance < cost {
		return balance, &InsufficientCreditsError{Feature: feature, Cost: cost, Balance: balance, Shortfall: cost - balance}
	}
	f.balances[ident] = balance - cost
	return f.balances[ident], nil
}

func (f *fakeStore) Credit(ctx context.Context, ident string, amount int, txType TxType, description, ref string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return 0, errStoreDown
	}
	f.balances[ident] += amount
	return f.balances[ident], nil
}

func (f *fakeStore) SetPlan(ctx context.Context, ident string, tier PlanTier, allotment int, expiresAt *time.Time) error {
	return nil
}

func (f *fakeStore) Transactions(ctx context.Context, ident string, limit int) ([]Transaction, error) {
	return nil, nil
}

func TestGateBypassShortCircuitsBeforeStore(t *testing.T) {
	store := newFakeStore()
	store.failing = true // any store touch would error
	g := NewGate(store, true)

	if !g.HasSufficientCredits(context.Background(), "u1", "mcq_generator") {
		t.Fatalf("bypass gate denied a check")
	}
	res, err := g.Debit(context.Background(), "u1", "mcq_generator", "x")
	if err != nil {
		t.Fatalf("bypass debit: %v", err)
	}
	if !res.Bypassed {
		t.Fatalf("result = %+v, want Bypassed", res)
	}
	if store.calls != 0 {
		t.Fatalf("store touched %d times under bypass, want 0", store.calls)
	}
}

func TestGateFailsClosedWhenStoreUnreachable(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	g := NewGate(store, false)

	if g.HasSufficientCredits(context.Background(), "u1", "summary") {
		t.Fatalf("gate allowed a feature while the ledger was unreachable")
	}
	if _, err := g.Debit(context.Background(), "u1", "summary", ""); err == nil {
		t.Fatalf("debit succeeded while the ledger was unreachable")
	}
}

func TestGateRejectsMissingIdentity(t *testing.T) {
	g := NewGate(newFakeStore(), false)

	if g.HasSufficientCredits(context.Background(), "", "summary") {
		t.Fatalf("gate allowed an unauthenticated check")
	}
	_, err := g.Debit(context.Background(), "", "summary", "")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("debit error = %v, want ErrNotAuthenticated", err)
	}
}

func TestGateRejectsUnknownFeature(t *testing.T) {
	g := NewGate(newFakeStore(), false)

	if g.HasSufficientCredits(context.Background(), "u1", "teleport") {
		t.Fatalf("gate allowed an unknown feature")
	}
	_, err := g.Debit(context.Background(), "u1", "teleport", "")
	if !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("debit error = %v, want ErrUnknownFeature", err)
	}
}

func TestGateDebitCarriesShortfall(t *testing.T) {
	store := newFakeStore()
	store.balances["u1"] = 2
	g := NewGate(store, false)

	res, err := g.Debit(context.Background(), "u1", "mcq_generator", "quiz")
	var ice *InsufficientCreditsError
	if !errors.As(err, &ice) {
		t.Fatalf("debit error = %v, want *InsufficientCreditsError", err)
	}
	if ice.Shortfall != 1 || ice.Balance != 2 {
		t.Fatalf("error = %+v, want shortfall=1 balance=2", ice)
	}
	if res.Balance != 2 {
		t.Fatalf("result balance = %d, want 2", res.Balance)
	}
	if store.balances["u1"] != 2 {
		t.Fatalf("balance mutated to %d on rejected debit", store.balances["u1"])
	}
}

func TestGateBalanceForAnonymousIsFreeZero(t *testing.T) {
	g := NewGate(newFakeStore(), false)
	a, err := g.Balance(context.Background(), "")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if a.Balance != 0 || a.PlanTier != PlanFree {
		t.Fatalf("anonymous account = %+v, want free/0", a)
	}
}

func TestRenewalCreditsByTier(t *testing.T) {
	cases := []struct {
		tier PlanTier
		want int
	}{
		{PlanFree, 0},
		{PlanBasic, 200},
		{PlanPro, 400},
		{PlanTier("unknown"), 0},
	}
	for _, c := range cases {
		if got := RenewalCredits(c.tier); got != c.want {
			t.Errorf("RenewalCredits(%s) = %d, want %d", c.tier, got, c.want)
		}
	}
}

func TestFeatureCostTable(t *testing.T) {
	want := map[string]int{
		"summary":          1,
		"mind_map":         2,
		"mcq_generator":    3,
		"pdf_mcq":          5,
		"essay_evaluation": 3,
	}
	for feature, cost := range want {
		got, ok := Cost(feature)
		if !ok || got != cost {
			t.Errorf("Cost(%s) = %d,%v, want %d,true", feature, got, ok, cost)
		}
	}
	if _, ok := Cost("unknown"); ok {
		t.Errorf("Cost(unknown) reported a price")
	}
}
