package ledger

import (
	"context"
	"errors"
	"log"

	"prepq-backend/metrics"
)

// Gate enforces "no paid feature executes without sufficient balance". It
// never trusts a previously fetched balance for the spend itself: the
// decision is re-made server-side inside the store's conditional update.
type Gate struct {
	store  Store
	bypass bool
}

// DebitResult reports the outcome of a successful debit. Bypassed is set
// when the gate is running with the bypass flag and nothing was charged.
type DebitResult struct {
	Balance  int
	Bypassed bool
}

// NewGate builds the feature gate. bypass comes from startup configuration
// only; the gate itself never inspects the environment.
func NewGate(store Store, bypass bool) *Gate {
	if bypass {
		log.Printf("[gate][init] credit_bypass=on all checks short-circuit")
	}
	return &Gate{store: store, bypass: bypass}
}

// Balance returns the caller's account, lazily creating it on first sight.
// An empty identifier is answered with a zero-balance free account rather
// than an error: "not entitled" is a state, not a failure.
func (g *Gate) Balance(ctx context.Context, ident string) (Account, error) {
	if ident == "" {
		return Account{PlanTier: PlanFree}, nil
	}
	a, err := g.store.GetOrCreateAccount(ctx, ident)
	if err != nil {
		log.Printf("[gate][error] op=balance ident=%s err=%v", ident, err)
		return Account{}, err
	}
	return a, nil
}

// HasSufficientCredits answers whether ident could afford feature right
// now. The bypass flag is checked before anything else so trusted local
// runs never pay for a network round trip. Unknown features and ledger
// failures both answer false: the gate fails closed.
func (g *Gate) HasSufficientCredits(ctx context.Context, ident, feature string) bool {
	if g.bypass {
		log.Printf("[gate][bypass] feature=%s op=check", feature)
		return true
	}
	cost, ok := Cost(feature)
	if !ok {
		log.Printf("[gate][deny] feature=%s reason=unknown_feature", feature)
		return false
	}
	if ident == "" {
		log.Printf("[gate][deny] feature=%s reason=not_authenticated", feature)
		return false
	}
	a, err := g.store.GetOrCreateAccount(ctx, ident)
	if err != nil {
		log.Printf("[gate][deny] feature=%s ident=%s reason=fetch_failed err=%v", feature, ident, err)
		return false
	}
	return a.Balance >= cost
}

// Debit spends the feature's cost from ident's account. A passing
// HasSufficientCredits beforehand buys nothing here: the conditional
// update decides again at the ledger, which is what keeps two devices on
// one account from driving the balance negative.
func (g *Gate) Debit(ctx context.Context, ident, feature, description string) (DebitResult, error) {
	if g.bypass {
		log.Printf("[gate][bypass] feature=%s op=debit", feature)
		metrics.Debits.WithLabelValues(feature, "bypass").Inc()
		return DebitResult{Bypassed: true}, nil
	}
	cost, ok := Cost(feature)
	if !ok {
		log.Printf("[gate][deny] feature=%s reason=unknown_feature", feature)
		return DebitResult{}, ErrUnknownFeature
	}
	if ident == "" {
		log.Printf("[gate][deny] feature=%s reason=not_authenticated", feature)
		metrics.Debits.WithLabelValues(feature, "unauthenticated").Inc()
		return DebitResult{}, ErrNotAuthenticated
	}

	balance, err := g.store.Debit(ctx, ident, feature, cost, description)
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		log.Printf("[gate][deny] feature=%s ident=%s reason=insufficient balance=%d shortfall=%d",
			feature, ident, ice.Balance, ice.Shortfall)
		metrics.Debits.WithLabelValues(feature, "insufficient").Inc()
		return DebitResult{Balance: ice.Balance}, err
	}
	if err != nil {
		log.Printf("[gate][error] op=debit feature=%s ident=%s err=%v", feature, ident, err)
		metrics.Debits.WithLabelValues(feature, "error").Inc()
		return DebitResult{}, err
	}
	log.Printf("[gate][debit] feature=%s ident=%s cost=%d balance_after=%d", feature, ident, cost, balance)
	metrics.Debits.WithLabelValues(feature, "ok").Inc()
	return DebitResult{Balance: balance}, nil
}

// Credit adds credits on behalf of billing. Not bypass-sensitive: grants
// are always recorded.
func (g *Gate) Credit(ctx context.Context, ident string, amount int, txType TxType, description, ref string) (int, error) {
	balance, err := g.store.Credit(ctx, ident, amount, txType, description, ref)
	if err != nil {
		log.Printf("[gate][error] op=credit ident=%s amount=%d err=%v", ident, amount, err)
		return 0, err
	}
	log.Printf("[gate][credit] ident=%s amount=%d type=%s balance_after=%d", ident, amount, txType, balance)
	return balance, nil
}
