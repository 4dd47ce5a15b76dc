package ledger

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated means no user could be identified. Gates fail closed
// on it: a caller without an identity is "not entitled", never "trusted".
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrUnknownFeature means the feature name has no entry in the cost table.
var ErrUnknownFeature = errors.New("unknown feature")

// InsufficientCreditsError reports a rejected debit. The account was not
// mutated. Shortfall is how many credits were missing at decision time.
type InsufficientCreditsError struct {
	Feature   string
	Cost      int
	Balance   int
	Shortfall int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: cost %d, balance %d, short %d",
		e.Feature, e.Cost, e.Balance, e.Shortfall)
}
