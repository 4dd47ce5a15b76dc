package ledger

import "time"

// PlanTier identifies a subscription level. The tier decides the monthly
// credit allotment granted on renewal.
type PlanTier string

const (
	PlanFree  PlanTier = "free"
	PlanBasic PlanTier = "basic"
	PlanPro   PlanTier = "pro"
)

// RenewalCredits returns the credits granted per renewal cycle for a tier.
func RenewalCredits(tier PlanTier) int {
	switch tier {
	case PlanBasic:
		return 200
	case PlanPro:
		return 400
	default:
		return 0
	}
}

// TxType classifies ledger entries.
type TxType string

const (
	TxUsage              TxType = "usage"
	TxPurchase           TxType = "purchase"
	TxSubscriptionCredit TxType = "subscription_credit"
)

// Account is the authoritative credit record for one user. Balance never
// goes negative; the conditional debit statement enforces that, not the
// callers.
type Account struct {
	ID               int64      `json:"-"`
	Identifier       string     `json:"identifier"`
	Balance          int        `json:"balance"`
	PlanTier         PlanTier   `json:"plan_tier"`
	MonthlyAllotment int        `json:"monthly_allotment"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// Transaction is an append-only ledger entry. BalanceAfter equals the
// account balance immediately after Delta was applied, so the sequence of
// entries for one account forms a verifiable running total.
type Transaction struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"account_id"`
	Type         TxType    `json:"type"`
	Delta        int       `json:"delta"`
	BalanceAfter int       `json:"balance_after"`
	Feature      string    `json:"feature,omitempty"`
	Description  string    `json:"description,omitempty"`
	Ref          string    `json:"ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Gated feature names. Every metered endpoint debits one of these.
const (
	FeatureSummary         = "summary"
	FeatureMindMap         = "mind_map"
	FeatureMCQGenerator    = "mcq_generator"
	FeaturePDFMCQ          = "pdf_mcq"
	FeatureEssayEvaluation = "essay_evaluation"
)

// featureCosts is the static price list. Immutable at runtime.
var featureCosts = map[string]int{
	FeatureSummary:         1,
	FeatureMindMap:         2,
	FeatureMCQGenerator:    3,
	FeaturePDFMCQ:          5,
	FeatureEssayEvaluation: 3,
}

// Cost looks up the credit price of a feature.
func Cost(feature string) (int, bool) {
	c, ok := featureCosts[feature]
	return c, ok
}
