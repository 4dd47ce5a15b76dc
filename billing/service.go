package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"prepq-backend/config"
	"prepq-backend/ledger"
)

var (
	// ErrDisabled means no Stripe key was configured; checkout endpoints
	// answer 503 while the rest of the app keeps working.
	ErrDisabled = errors.New("billing is not configured")
	// ErrBadSignature means the webhook payload failed verification.
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrBadPayload means the webhook body was not a decodable event.
	// Answered with 400 so Stripe does not redeliver garbage forever.
	ErrBadPayload = errors.New("undecodable webhook payload")
)

const (
	currency           = "inr"
	subscriptionPeriod = 30 * 24 * time.Hour
)

// Pack is a one-time credit purchase.
type Pack struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Credits int    `json:"credits"`
	Amount  int64  `json:"amount"` // minor currency units
}

var packs = map[string]Pack{
	"starter": {ID: "starter", Label: "Starter pack", Credits: 100, Amount: 9900},
	"value":   {ID: "value", Label: "Value pack", Credits: 250, Amount: 19900},
	"bulk":    {ID: "bulk", Label: "Bulk pack", Credits: 500, Amount: 34900},
}

var tierAmounts = map[ledger.PlanTier]int64{
	ledger.PlanBasic: 19900,
	ledger.PlanPro:   34900,
}

// Service creates checkout sessions and applies webhook events to the
// ledger. Without a Stripe key the checkout side is disabled but webhook
// processing still works, so local development can replay events.
type Service struct {
	sc            *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	gate          *ledger.Gate
	store         ledger.Store
}

func NewService(cfg config.Config, gate *ledger.Gate, store ledger.Store) *Service {
	s := &Service{
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.StripeSuccessURL,
		cancelURL:     cfg.StripeCancelURL,
		gate:          gate,
		store:         store,
	}
	if cfg.StripeKey != "" {
		sc := &client.API{}
		sc.Init(cfg.StripeKey, nil)
		s.sc = sc
	} else {
		log.Printf("[billing][init] stripe_key=missing checkout disabled")
	}
	return s
}

// Packs lists the purchasable credit packs.
func (s *Service) Packs() []Pack {
	out := []Pack{packs["starter"], packs["value"], packs["bulk"]}
	return out
}

// CheckoutPack opens a one-time payment session for a credit pack. The
// metadata carries everything the webhook needs to apply the grant.
func (s *Service) CheckoutPack(ctx context.Context, ident, packID string) (string, string, error) {
	pack, ok := packs[packID]
	if !ok {
		return "", "", fmt.Errorf("unknown pack %q", packID)
	}
	if s.sc == nil {
		return "", "", ErrDisabled
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(pack.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(pack.Label),
				},
			},
		}},
		Metadata: map[string]string{
			"identifier": ident,
			"kind":       "pack",
			"pack":       pack.ID,
		},
	}
	params.Context = ctx
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		log.Printf("[billing][checkout] kind=pack pack=%s err=%v", pack.ID, err)
		return "", "", err
	}
	log.Printf("[billing][checkout] kind=pack pack=%s ident=%s session=%s", pack.ID, ident, sess.ID)
	return sess.URL, sess.ID, nil
}

// CheckoutSubscription opens a recurring payment session for a plan tier.
func (s *Service) CheckoutSubscription(ctx context.Context, ident string, tier ledger.PlanTier) (string, string, error) {
	amount, ok := tierAmounts[tier]
	if !ok {
		return "", "", fmt.Errorf("unknown tier %q", tier)
	}
	if s.sc == nil {
		return "", "", ErrDisabled
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(string(tier) + " plan"),
				},
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String("month"),
				},
			},
		}},
		Metadata: map[string]string{
			"identifier": ident,
			"kind":       "subscription",
			"tier":       string(tier),
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"identifier": ident,
				"tier":       string(tier),
			},
		},
	}
	params.Context = ctx
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		log.Printf("[billing][checkout] kind=subscription tier=%s err=%v", tier, err)
		return "", "", err
	}
	log.Printf("[billing][checkout] kind=subscription tier=%s ident=%s session=%s", tier, ident, sess.ID)
	return sess.URL, sess.ID, nil
}

// ProcessWebhook verifies and applies one Stripe event. The event id is
// recorded as the transaction ref, which makes redelivered events no-ops
// at the ledger.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	var (
		eventID   string
		eventType string
		objRaw    []byte
	)
	if s.webhookSecret != "" {
		ev, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		eventID, eventType, objRaw = ev.ID, string(ev.Type), ev.Data.Raw
	} else {
		// No webhook secret: accept plain JSON so development setups can
		// replay events without a Stripe tunnel.
		var ev struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Data struct {
				Object json.RawMessage `json:"object"`
			} `json:"data"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		eventID, eventType, objRaw = ev.ID, ev.Type, ev.Data.Object
	}

	var obj struct {
		Metadata      map[string]string `json:"metadata"`
		CustomerEmail string            `json:"customer_email"`
	}
	if len(objRaw) > 0 {
		if err := json.Unmarshal(objRaw, &obj); err != nil {
			return "", fmt.Errorf("%w: object: %v", ErrBadPayload, err)
		}
	}

	switch eventType {
	case "checkout.session.completed":
		return s.applyCheckoutCompleted(ctx, eventID, obj.Metadata)
	case "invoice.payment_succeeded":
		return s.applyRenewal(ctx, eventID, identFrom(obj.Metadata, obj.CustomerEmail))
	case "customer.subscription.deleted":
		return s.applyCancellation(ctx, identFrom(obj.Metadata, obj.CustomerEmail))
	default:
		log.Printf("[billing][webhook] type=%s ignored", eventType)
		return "ignored", nil
	}
}

func identFrom(md map[string]string, email string) string {
	if v := md["identifier"]; v != "" {
		return v
	}
	return email
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, eventID string, md map[string]string) (string, error) {
	ident := md["identifier"]
	if ident == "" {
		return "", errors.New("checkout event missing identifier metadata")
	}
	switch md["kind"] {
	case "pack":
		pack, ok := packs[md["pack"]]
		if !ok {
			return "", fmt.Errorf("unknown pack %q in metadata", md["pack"])
		}
		if _, err := s.gate.Credit(ctx, ident, pack.Credits, ledger.TxPurchase, pack.Label, eventID); err != nil {
			return "", err
		}
		return "ok", nil
	case "subscription":
		tier := ledger.PlanTier(md["tier"])
		allot := ledger.RenewalCredits(tier)
		if allot == 0 {
			return "", fmt.Errorf("unknown tier %q in metadata", md["tier"])
		}
		exp := time.Now().UTC().Add(subscriptionPeriod)
		if err := s.store.SetPlan(ctx, ident, tier, allot, &exp); err != nil {
			return "", err
		}
		if _, err := s.gate.Credit(ctx, ident, allot, ledger.TxSubscriptionCredit, string(tier)+" subscription started", eventID); err != nil {
			return "", err
		}
		return "ok", nil
	default:
		return "", fmt.Errorf("unknown checkout kind %q", md["kind"])
	}
}

// applyRenewal grants the monthly allotment for the account's current tier
// and pushes the expiry forward one period.
func (s *Service) applyRenewal(ctx context.Context, eventID, ident string) (string, error) {
	if ident == "" {
		return "", errors.New("renewal event carries no identifier")
	}
	account, err := s.store.GetOrCreateAccount(ctx, ident)
	if err != nil {
		return "", err
	}
	grant := ledger.RenewalCredits(account.PlanTier)
	if grant == 0 {
		log.Printf("[billing][webhook] ident=%s tier=%s renewal for a free account ignored", ident, account.PlanTier)
		return "ignored", nil
	}
	exp := time.Now().UTC().Add(subscriptionPeriod)
	if err := s.store.SetPlan(ctx, ident, account.PlanTier, grant, &exp); err != nil {
		return "", err
	}
	if _, err := s.gate.Credit(ctx, ident, grant, ledger.TxSubscriptionCredit, "monthly renewal", eventID); err != nil {
		return "", err
	}
	return "ok", nil
}

// applyCancellation drops the account back to the free tier. Remaining
// credits are kept; only the renewal stops.
func (s *Service) applyCancellation(ctx context.Context, ident string) (string, error) {
	if ident == "" {
		return "", errors.New("cancellation event carries no identifier")
	}
	if err := s.store.SetPlan(ctx, ident, ledger.PlanFree, 0, nil); err != nil {
		return "", err
	}
	log.Printf("[billing][webhook] ident=%s plan cancelled credits kept", ident)
	return "ok", nil
}
