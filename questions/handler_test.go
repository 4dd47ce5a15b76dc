package questions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"prepq-backend/ledger"
	"prepq-backend/llm"
)

type memStore struct {
	mu       sync.Mutex
	balances map[string]int
	debits   int
	fail     bool
}

func newMemStore(balances map[string]int) *memStore {
	if balances == nil {
		balances = map[string]int{}
	}
	return &memStore{balances: balances}
}

func (s *memStore) GetOrCreateAccount(ctx context.Context, ident string) (ledger.Account, error) {
	if s.fail {
		return ledger.Account{}, errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.Account{Identifier: ident, Balance: s.balances[ident], PlanTier: ledger.PlanFree}, nil
}

func (s *memStore) Debit(ctx context.Context, ident, feature string, cost int, description string) (int, error) {
	if s.fail {
		return 0, errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[ident]
	if bal < cost {
		return 0, &ledger.InsufficientCreditsError{Feature: feature, Cost: cost, Balance: bal, Shortfall: cost - bal}
	}
	s.balances[ident] = bal - cost
	s.debits++
	return bal - cost, nil
}

func (s *memStore) Credit(ctx context.Context, ident string, amount int, txType ledger.TxType, description, ref string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ident] += amount
	return s.balances[ident], nil
}

func (s *memStore) SetPlan(ctx context.Context, ident string, tier ledger.PlanTier, allotment int, expiresAt *time.Time) error {
	return nil
}

func (s *memStore) Transactions(ctx context.Context, ident string, limit int) ([]ledger.Transaction, error) {
	return nil, nil
}

func (s *memStore) balance(ident string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[ident]
}

type memSaver struct {
	mu    sync.Mutex
	saved [][]Question
	fail  bool
}

func (s *memSaver) Create(ctx context.Context, title string, qs []Question) (string, error) {
	if s.fail {
		return "", errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, qs)
	return fmt.Sprintf("sess-%d", len(s.saved)), nil
}

func (s *memSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func headerIdentity(c *gin.Context) (string, error) {
	if v := c.GetHeader("X-Test-User"); v != "" {
		return v, nil
	}
	return "", errors.New("no token")
}

func newTestRouter(provider llm.Provider, store ledger.Store, bypass bool, saver Saver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewPipeline(provider), ledger.NewGate(store, bypass), saver, headerIdentity)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any, user string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type generatedPayload struct {
	Data struct {
		SessionID string     `json:"session_id"`
		Title     string     `json:"title"`
		Stage     ParseStage `json:"stage"`
		Questions []Question `json:"questions"`
	} `json:"data"`
}

func TestGenerate_ok(t *testing.T) {
	provider := llm.NewMockProvider().AddResponse(canonicalBatch(t, 4))
	store := newMemStore(map[string]int{"u1": 10})
	saver := &memSaver{}
	r := newTestRouter(provider, store, false, saver)

	w := postJSON(t, r, "/questions/generate", map[string]any{"subject": "Geography", "count": 4}, "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Credits-Remaining"); got != "7" {
		t.Fatalf("X-Credits-Remaining=%q, want 7", got)
	}
	var resp generatedPayload
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Data.SessionID == "" {
		t.Fatalf("missing session_id")
	}
	if len(resp.Data.Questions) != 4 {
		t.Fatalf("questions=%d, want 4", len(resp.Data.Questions))
	}
	if resp.Data.Stage != StageStrictJSON {
		t.Fatalf("stage=%s", resp.Data.Stage)
	}
	if saver.count() != 1 {
		t.Fatalf("saved sessions=%d, want 1", saver.count())
	}
	if store.balance("u1") != 7 {
		t.Fatalf("balance=%d, want 7", store.balance("u1"))
	}
}

func TestGenerate_insufficientCredits(t *testing.T) {
	provider := llm.NewMockProvider().AddResponse(canonicalBatch(t, 1))
	store := newMemStore(map[string]int{"u1": 2})
	saver := &memSaver{}
	r := newTestRouter(provider, store, false, saver)

	w := postJSON(t, r, "/questions/generate", map[string]any{"count": 3}, "u1")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error     string `json:"error"`
		Cost      int    `json:"cost"`
		Balance   int    `json:"balance"`
		Shortfall int    `json:"shortfall"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Error != "insufficient_credits" {
		t.Fatalf("error=%s", resp.Error)
	}
	if resp.Cost != 3 || resp.Balance != 2 || resp.Shortfall != 1 {
		t.Fatalf("cost=%d balance=%d shortfall=%d, want 3/2/1", resp.Cost, resp.Balance, resp.Shortfall)
	}
	if provider.CallCount() != 0 {
		t.Fatalf("provider must not be called on a failed debit")
	}
	if saver.count() != 0 {
		t.Fatalf("nothing may be persisted on a failed debit")
	}
	if store.balance("u1") != 2 {
		t.Fatalf("balance mutated on failed debit: %d", store.balance("u1"))
	}
}

func TestGenerate_anonymousIsUnauthorized(t *testing.T) {
	provider := llm.NewMockProvider().AddResponse(canonicalBatch(t, 1))
	r := newTestRouter(provider, newMemStore(nil), false, &memSaver{})

	w := postJSON(t, r, "/questions/generate", map[string]any{"count": 1}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if provider.CallCount() != 0 {
		t.Fatalf("provider must not be called for anonymous callers")
	}
}

func TestGenerate_upstreamFailureAfterDebit(t *testing.T) {
	boom := &llm.UpstreamError{Provider: "mock", Status: 503, Err: errors.New("overloaded")}
	provider := llm.NewMockProvider().AddError(boom)
	store := newMemStore(map[string]int{"u1": 10})
	saver := &memSaver{}
	r := newTestRouter(provider, store, false, saver)

	w := postJSON(t, r, "/questions/generate", map[string]any{"count": 2}, "u1")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	// Debit precedes the call and is not refunded.
	if store.balance("u1") != 7 {
		t.Fatalf("balance=%d, want 7", store.balance("u1"))
	}
	if saver.count() != 0 {
		t.Fatalf("nothing may be persisted from a failed run")
	}
}

func TestGenerate_unparsableResponseIs422(t *testing.T) {
	provider := llm.NewMockProvider().AddResponse("Sorry, I had trouble with that.")
	store := newMemStore(map[string]int{"u1": 10})
	r := newTestRouter(provider, store, false, &memSaver{})

	w := postJSON(t, r, "/questions/generate", map[string]any{"count": 2}, "u1")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Error != "unparsable_response" {
		t.Fatalf("error=%s", resp.Error)
	}
}

func TestGenerate_saveFailureIs500(t *testing.T) {
	provider := llm.NewMockProvider().AddResponse(canonicalBatch(t, 2))
	store := newMemStore(map[string]int{"u1": 10})
	r := newTestRouter(provider, store, false, &memSaver{fail: true})

	w := postJSON(t, r, "/questions/generate", map[string]any{"count": 2}, "u1")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Error != "persistence_failure" {
		t.Fatalf("error=%s", resp.Error)
	}
}

func TestGenerate_bypassSkipsLedger(t *testing.T) {
	provider := llm.NewMockProvider().AddResponse(canonicalBatch(t, 1))
	store := newMemStore(nil)
	store.fail = true // a reachable ledger must not even be required
	r := newTestRouter(provider, store, true, &memSaver{})

	w := postJSON(t, r, "/questions/generate", map[string]any{"count": 1}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 under bypass, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Credits-Remaining"); got != "" {
		t.Fatalf("bypass must not advertise a balance, got %q", got)
	}
	if store.debits != 0 {
		t.Fatalf("bypass must not touch the store")
	}
}

func TestGenerate_malformedBody(t *testing.T) {
	r := newTestRouter(llm.NewMockProvider(), newMemStore(nil), false, &memSaver{})
	req := httptest.NewRequest(http.MethodPost, "/questions/generate", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGeneratePDF_missingFile(t *testing.T) {
	r := newTestRouter(llm.NewMockProvider(), newMemStore(map[string]int{"u1": 10}), false, &memSaver{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("count", "5")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/questions/generate-pdf", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGeneratePDF_unreadableFileChargesNothing(t *testing.T) {
	provider := llm.NewMockProvider().AddResponse(canonicalBatch(t, 1))
	store := newMemStore(map[string]int{"u1": 10})
	r := newTestRouter(provider, store, false, &memSaver{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "broken.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("this is not a pdf"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/questions/generate-pdf", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if store.balance("u1") != 10 {
		t.Fatalf("unreadable upload must not charge, balance=%d", store.balance("u1"))
	}
	if provider.CallCount() != 0 {
		t.Fatalf("provider must not be called for unreadable uploads")
	}
}
