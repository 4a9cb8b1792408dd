package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/fanzeco/auth-service/internal/auth"
	authhandler "github.com/fanzeco/auth-service/internal/auth/handler"
	"github.com/fanzeco/auth-service/internal/ratelimit"
	"github.com/fanzeco/auth-service/internal/security"
	"github.com/fanzeco/auth-service/internal/session"
	"github.com/fanzeco/auth-service/internal/user/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memUsers is a minimal in-memory user repository for router tests.
type memUsers struct {
	users  map[string]*domain.User
	access map[string][]domain.PlatformAccess
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User), access: make(map[string][]domain.PlatformAccess)}
}

func (r *memUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.users[id], nil
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUsers) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUsers) Create(ctx context.Context, u *domain.User, access []domain.PlatformAccess) error {
	r.users[u.ID] = u
	r.access[u.ID] = access
	return nil
}

func (r *memUsers) UpdateLastLogin(ctx context.Context, id string, at time.Time) error { return nil }

func (r *memUsers) UpsertPlatformAccess(ctx context.Context, userID string, access domain.PlatformAccess) error {
	r.access[userID] = append(r.access[userID], access)
	return nil
}

func (r *memUsers) ListPlatformAccess(ctx context.Context, userID string) ([]domain.PlatformAccess, error) {
	return r.access[userID], nil
}

func newTestRouter(t *testing.T, policy ratelimit.Policy, adminEnabled bool) (*gin.Engine, *ratelimit.Recorder) {
	t.Helper()
	tokens := security.NewTokenProvider([]byte("test-secret"), "fanz-auth", "fanz-ecosystem", 15*time.Minute, 24*time.Hour)
	svc := auth.NewService(
		newMemUsers(),
		session.NewMemoryStore(time.Hour),
		security.NewHasher(bcrypt.MinCost, 2),
		tokens,
		nil,
	)
	recorder := ratelimit.NewRecorder(nil)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	mw := ratelimit.NewMiddleware(
		limiter,
		ratelimit.NewBypassEvaluator(policy.Bypass),
		recorder,
		ratelimit.NewKeyGenerator(policy.HMACSecret),
		policy,
		nil,
		"fanz",
	)
	r := New(Deps{
		Auth:         authhandler.New(svc, nil),
		RateLimit:    mw,
		Recorder:     recorder,
		Limiter:      limiter,
		AdminEnabled: adminEnabled,
	})
	return r, recorder
}

func do(r *gin.Engine, method, path, ip, body string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = ip + ":40000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func registerUser(t *testing.T, r *gin.Engine, ip string) (accessToken, refreshToken string) {
	t.Helper()
	w := do(r, "POST", "/api/auth/register", ip,
		`{"username":"alice","email":"alice@example.com","password":"password1"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Tokens struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("register body: %v", err)
	}
	return resp.Tokens.AccessToken, resp.Tokens.RefreshToken
}

func TestRegisterValidateFlow(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.DefaultPolicy(), false)
	access, _ := registerUser(t, r, "10.0.0.1")

	w := do(r, "POST", "/api/auth/validate", "10.0.0.2", fmt.Sprintf(`{"token":%q}`, access), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: status %d", w.Code)
	}
	var resp struct {
		Valid bool `json:"valid"`
		User  struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Valid || resp.User.Username != "alice" {
		t.Errorf("validate body = %s", w.Body.String())
	}

	w = do(r, "POST", "/api/auth/validate", "10.0.0.2", `{"token":"garbage"}`, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"valid":false`) {
		t.Errorf("invalid token: status %d body %s", w.Code, w.Body.String())
	}
}

func TestLoginBruteForceLimited(t *testing.T) {
	policy := ratelimit.DefaultPolicy()
	r, _ := newTestRouter(t, policy, false)
	// Registration already counted once against alice's account key.
	registerUser(t, r, "10.9.9.9")

	// Two wrong attempts bring the per-account window (default 3) to its cap.
	for i := 0; i < 2; i++ {
		w := do(r, "POST", "/api/auth/login", fmt.Sprintf("10.0.1.%d", i+1),
			`{"email":"alice@example.com","password":"wrongpass1"}`, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d: %s", i+1, w.Code, w.Body.String())
		}
	}

	// The next attempt is blocked even with the right password and a fresh
	// IP: the account dimension counts attempts, not failures.
	w := do(r, "POST", "/api/auth/login", "10.0.1.50",
		`{"email":"alice@example.com","password":"password1"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over-cap attempt: status %d, want 429", w.Code)
	}
	var body struct {
		Code     string `json:"code"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != ratelimit.ErrorCode || body.Category != "sensitive" {
		t.Errorf("429 body = %s", w.Body.String())
	}

	// A different account from a fresh IP is unaffected.
	w = do(r, "POST", "/api/auth/login", "10.0.2.1",
		`{"email":"bob@example.com","password":"password1"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("other account: status %d, want plain 401", w.Code)
	}
}

func TestLoginPerIPLimit(t *testing.T) {
	policy := ratelimit.DefaultPolicy()
	r, _ := newTestRouter(t, policy, false)

	// Distinct target accounts keep the account counters below their cap, so
	// the IP cap (default 5) is what trips.
	for i := 0; i < 5; i++ {
		w := do(r, "POST", "/api/auth/login", "10.0.0.1",
			fmt.Sprintf(`{"email":"victim%d@example.com","password":"guess123"}`, i), nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i+1, w.Code)
		}
	}
	w := do(r, "POST", "/api/auth/login", "10.0.0.1",
		`{"email":"victim99@example.com","password":"guess123"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("attempt 6: status %d, want 429", w.Code)
	}
}

func TestRefreshFloodLimited(t *testing.T) {
	policy := ratelimit.DefaultPolicy()
	r, _ := newTestRouter(t, policy, false)
	_, refresh := registerUser(t, r, "10.9.9.9")

	// The token-category IP cap is 30 per minute. Invalid refresh bodies all
	// count; the 31st call from one IP is throttled.
	status := 0
	for i := 0; i < 31; i++ {
		w := do(r, "POST", "/api/auth/refresh", "10.0.0.1", `{"refreshToken":"garbage"}`, nil)
		status = w.Code
		if i < 30 && status != http.StatusUnauthorized {
			t.Fatalf("call %d: status %d", i+1, status)
		}
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("call 31: status %d, want 429", status)
	}

	// Another IP still refreshes fine.
	w := do(r, "POST", "/api/auth/refresh", "10.0.0.2", fmt.Sprintf(`{"refreshToken":%q}`, refresh), nil)
	if w.Code != http.StatusOK {
		t.Errorf("valid refresh from fresh IP: status %d: %s", w.Code, w.Body.String())
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.DefaultPolicy(), false)
	for _, hdr := range []map[string]string{
		nil,
		{"Authorization": "Bearer garbage"},
	} {
		w := do(r, "POST", "/api/auth/logout", "10.0.0.1", "", hdr)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
			t.Errorf("logout: status %d body %s", w.Code, w.Body.String())
		}
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	r, rec := newTestRouter(t, ratelimit.DefaultPolicy(), false)

	w := do(r, "GET", "/health", "10.0.0.1", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/health: status %d", w.Code)
	}

	rec.RecordExceeded(ratelimit.Event{Category: ratelimit.CategorySensitive, Endpoint: "auth.login", IP: "10.0.*.*"})

	w = do(r, "GET", "/metrics", "10.0.0.1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics: status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("/metrics content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), `fanz_rate_limit_exceeded_total{category="sensitive"} 1`) {
		t.Errorf("/metrics body missing counter:\n%s", w.Body.String())
	}

	w = do(r, "GET", "/metrics?format=json", "10.0.0.1", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"exceededByCategory"`) {
		t.Errorf("/metrics?format=json: status %d body %s", w.Code, w.Body.String())
	}

	w = do(r, "GET", "/health/rate-limit", "10.0.0.1", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"healthy"`) {
		t.Errorf("/health/rate-limit: status %d body %s", w.Code, w.Body.String())
	}
}

func TestRateLimitHealthCritical(t *testing.T) {
	r, rec := newTestRouter(t, ratelimit.DefaultPolicy(), false)
	for i := 0; i < 501; i++ {
		rec.RecordExceeded(ratelimit.Event{Category: ratelimit.CategoryToken, Endpoint: "auth.refresh", IP: "10.0.*.*"})
	}
	w := do(r, "GET", "/health/rate-limit", "10.0.0.1", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("critical health: status %d, want 503", w.Code)
	}
}

func TestAdminResetEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.DefaultPolicy(), true)

	// Exhaust the account counter, reset it, and confirm quota is back.
	for i := 0; i < 3; i++ {
		do(r, "POST", "/api/auth/login", fmt.Sprintf("10.0.3.%d", i+1),
			`{"email":"alice@example.com","password":"wrongpass1"}`, nil)
	}
	w := do(r, "POST", "/api/auth/login", "10.0.3.50",
		`{"email":"alice@example.com","password":"wrongpass1"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("pre-reset: status %d, want 429", w.Code)
	}

	g := ratelimit.NewKeyGenerator(ratelimit.DefaultPolicy().HMACSecret)
	cctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	cctx.Request = httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"alice@example.com"}`))
	key := g.Account(cctx, "sensitive:")

	w = do(r, "POST", "/admin/rate-limit/reset", "10.0.3.60", fmt.Sprintf(`{"key":%q}`, key), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: status %d: %s", w.Code, w.Body.String())
	}

	w = do(r, "POST", "/api/auth/login", "10.0.3.70",
		`{"email":"alice@example.com","password":"wrongpass1"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("post-reset: status %d, want 401 again", w.Code)
	}
}

func TestAdminResetDisabled(t *testing.T) {
	r, _ := newTestRouter(t, ratelimit.DefaultPolicy(), false)
	w := do(r, "POST", "/admin/rate-limit/reset", "10.0.0.1", `{"key":"k"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("disabled admin route: status %d, want 404", w.Code)
	}
}
