package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/safedom/internal/aicontext"
	"github.com/raaihank/safedom/internal/audit"
	"github.com/raaihank/safedom/internal/config"
	"github.com/raaihank/safedom/internal/logger"
	"github.com/raaihank/safedom/internal/privacy"
	"github.com/raaihank/safedom/internal/vault"
)

type spyRecorder struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *spyRecorder) Record(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *spyRecorder) Close() error { return nil }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *vault.MemoryStore, *spyRecorder) {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	store := vault.NewMemoryStore(0)
	recorder := &spyRecorder{}
	s, err := New(cfg, logger.NewNop(), WithStore(store), WithRecorder(recorder))
	require.NoError(t, err)
	return s, store, recorder
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const page = `
<div id="root">
	<p data-ai="include" data-ai-label="subject">Account issue</p>
	<p data-ai="redact:email phone" data-ai-label="body">
		Reach me at test@example.com or +1 555-123-4567.
	</p>
	<div data-ai="exclude"><p data-ai="include" data-ai-label="hidden">Secret</p></div>
</div>`

func TestContextAndReinject(t *testing.T) {
	s, store, recorder := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/context", map[string]interface{}{
		"html":     page,
		"selector": "#root",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp contextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Account issue", resp.Fields["subject"])
	assert.Equal(t, "Reach me at __EMAIL_1__ or __PHONE_2__.", resp.Fields["body"])
	assert.Equal(t, "Account issue\n\nReach me at __EMAIL_1__ or __PHONE_2__.", resp.RawText)
	assert.Equal(t, 2, resp.RedactionsCount)
	assert.Equal(t, []string{"email", "phone"}, resp.Types)
	assert.Equal(t, []string{"__EMAIL_1__", "__PHONE_2__"}, resp.Placeholders)
	assert.Empty(t, resp.Redactions)
	assert.NotContains(t, rec.Body.String(), "test@example.com")
	require.NotEmpty(t, resp.SessionID)

	stored, err := store.Load(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, audit.SourceContext, recorder.entries[0].Source)
	assert.Equal(t, 2, recorder.entries[0].RedactionCount)

	rec = do(t, s, http.MethodPost, "/v1/reinject", map[string]interface{}{
		"text":       "I will email __EMAIL_1__, call __PHONE_2__ and ignore __SSN_9__.",
		"session_id": resp.SessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var re reinjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &re))
	assert.Equal(t, "I will email test@example.com, call +1 555-123-4567 and ignore __SSN_9__.", re.Text)
	assert.Equal(t, []string{"__SSN_9__"}, re.UnknownPlaceholders)
}

func TestContextOptions(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	t.Run("ReturnRedactions", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/context", map[string]interface{}{
			"html": page, "selector": "#root", "return_redactions": true, "session_id": "fixed",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp contextResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "fixed", resp.SessionID)
		require.Len(t, resp.Redactions, 2)
		assert.Equal(t, "test@example.com", resp.Redactions[0].Original)
	})

	t.Run("Values", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/context", map[string]interface{}{
			"html":     `<form id="root"><textarea data-ai="redact:email" data-ai-label="msg"></textarea></form>`,
			"selector": "#root",
			"values":   map[string]string{"textarea": "mail a@b.com"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp contextResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "mail __EMAIL_1__", resp.Fields["msg"])
	})

	t.Run("Unlabeled", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/context", map[string]interface{}{
			"html":         `<div id="root">General notice <span data-ai="include">Included</span></div>`,
			"selector":     "#root",
			"labeled_only": false,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp contextResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Included\n\nGeneral notice", resp.RawText)
	})

	t.Run("Countries", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/context", map[string]interface{}{
			"html":      `<div id="root"><p data-ai="redact:" data-ai-label="p">NL91ABNA0417164300</p></div>`,
			"selector":  "#root",
			"countries": []string{"nl"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp contextResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "__IBAN_NL_1__", resp.Fields["p"])
	})
}

func TestContextErrors(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"MissingHTML", map[string]interface{}{"selector": "#root"}, http.StatusBadRequest},
		{"UnknownField", map[string]interface{}{"html": page, "bogus": 1}, http.StatusBadRequest},
		{"RootNotFound", map[string]interface{}{"html": page, "selector": "#nope"}, http.StatusNotFound},
		{"BadRegion", map[string]interface{}{"html": page, "region": "mars"}, http.StatusBadRequest},
		{"BadCountry", map[string]interface{}{"html": page, "countries": []string{"xx"}}, http.StatusBadRequest},
		{"BadValueSelector", map[string]interface{}{"html": page, "values": map[string]string{"#nope": "x"}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/context", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRedact(t *testing.T) {
	s, store, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/redact", map[string]interface{}{
		"text":          "Reach me at test@example.com or +1 555-123-4567",
		"start_counter": 5,
		"session_id":    "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp redactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Reach me at __EMAIL_5__ or __PHONE_6__", resp.Text)
	require.Len(t, resp.Redactions, 2)

	stored, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, resp.Redactions, stored)

	rec = do(t, s, http.MethodPost, "/v1/redact", map[string]interface{}{
		"text":  "a@b.com 123-45-6789",
		"types": []string{"ssn"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a@b.com __SSN_1__", resp.Text)
}

func TestSessionReuseAcrossEndpoints(t *testing.T) {
	s, store, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/context", map[string]interface{}{
		"html":       page,
		"selector":   "#root",
		"session_id": "sess",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ctxResp contextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctxResp))
	assert.Equal(t, []string{"__EMAIL_1__", "__PHONE_2__"}, ctxResp.Placeholders)

	rec = do(t, s, http.MethodPost, "/v1/redact", map[string]interface{}{
		"text":       "other x@y.com",
		"session_id": "sess",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var redactResp redactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &redactResp))
	assert.Equal(t, "other __EMAIL_3__", redactResp.Text)

	rec = do(t, s, http.MethodPost, "/v1/context", map[string]interface{}{
		"html":       `<div id="root"><p data-ai="redact:email" data-ai-label="p">z@w.org</p></div>`,
		"selector":   "#root",
		"session_id": "sess",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctxResp))
	assert.Equal(t, "__EMAIL_4__", ctxResp.Fields["p"])

	stored, err := store.Load(context.Background(), "sess")
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	rec = do(t, s, http.MethodPost, "/v1/reinject", map[string]interface{}{
		"text":       "reply __EMAIL_1__ __PHONE_2__ __EMAIL_3__ __EMAIL_4__",
		"session_id": "sess",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reinjectResp reinjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reinjectResp))
	assert.Equal(t, "reply test@example.com +1 555-123-4567 x@y.com z@w.org", reinjectResp.Text)
	assert.Empty(t, reinjectResp.UnknownPlaceholders)

	t.Run("ClashingStartCounter", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/redact", map[string]interface{}{
			"text":          "again q@r.io",
			"session_id":    "sess",
			"start_counter": 1,
		})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		stored, err := store.Load(context.Background(), "sess")
		require.NoError(t, err)
		assert.Len(t, stored, 4)
	})

	t.Run("MatchingStartCounter", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/redact", map[string]interface{}{
			"text":          "again x@y.com",
			"session_id":    "sess",
			"start_counter": 3,
		})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		stored, err := store.Load(context.Background(), "sess")
		require.NoError(t, err)
		assert.Len(t, stored, 4)
	})
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"NotFound", fmt.Errorf("build: %w", aicontext.ErrNotFound), http.StatusNotFound},
		{"Configuration", &privacy.ConfigurationError{RuleType: "x", Reason: "pattern is not set"}, http.StatusUnprocessableEntity},
		{"Other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errorStatus(tt.err))
		})
	}
}

func TestReinjectWithInlineRedactions(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/reinject", map[string]interface{}{
		"text": "Contact __EMAIL_1__",
		"redactions": []privacy.Redaction{
			{Placeholder: "__EMAIL_1__", Original: "$1 a@b.com", Type: "email"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp reinjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Contact $1 a@b.com", resp.Text)
	assert.Empty(t, resp.UnknownPlaceholders)

	rec = do(t, s, http.MethodPost, "/v1/reinject", map[string]interface{}{"text": "x", "session_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPlaceholders(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/placeholders/unknown", map[string]interface{}{
		"text":  "Value __EMAIL_1__ and __EMAIL_2__ and __EMAIL_2__",
		"known": []string{"__EMAIL_1__"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp unknownResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"__EMAIL_2__"}, resp.Unknown)
}

func TestRulesEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/v1/rules?country=de", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rules     []ruleInfo `json:"rules"`
		Countries []string   `json:"countries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Rules)
	assert.Equal(t, "iban-de", resp.Rules[0].Type)
	assert.True(t, resp.Rules[0].Validated)
	assert.Contains(t, resp.Countries, "nl")
}

func TestDeleteSession(t *testing.T) {
	s, store, _ := newTestServer(t, nil)
	require.NoError(t, store.Append(context.Background(), "gone", nil))

	rec := do(t, s, http.MethodDelete, "/v1/sessions/gone", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := store.Load(context.Background(), "gone")
	assert.ErrorIs(t, err, vault.ErrSessionNotFound)
}

func TestHealthAndInfo(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, s, http.MethodGet, "/info", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "safedom", info["name"])
	assert.Contains(t, info["rule_types"], "email")
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = 1
		cfg.RateLimit.Burst = 2
	})

	body := map[string]interface{}{"text": "hi", "known": []string{}}
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/placeholders/unknown", body).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/placeholders/unknown", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodPost, "/v1/placeholders/unknown", body).Code)

	// Health is outside the limited API
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
}

func TestUpdateConfig(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	cfg := config.GetDefaults()
	cfg.Privacy.GenericPhone = false
	require.NoError(t, s.UpdateConfig(cfg))

	rec := do(t, s, http.MethodPost, "/v1/redact", map[string]interface{}{"text": "+1 555-123-4567"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp redactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "+1 555-123-4567", resp.Text)

	bad := config.GetDefaults()
	bad.Privacy.ExtraRules = []privacy.RuleSpec{{Type: "x", Pattern: "("}}
	assert.Error(t, s.UpdateConfig(bad))
	assert.False(t, s.current().config.Privacy.GenericPhone)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(2 * time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 2, rl.Cleanup(time.Minute))
}
