package consent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/enoki-chat/backend/internal/middleware"
	chatmodel "github.com/enoki-chat/backend/internal/model/chat"
	"github.com/enoki-chat/backend/internal/store"
	"github.com/enoki-chat/backend/internal/tabs"
)

// fakeCollaborator implements the consent and session endpoints and
// records what was imported during migration.
type fakeCollaborator struct {
	mu       sync.Mutex
	consent  *bool
	sessions int
	imported map[string][]chatmodel.Message
}

func newFakeCollaborator(t *testing.T) (*fakeCollaborator, *httptest.Server) {
	t.Helper()

	f := &fakeCollaborator{imported: make(map[string][]chatmodel.Message)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/consent/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"consent_status": f.consent})
	})
	mux.HandleFunc("/api/consent", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Consent bool `json:"consent"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.consent = &payload.Consent
		f.mu.Unlock()
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/chat/new", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.sessions++
		id := fmt.Sprintf("srv-%d", f.sessions)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"session_id": id})
	})
	mux.HandleFunc("/api/chat/import", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			SessionID string              `json:"session_id"`
			Messages  []chatmodel.Message `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.imported[payload.SessionID] = payload.Messages
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int{"messages_saved": len(payload.Messages)})
	})
	mux.HandleFunc("/api/chat/clear", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return f, server
}

type fixture struct {
	collaborator *fakeCollaborator
	registry     *tabs.Registry
	router       http.Handler
	cookie       *http.Cookie
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	collaborator, server := newFakeCollaborator(t)
	registry := tabs.NewRegistry(tabs.Config{
		CollabBaseURL: server.URL,
		StoreDriver:   store.DriverTypeMemory,
		Cooldown:      5 * time.Second,
	})

	r := chi.NewRouter()
	r.Use(middleware.ResolveTab)
	r.Route("/api", func(api chi.Router) {
		New(registry).RegisterRoutes(api)
	})

	return &fixture{collaborator: collaborator, registry: registry, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if f.cookie == nil {
		for _, cookie := range w.Result().Cookies() {
			if cookie.Name == middleware.TabCookie {
				f.cookie = cookie
			}
		}
	}
	return w
}

// tab returns the registry tab behind the pinned cookie so tests can seed
// anonymous transcripts directly.
func (f *fixture) tab(t *testing.T) *tabs.Tab {
	t.Helper()
	if f.cookie == nil {
		f.do(t, http.MethodGet, "/api/consent", nil)
	}
	tab, err := f.registry.Get(f.cookie.Value)
	if err != nil {
		t.Fatalf("registry.Get error: %v", err)
	}
	return tab
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStatusStartsUnset(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/consent", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		ConsentStatus    string `json:"consent_status"`
		HasLocalMessages bool   `json:"has_local_messages"`
	}
	decodeBody(t, w, &body)
	if body.ConsentStatus != "unset" || body.HasLocalMessages {
		t.Errorf("body = %+v", body)
	}
}

func TestUpdateValidatesStatus(t *testing.T) {
	f := newFixture(t)

	for _, status := range []string{"", "unset", "bogus"} {
		w := f.do(t, http.MethodPost, "/api/consent", map[string]string{"status": status})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status %q response = %d, want 400", status, w.Code)
		}
	}
}

func TestUpgradeWithLocalDataRequiresMigration(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/consent", map[string]string{"status": "anonymous"}); w.Code != http.StatusOK {
		t.Fatalf("choose anonymous status = %d", w.Code)
	}

	tab := f.tab(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	id, err := tab.Chat.CurrentSessionID(ctx)
	if err != nil {
		t.Fatalf("CurrentSessionID error: %v", err)
	}
	if err := tab.Store.AppendMessage(ctx, id, chatmodel.SenderUser, "precious transcript"); err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/consent", map[string]string{"status": "secure"})
	if w.Code != http.StatusConflict {
		t.Fatalf("upgrade status = %d, want 409, body %s", w.Code, w.Body.String())
	}
	var body struct {
		MigrationRequired bool `json:"migration_required"`
		PendingSessions   int  `json:"pending_sessions"`
	}
	decodeBody(t, w, &body)
	if !body.MigrationRequired || body.PendingSessions != 1 {
		t.Errorf("body = %+v", body)
	}

	// Nothing moved, nothing lost.
	if has, _ := tab.Store.HasMessages(ctx); !has {
		t.Error("local transcript vanished after a refused upgrade")
	}
}

func TestMigrateMovesDataAndFlipsConsent(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/consent", map[string]string{"status": "anonymous"}); w.Code != http.StatusOK {
		t.Fatalf("choose anonymous status = %d", w.Code)
	}

	tab := f.tab(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	id, _ := tab.Chat.CurrentSessionID(ctx)
	for _, text := range []string{"first", "second"} {
		if err := tab.Store.AppendMessage(ctx, id, chatmodel.SenderUser, text); err != nil {
			t.Fatalf("AppendMessage error: %v", err)
		}
	}

	w := f.do(t, http.MethodPost, "/api/consent/migrate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("migrate status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		ConsentStatus string `json:"consent_status"`
		Outcomes      []struct {
			Outcome       string `json:"outcome"`
			MessagesSaved int    `json:"messages_saved"`
		} `json:"outcomes"`
	}
	decodeBody(t, w, &body)
	if body.ConsentStatus != "secure" {
		t.Errorf("consent after migrate = %q, want secure", body.ConsentStatus)
	}
	if len(body.Outcomes) != 1 || body.Outcomes[0].Outcome != "migrated" || body.Outcomes[0].MessagesSaved != 2 {
		t.Errorf("outcomes = %+v", body.Outcomes)
	}

	f.collaborator.mu.Lock()
	imported := f.collaborator.imported["srv-1"]
	f.collaborator.mu.Unlock()
	if len(imported) != 2 || imported[0].Text != "first" || imported[1].Text != "second" {
		t.Errorf("imported = %+v, want both turns in order", imported)
	}

	if has, _ := tab.Store.HasMessages(ctx); has {
		t.Error("anonymous store still holds messages after a complete migration")
	}
}

func TestDiscardSkipsMigration(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/consent", map[string]string{"status": "anonymous"}); w.Code != http.StatusOK {
		t.Fatalf("choose anonymous status = %d", w.Code)
	}

	tab := f.tab(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	id, _ := tab.Chat.CurrentSessionID(ctx)
	if err := tab.Store.AppendMessage(ctx, id, chatmodel.SenderUser, "disposable"); err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/consent/discard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("discard status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		ConsentStatus string `json:"consent_status"`
		SessionID     string `json:"session_id"`
	}
	decodeBody(t, w, &body)
	if body.ConsentStatus != "secure" || !chatmodel.IsAnonymousID(body.SessionID) {
		t.Errorf("body = %+v", body)
	}

	if f.collaborator.sessions != 0 {
		t.Error("discard created server sessions")
	}
	if has, _ := tab.Store.HasMessages(ctx); has {
		t.Error("anonymous transcript survived the discard")
	}
}
