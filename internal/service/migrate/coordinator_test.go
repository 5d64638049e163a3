package migrate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/enoki-chat/backend/internal/model/chat"
	"github.com/enoki-chat/backend/internal/service/consent"
	"github.com/enoki-chat/backend/internal/store"
)

type fakeConsentAPI struct {
	updates []bool
}

func (f *fakeConsentAPI) Status(context.Context) (*bool, error) {
	v := false
	return &v, nil
}

func (f *fakeConsentAPI) Update(_ context.Context, consent bool) error {
	f.updates = append(f.updates, consent)
	return nil
}

type fakeSessionAPI struct {
	nextID    int
	created   []string
	imported  map[string][]chat.Message
	importErr map[string]error
	cleared   int
}

func newFakeSessionAPI() *fakeSessionAPI {
	return &fakeSessionAPI{
		imported:  make(map[string][]chat.Message),
		importErr: make(map[string]error),
	}
}

func (f *fakeSessionAPI) NewSession(context.Context) (string, error) {
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeSessionAPI) SwitchSession(context.Context, string) error { return nil }

func (f *fakeSessionAPI) GetSession(context.Context, string) (*chat.ServerSession, error) {
	return nil, chat.ErrSessionNotFound
}

func (f *fakeSessionAPI) DeleteSession(context.Context, string) error { return nil }

func (f *fakeSessionAPI) History(context.Context) ([]chat.SessionSummary, error) {
	return nil, nil
}

func (f *fakeSessionAPI) ImportMessages(_ context.Context, sessionID string, messages []chat.Message) (int, error) {
	if err := f.importErr[sessionID]; err != nil {
		return 0, err
	}
	f.imported[sessionID] = messages
	return len(messages), nil
}

func (f *fakeSessionAPI) ClearAnonymousCache(context.Context) error {
	f.cleared++
	return nil
}

func newFixture(t *testing.T) (*Coordinator, *store.Store, *fakeSessionAPI, *fakeConsentAPI) {
	t.Helper()
	st := store.New(store.NewMemoryDriver())
	api := &fakeConsentAPI{}
	ctl := consent.NewController(api, st)
	if _, err := ctl.Load(context.Background()); err != nil {
		t.Fatalf("consent Load error: %v", err)
	}
	sessions := newFakeSessionAPI()
	return NewCoordinator(st, sessions, ctl), st, sessions, api
}

func TestMigrateMovesTranscriptsInOrder(t *testing.T) {
	ctx := context.Background()
	coordinator, st, sessions, api := newFixture(t)

	id, err := st.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	turns := []struct {
		sender chat.Sender
		text   string
	}{
		{chat.SenderUser, "how do I start"},
		{chat.SenderBot, "like this"},
		{chat.SenderUser, "thanks"},
	}
	for _, turn := range turns {
		if err := st.AppendMessage(ctx, id, turn.sender, turn.text); err != nil {
			t.Fatalf("AppendMessage error: %v", err)
		}
	}

	report, err := coordinator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Kind != OutcomeMigrated {
		t.Fatalf("outcomes = %+v, want one migrated", report.Outcomes)
	}
	if report.Outcomes[0].MessagesSaved != len(turns) {
		t.Errorf("MessagesSaved = %d, want %d", report.Outcomes[0].MessagesSaved, len(turns))
	}

	moved := sessions.imported[report.Outcomes[0].ServerSessionID]
	if len(moved) != len(turns) {
		t.Fatalf("imported %d messages, want %d", len(moved), len(turns))
	}
	for i, turn := range turns {
		if moved[i].Sender != turn.sender || moved[i].Text != turn.text {
			t.Errorf("imported[%d] = %s %q, want %s %q", i, moved[i].Sender, moved[i].Text, turn.sender, turn.text)
		}
	}

	remaining, _ := st.ListSessions(ctx)
	if len(remaining) != 0 {
		t.Errorf("store holds %d sessions after migration, want 0", len(remaining))
	}
	if len(api.updates) != 1 || !api.updates[0] {
		t.Errorf("consent updates = %v, want one true", api.updates)
	}
}

func TestMigrateSkipsEmptySessionsSilently(t *testing.T) {
	ctx := context.Background()
	coordinator, st, sessions, _ := newFixture(t)

	if _, err := st.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	report, err := coordinator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Kind != OutcomeSkippedEmpty {
		t.Fatalf("outcomes = %+v, want one skipped-empty", report.Outcomes)
	}
	if len(sessions.created) != 0 || len(sessions.imported) != 0 {
		t.Error("collaborator called for an empty session")
	}
}

func TestMigratePartialFailureKeepsData(t *testing.T) {
	ctx := context.Background()
	coordinator, st, sessions, api := newFixture(t)

	first, _ := st.CreateSession(ctx)
	if err := st.AppendMessage(ctx, first, chat.SenderUser, "survives"); err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}
	second, _ := st.CreateSession(ctx)
	if err := st.AppendMessage(ctx, second, chat.SenderUser, "also survives"); err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}

	// The second server session the fake hands out will refuse the import.
	sessions.importErr["srv-2"] = errors.New("quota exceeded")

	report, err := coordinator.Migrate(ctx)
	if !errors.Is(err, chat.ErrPersistenceFailed) {
		t.Fatalf("Migrate error = %v, want ErrPersistenceFailed", err)
	}
	if report == nil || report.Failed() != 1 {
		t.Fatalf("report = %+v, want exactly one failure", report)
	}

	remaining, _ := st.ListSessions(ctx)
	if len(remaining) != 2 {
		t.Errorf("store holds %d sessions after partial failure, want both kept", len(remaining))
	}
	if len(api.updates) != 0 {
		t.Error("consent flipped despite a failed session")
	}
}

func TestMigrateRejectsConcurrentRun(t *testing.T) {
	coordinator, _, _, _ := newFixture(t)

	if err := coordinator.acquire(); err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	defer coordinator.release()

	if _, err := coordinator.Migrate(context.Background()); !errors.Is(err, chat.ErrMigrationInFlight) {
		t.Errorf("Migrate while in flight error = %v, want ErrMigrationInFlight", err)
	}
	if _, err := coordinator.Discard(context.Background()); !errors.Is(err, chat.ErrMigrationInFlight) {
		t.Errorf("Discard while in flight error = %v, want ErrMigrationInFlight", err)
	}
}

func TestDiscardDropsDataAndFlipsConsent(t *testing.T) {
	ctx := context.Background()
	coordinator, st, sessions, api := newFixture(t)

	id, _ := st.CreateSession(ctx)
	if err := st.AppendMessage(ctx, id, chat.SenderUser, "never migrated"); err != nil {
		t.Fatalf("AppendMessage error: %v", err)
	}

	newID, err := coordinator.Discard(ctx)
	if err != nil {
		t.Fatalf("Discard error: %v", err)
	}
	if !chat.IsAnonymousID(newID) || newID == id {
		t.Errorf("Discard returned %q, want a fresh anonymous id", newID)
	}

	remaining, _ := st.ListSessions(ctx)
	if len(remaining) != 1 || len(remaining[0].Messages) != 0 {
		t.Errorf("store after Discard = %+v, want one empty session", remaining)
	}
	if len(sessions.created) != 0 {
		t.Error("Discard created server sessions")
	}
	if len(api.updates) != 1 || !api.updates[0] {
		t.Errorf("consent updates = %v, want one true", api.updates)
	}
}
