package consent

import (
	"context"
	"errors"
	"testing"

	"github.com/enoki-chat/backend/internal/model/chat"
)

type fakeConsentAPI struct {
	remote      *bool
	statusErr   error
	updateErr   error
	statusCalls int
	updates     []bool
}

func (f *fakeConsentAPI) Status(context.Context) (*bool, error) {
	f.statusCalls++
	return f.remote, f.statusErr
}

func (f *fakeConsentAPI) Update(_ context.Context, consent bool) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, consent)
	return nil
}

type fakeTranscripts struct {
	resetID  string
	resetErr error
	resets   int
	has      bool
	nonEmpty int
}

func (f *fakeTranscripts) Reset(context.Context) (string, error) {
	f.resets++
	return f.resetID, f.resetErr
}

func (f *fakeTranscripts) HasMessages(context.Context) (bool, error) {
	return f.has, nil
}

func (f *fakeTranscripts) NonEmptySessions(context.Context) (int, error) {
	return f.nonEmpty, nil
}

func boolPtr(v bool) *bool { return &v }

func TestLoadMapsRemoteValue(t *testing.T) {
	tests := []struct {
		name   string
		remote *bool
		want   chat.ConsentStatus
	}{
		{"no choice recorded", nil, chat.ConsentUnset},
		{"consented", boolPtr(true), chat.ConsentSecure},
		{"declined", boolPtr(false), chat.ConsentAnonymous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeConsentAPI{remote: tt.remote}
			ctl := NewController(api, &fakeTranscripts{})

			got, err := ctl.Load(context.Background())
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Load = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadFetchesOnce(t *testing.T) {
	api := &fakeConsentAPI{remote: boolPtr(false)}
	ctl := NewController(api, &fakeTranscripts{})

	ctx := context.Background()
	if _, err := ctl.Load(ctx); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, err := ctl.Load(ctx); err != nil {
		t.Fatalf("second Load error: %v", err)
	}
	if api.statusCalls != 1 {
		t.Errorf("collaborator fetched %d times, want 1", api.statusCalls)
	}
}

func TestLoadFailureLeavesUnloaded(t *testing.T) {
	api := &fakeConsentAPI{statusErr: errors.New("down")}
	ctl := NewController(api, &fakeTranscripts{})

	if _, err := ctl.Load(context.Background()); err == nil {
		t.Fatal("Load succeeded against a failing collaborator")
	}

	api.statusErr = nil
	api.remote = boolPtr(true)
	got, err := ctl.Load(context.Background())
	if err != nil {
		t.Fatalf("retried Load error: %v", err)
	}
	if got != chat.ConsentSecure {
		t.Errorf("retried Load = %v, want Secure", got)
	}
}

func TestSetStatusRejectsUnsetTarget(t *testing.T) {
	ctl := NewController(&fakeConsentAPI{}, &fakeTranscripts{})
	if _, err := ctl.SetStatus(context.Background(), chat.ConsentUnset, false); err == nil {
		t.Error("transition back to unset accepted")
	}
}

func TestChooseAnonymousResetsStore(t *testing.T) {
	api := &fakeConsentAPI{}
	store := &fakeTranscripts{resetID: "anon-1-fresh"}
	ctl := NewController(api, store)

	result, err := ctl.SetStatus(context.Background(), chat.ConsentAnonymous, false)
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if result.Status != chat.ConsentAnonymous {
		t.Errorf("result status = %v, want Anonymous", result.Status)
	}
	if result.NewAnonymousSessionID != "anon-1-fresh" {
		t.Errorf("NewAnonymousSessionID = %q, want the reset session", result.NewAnonymousSessionID)
	}
	if store.resets != 1 {
		t.Errorf("store reset %d times, want 1", store.resets)
	}
	if len(api.updates) != 1 || api.updates[0] {
		t.Errorf("collaborator updates = %v, want one false", api.updates)
	}
}

func TestReaffirmAnonymousKeepsTranscripts(t *testing.T) {
	api := &fakeConsentAPI{remote: boolPtr(false)}
	store := &fakeTranscripts{resetID: "anon-2-fresh"}
	ctl := NewController(api, store)

	ctx := context.Background()
	if _, err := ctl.Load(ctx); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	result, err := ctl.SetStatus(ctx, chat.ConsentAnonymous, true)
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if result.Status != chat.ConsentAnonymous {
		t.Errorf("result status = %v, want Anonymous", result.Status)
	}
	if store.resets != 0 {
		t.Errorf("store reset %d times on Anonymous->Anonymous, want 0", store.resets)
	}
	if result.NewAnonymousSessionID != "" {
		t.Errorf("NewAnonymousSessionID = %q, want empty", result.NewAnonymousSessionID)
	}
}

func TestDowngradeFromSecureResetsStore(t *testing.T) {
	api := &fakeConsentAPI{remote: boolPtr(true)}
	store := &fakeTranscripts{resetID: "anon-3-fresh"}
	ctl := NewController(api, store)

	ctx := context.Background()
	if _, err := ctl.Load(ctx); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	result, err := ctl.SetStatus(ctx, chat.ConsentAnonymous, false)
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if store.resets != 1 {
		t.Errorf("store reset %d times on Secure->Anonymous, want 1", store.resets)
	}
	if result.NewAnonymousSessionID != "anon-3-fresh" {
		t.Errorf("NewAnonymousSessionID = %q, want the reset session", result.NewAnonymousSessionID)
	}
}

func TestUpgradeWithLocalMessagesNeedsMigration(t *testing.T) {
	api := &fakeConsentAPI{remote: boolPtr(false)}
	store := &fakeTranscripts{nonEmpty: 3}
	ctl := NewController(api, store)

	ctx := context.Background()
	if _, err := ctl.Load(ctx); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	_, err := ctl.SetStatus(ctx, chat.ConsentSecure, true)
	var required *chat.MigrationRequired
	if !errors.As(err, &required) {
		t.Fatalf("SetStatus error = %v, want MigrationRequired", err)
	}
	if required.PendingSessions != 3 {
		t.Errorf("PendingSessions = %d, want 3", required.PendingSessions)
	}
	if len(api.updates) != 0 {
		t.Error("consent written before migration resolved")
	}
	if ctl.Status() != chat.ConsentAnonymous {
		t.Errorf("status = %v, want unchanged Anonymous", ctl.Status())
	}
}

func TestUpgradeRequiresAuthentication(t *testing.T) {
	api := &fakeConsentAPI{remote: boolPtr(false), updateErr: chat.ErrAuthRequired}
	ctl := NewController(api, &fakeTranscripts{})

	ctx := context.Background()
	if _, err := ctl.Load(ctx); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	_, err := ctl.SetStatus(ctx, chat.ConsentSecure, false)
	if !errors.Is(err, chat.ErrAuthRequired) {
		t.Fatalf("SetStatus error = %v, want ErrAuthRequired", err)
	}
	if ctl.Status() != chat.ConsentAnonymous {
		t.Errorf("status after auth failure = %v, want unchanged", ctl.Status())
	}
}

func TestPersistenceFailureLeavesStatus(t *testing.T) {
	api := &fakeConsentAPI{updateErr: errors.New("collaborator exploded")}
	ctl := NewController(api, &fakeTranscripts{})

	_, err := ctl.SetStatus(context.Background(), chat.ConsentSecure, false)
	if !errors.Is(err, chat.ErrPersistenceFailed) {
		t.Fatalf("SetStatus error = %v, want ErrPersistenceFailed", err)
	}
	if ctl.Status() != chat.ConsentUnset {
		t.Errorf("status after write failure = %v, want Unset", ctl.Status())
	}
}

func TestCleanUpgradeFlipsStatus(t *testing.T) {
	api := &fakeConsentAPI{remote: boolPtr(false)}
	store := &fakeTranscripts{}
	ctl := NewController(api, store)

	ctx := context.Background()
	if _, err := ctl.Load(ctx); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	result, err := ctl.SetStatus(ctx, chat.ConsentSecure, false)
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if result.Status != chat.ConsentSecure || ctl.Status() != chat.ConsentSecure {
		t.Errorf("status = %v / %v, want Secure", result.Status, ctl.Status())
	}
	if store.resets != 0 {
		t.Error("upgrade reset the anonymous store")
	}
	if len(api.updates) != 1 || !api.updates[0] {
		t.Errorf("collaborator updates = %v, want one true", api.updates)
	}
}
