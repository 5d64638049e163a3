// Package tabs manages per-tab runtime state. Each browser tab is one
// logical actor: its own volatile store, consent cache, rate limiter and
// dispatcher. Idle tabs are evicted, which is the server-side analog of
// the browsing session ending.
package tabs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enoki-chat/backend/internal/collab"
	"github.com/enoki-chat/backend/internal/ratelimit"
	chatservice "github.com/enoki-chat/backend/internal/service/chat"
	"github.com/enoki-chat/backend/internal/service/consent"
	"github.com/enoki-chat/backend/internal/service/history"
	"github.com/enoki-chat/backend/internal/service/migrate"
	"github.com/enoki-chat/backend/internal/store"
)

// Tab bundles one tab's services.
type Tab struct {
	ID       string
	Store    *store.Store
	Consent  *consent.Controller
	Limiter  *ratelimit.Limiter
	Migrator *migrate.Coordinator
	Chat     *chatservice.Service

	hub      *hub
	driver   store.Driver
	lastSeen time.Time
}

// Subscribe attaches a UI event listener to this tab.
func (t *Tab) Subscribe() (<-chan Event, func()) {
	return t.hub.Subscribe()
}

func (t *Tab) close(ctx context.Context) {
	t.Limiter.Stop()
	t.hub.Close()
	if err := t.Store.Clear(ctx); err != nil {
		log.Printf("[tabs] clearing store for evicted tab %s: %v", t.ID, err)
	}
	if err := t.driver.Close(); err != nil {
		log.Printf("[tabs] closing driver for tab %s: %v", t.ID, err)
	}
}

// Config carries everything needed to build a tab's service graph.
type Config struct {
	CollabBaseURL string
	CSRFToken     string
	StoreDriver   store.DriverType
	RedisClient   *redis.Client
	TabTTL        time.Duration
	Cooldown      time.Duration

	// ReplyBackend overrides the chat collaborator, e.g. with the
	// in-process model backend. Nil means the HTTP collaborator.
	ReplyBackend collab.ChatAPI
}

// Registry creates tabs on demand and evicts idle ones.
type Registry struct {
	mu   sync.Mutex
	tabs map[string]*Tab
	cfg  Config
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.TabTTL <= 0 {
		cfg.TabTTL = 2 * time.Hour
	}
	return &Registry{tabs: make(map[string]*Tab), cfg: cfg}
}

// Get returns the tab for id, building its service graph on first use.
func (r *Registry) Get(id string) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tab, ok := r.tabs[id]; ok {
		tab.lastSeen = time.Now()
		return tab, nil
	}

	driver, err := store.NewDriver(r.cfg.StoreDriver,
		store.WithRedisClient(r.cfg.RedisClient),
		store.WithTabID(id),
		store.WithTTL(r.cfg.TabTTL),
	)
	if err != nil {
		return nil, err
	}

	st := store.New(driver)
	client := collab.NewClient(r.cfg.CollabBaseURL, r.cfg.CSRFToken, id)

	var chatAPI collab.ChatAPI = client
	if r.cfg.ReplyBackend != nil {
		chatAPI = r.cfg.ReplyBackend
	}

	consentCtl := consent.NewController(client, st)
	limiter := ratelimit.New(r.cfg.Cooldown)
	aggregator := history.NewAggregator(st, client, consentCtl)
	dispatcher := chatservice.NewService(consentCtl, limiter, st, chatAPI, client, aggregator)

	tab := &Tab{
		ID:       id,
		Store:    st,
		Consent:  consentCtl,
		Limiter:  limiter,
		Migrator: migrate.NewCoordinator(st, client, consentCtl),
		Chat:     dispatcher,
		hub:      newHub(),
		driver:   driver,
		lastSeen: time.Now(),
	}

	limiter.SetCallbacks(
		func(remaining time.Duration) {
			tab.hub.Broadcast(Event{Type: EventCooldown, RemainingSeconds: remaining.Seconds()})
		},
		func() {
			tab.hub.Broadcast(Event{Type: EventReady})
		},
	)
	dispatcher.SetHistoryChanged(func() {
		tab.hub.Broadcast(Event{Type: EventHistory})
	})

	r.tabs[id] = tab
	log.Printf("[tabs] tab %s created (driver=%s)", id, r.cfg.StoreDriver)
	return tab, nil
}

// Run evicts idle tabs until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle(ctx)
		}
	}
}

func (r *Registry) evictIdle(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.TabTTL)

	r.mu.Lock()
	var evicted []*Tab
	for id, tab := range r.tabs {
		if tab.lastSeen.Before(cutoff) {
			delete(r.tabs, id)
			evicted = append(evicted, tab)
		}
	}
	r.mu.Unlock()

	for _, tab := range evicted {
		tab.close(ctx)
		log.Printf("[tabs] tab %s evicted after idle timeout", tab.ID)
	}
}

// Len reports how many tabs are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}
