// Package ai is an optional in-process reply backend for single-binary
// deployments: it implements the chat collaborator contract with an Ark
// chat model behind an eino chain. Emotion classification stays
// external, so responses never carry emotion labels from here.
package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/enoki-chat/backend/internal/collab"
	"github.com/enoki-chat/backend/internal/config"
	"github.com/enoki-chat/backend/internal/middleware"
)

const (
	historyLimit = 10
	summaryLimit = 200

	// Summary cadence: every user message for the first few exchanges,
	// then every third one.
	summaryWarmup = 6
	summaryStride = 3
)

// tabState is the rolling conversation memory of one tab.
type tabState struct {
	history   []*schema.Message
	userTurns []string
	exchanges int
	summary   string
}

// Service generates replies with a configured chat model.
type Service struct {
	cfg   config.AIConfig
	chain compose.Runnable[map[string]any, *schema.Message]

	mu   sync.Mutex
	tabs map[string]*tabState
}

// NewService compiles the reply chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		cfg:   cfg,
		chain: runnable,
		tabs:  make(map[string]*tabState),
	}, nil
}

// Send implements collab.ChatAPI. A short rolling history per tab keeps
// replies coherent; durable continuity belongs to the session
// collaborator, not to this backend.
func (s *Service) Send(ctx context.Context, req collab.SendRequest) (*collab.SendResponse, error) {
	tabID := middleware.TabID(ctx)

	input := map[string]any{
		"system":  s.buildSystemPrompt(req.Tone, req.Language),
		"history": s.history(tabID),
		"query":   req.Text,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run reply chain: %w", err)
	}

	summary := s.remember(tabID, req.Text, response.Content)
	log.Printf("[ai] generated reply for tab=%s, length=%d", tabID, len(response.Content))

	return &collab.SendResponse{Reply: response.Content, Summary: summary}, nil
}

func (s *Service) buildSystemPrompt(tone, language string) string {
	var builder strings.Builder
	builder.WriteString(s.cfg.SystemPrompt)
	if tone != "" {
		builder.WriteString(fmt.Sprintf("\nAdopt a %s tone.", tone))
	}
	if language != "" {
		builder.WriteString(fmt.Sprintf("\nRespond in language %q.", language))
	}
	return builder.String()
}

func (s *Service) history(tabID string) []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.tabs[tabID]
	if state == nil || len(state.history) == 0 {
		return nil
	}
	return append([]*schema.Message(nil), state.history...)
}

// remember records one exchange and returns the running summary, updated
// on the cadence or carried over unchanged between updates.
func (s *Service) remember(tabID, userText, reply string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.tabs[tabID]
	if state == nil {
		state = &tabState{}
		s.tabs[tabID] = state
	}

	state.history = append(state.history,
		schema.UserMessage(userText),
		schema.AssistantMessage(reply, nil),
	)
	if len(state.history) > historyLimit {
		state.history = state.history[len(state.history)-historyLimit:]
	}

	state.userTurns = append(state.userTurns, userText)
	state.exchanges++
	if state.exchanges <= summaryWarmup || state.exchanges%summaryStride == 0 {
		state.summary = condense(state.userTurns)
	}
	return state.summary
}

// condense builds a cheap extractive summary from the user's turns. No
// model call: the backend's summary is advisory display text, not a
// durable record.
func condense(turns []string) string {
	joined := strings.Join(turns, "; ")
	runes := []rune(joined)
	if len(runes) <= summaryLimit {
		return joined
	}
	return string(runes[len(runes)-summaryLimit:])
}

// Forget drops the rolling state of one tab.
func (s *Service) Forget(tabID string) {
	s.mu.Lock()
	delete(s.tabs, tabID)
	s.mu.Unlock()
}
