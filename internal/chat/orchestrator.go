package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/llm"
	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/internal/search/web"
	"github.com/smarthome-agent/backend/pkg/logger"
)

// Mode is the per-session conversation mode.
type Mode string

const (
	ModeNormal          Mode = "NORMAL"
	ModeTroubleshooting Mode = "TROUBLESHOOTING"
)

const (
	cmdTroubleshoot = "/troubleshoot"
	cmdNormal       = "/normal"

	maxToolRounds = 4
)

// troublePhrases flip a NORMAL session into troubleshooting before the
// message is processed.
var troublePhrases = []string{
	"not working",
	"randomly",
	"why is",
	"issue with",
	"problem with",
	"won't",
	"wont",
	"keeps",
}

// Citation points at a web source used while troubleshooting.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Reply is the orchestrator's answer to one message.
type Reply struct {
	Reply     string     `json:"reply"`
	Mode      Mode       `json:"mode"`
	Citations []Citation `json:"citations,omitempty"`
}

type chatClient interface {
	ChatWithTools(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

type webSearcher interface {
	Search(ctx context.Context, query string, cfg web.SearchConfig) ([]web.SearchResult, error)
}

// session state is guarded by its own mutex; concurrent messages for the
// same session id serialize so history stays a single coherent transcript.
type session struct {
	mu      sync.Mutex
	mode    Mode
	history []llm.ChatMessage
}

func newSession() *session {
	return &session{
		mode:    ModeNormal,
		history: []llm.ChatMessage{{Role: llm.RoleSystem, Content: normalSystemPrompt}},
	}
}

// setMode swaps the system prompt in history[0] and leaves the rest of the
// conversation intact.
func (s *session) setMode(mode Mode) {
	s.mode = mode
	prompt := normalSystemPrompt
	if mode == ModeTroubleshooting {
		prompt = troubleshootingSystemPrompt
	}
	s.history[0] = llm.ChatMessage{Role: llm.RoleSystem, Content: prompt}
}

// Orchestrator runs the chat loop: mode handling, optional web search
// augmentation, and the tool-call cycle against the model.
type Orchestrator struct {
	llm       chatClient
	tools     *Toolset
	web       webSearcher
	searchCfg web.SearchConfig

	mu       sync.Mutex
	sessions map[string]*session
}

// NewOrchestrator wires the orchestrator. web may be nil; troubleshooting
// then proceeds without search augmentation.
func NewOrchestrator(llmClient chatClient, tools *Toolset, webClient webSearcher) *Orchestrator {
	return &Orchestrator{
		llm:       llmClient,
		tools:     tools,
		web:       webClient,
		searchCfg: web.DefaultSearchConfig(),
		sessions:  make(map[string]*session),
	}
}

// SetSearchConfig overrides the default web search tuning. Zero fields keep
// their defaults. Call before serving traffic.
func (o *Orchestrator) SetSearchConfig(cfg web.SearchConfig) {
	if cfg.MaxResults > 0 {
		o.searchCfg.MaxResults = cfg.MaxResults
	}
	if cfg.ContextSize != "" {
		o.searchCfg.ContextSize = cfg.ContextSize
	}
	if cfg.QueryPrefix != "" {
		o.searchCfg.QueryPrefix = cfg.QueryPrefix
	}
}

// Mode reports the session's current mode. Unknown sessions are NORMAL.
func (o *Orchestrator) Mode(sessionID string) Mode {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return ModeNormal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode forces the session's mode, e.g. from the REST mode endpoint.
func (o *Orchestrator) SetMode(sessionID string, mode Mode) {
	o.mu.Lock()
	s := o.getSession(sessionID)
	o.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMode(mode)
}

// HandleMessage processes one user message and returns the assistant reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (*Reply, error) {
	o.mu.Lock()
	s := o.getSession(sessionID)
	o.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed := strings.TrimSpace(text)

	if reply, handled := o.handleCommand(s, trimmed); handled {
		return reply, nil
	}

	if s.mode == ModeNormal && containsTroublePhrase(trimmed) {
		s.setMode(ModeTroubleshooting)
		logger.Info("Auto-switched to troubleshooting mode", zap.String("session", sessionID))
	}

	userContent := trimmed
	var citations []Citation
	if s.mode == ModeTroubleshooting && o.web != nil {
		metrics.WebSearchTriggered.Inc()
		results, err := o.web.Search(ctx, trimmed, o.searchCfg)
		if err != nil {
			logger.Warn("Web search failed, continuing without it", zap.Error(err))
		} else if len(results) > 0 {
			userContent = augmentWithSearch(trimmed, results)
			for _, r := range results {
				citations = append(citations, Citation{Title: r.Title, URL: r.URL})
			}
		}
	}

	s.history = append(s.history, llm.ChatMessage{Role: llm.RoleUser, Content: userContent})

	content, err := o.runToolLoop(ctx, s)
	if err != nil {
		// The failed exchange is rolled back so a retry starts clean.
		s.history = s.history[:len(s.history)-1]
		return nil, err
	}

	s.history = append(s.history, llm.ChatMessage{Role: llm.RoleAssistant, Content: content})
	return &Reply{Reply: content, Mode: s.mode, Citations: citations}, nil
}

// handleCommand processes the explicit mode commands. Repeating the current
// mode's command replies without touching state.
func (o *Orchestrator) handleCommand(s *session, trimmed string) (*Reply, bool) {
	switch strings.ToLower(trimmed) {
	case cmdTroubleshoot:
		if s.mode == ModeTroubleshooting {
			return &Reply{Reply: "Already in troubleshooting mode.", Mode: s.mode}, true
		}
		s.setMode(ModeTroubleshooting)
		return &Reply{Reply: "Switched to troubleshooting mode. Describe the problem and I'll dig into it.", Mode: s.mode}, true
	case cmdNormal:
		if s.mode == ModeNormal {
			return &Reply{Reply: "Already in normal mode.", Mode: s.mode}, true
		}
		s.setMode(ModeNormal)
		return &Reply{Reply: "Switched to normal mode.", Mode: s.mode}, true
	}
	return nil, false
}

// runToolLoop calls the model, executes any requested tools, and repeats
// until the model answers in prose or the round budget runs out.
func (o *Orchestrator) runToolLoop(ctx context.Context, s *session) (string, error) {
	messages := append([]llm.ChatMessage(nil), s.history...)

	for round := 0; round <= maxToolRounds; round++ {
		resp, err := o.llm.ChatWithTools(ctx, llm.ChatRequest{
			Messages: messages,
			Tools:    o.tools.Definitions(),
		})
		if err != nil {
			return "", fmt.Errorf("chat completion failed: %w", err)
		}
		if resp.Finished {
			return resp.Content, nil
		}

		messages = append(messages, llm.ChatMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, err := o.tools.Dispatch(ctx, call)
			if err != nil {
				metrics.ToolCalls.WithLabelValues(call.Name, "error").Inc()
				logger.Warn("Tool call failed",
					zap.String("tool", call.Name), zap.Error(err))
				result = fmt.Sprintf(`{"error": %q}`, err.Error())
			} else {
				metrics.ToolCalls.WithLabelValues(call.Name, "success").Inc()
			}
			messages = append(messages, llm.ChatMessage{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}
	return "", fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

func (o *Orchestrator) getSession(sessionID string) *session {
	s, ok := o.sessions[sessionID]
	if !ok {
		s = newSession()
		o.sessions[sessionID] = s
	}
	return s
}

func containsTroublePhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range troublePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// augmentWithSearch appends the search findings to the user message so the
// model can cite them.
func augmentWithSearch(text string, results []web.SearchResult) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nWeb search findings:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
