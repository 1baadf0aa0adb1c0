package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fogmoe/fogchat/internal/fogchat/metrics"
)

// Fixed user-facing messages. Raw upstream errors never reach the client.
const (
	// MsgUnavailable is returned when every configured provider failed.
	MsgUnavailable = "抱歉，AI服务暂时不可用，请稍后再试。"
	// MsgUnconfigured is returned when no provider is configured at all.
	MsgUnconfigured = "抱歉，AI服务尚未配置，请联系管理员。"
	// MsgUnexpected is returned when a provider answered with empty content.
	MsgUnexpected = "抱歉，出现异常，请稍后再试"

	// msgInvalidSearchArgs is fed back to the model when it produced
	// unusable tool arguments.
	msgInvalidSearchArgs = "搜索参数无效，请换一种方式提问或直接回答。"
)

// Searcher executes the web_search tool against the external search
// collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Result is the outcome of a Complete call. Failed marks total provider
// failure (or a missing configuration); the Text then carries a fixed
// apologetic message suitable for direct display.
type Result struct {
	Text     string
	Provider string
	Failed   bool
	// NotConfigured distinguishes "no provider set up" from runtime failure.
	NotConfigured bool
}

// Gateway fans a completion request across an ordered provider list.
//
// Fallback policy: one attempt per provider, in order, no backoff in
// between. A provider that returns a tool call gets exactly one tool round:
// the search result is appended as a role-"tool" message and the second call
// carries no tool declarations, so chains cannot recurse.
type Gateway struct {
	providers []Provider
	search    Searcher
	logger    *slog.Logger
}

// NewGateway builds a gateway over the given providers, ordered by
// preference. search may be nil, which disables tool declarations entirely.
// If logger is nil, slog.Default() is used.
func NewGateway(providers []Provider, search Searcher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{providers: providers, search: search, logger: logger}
}

// Complete runs the completion across the provider list and returns a
// sanitized result. It never returns an error: total failure is reported in
// the Result so callers can hand the text straight to the client.
func (g *Gateway) Complete(ctx context.Context, messages []Message) *Result {
	if len(g.providers) == 0 {
		g.logger.Info("no AI provider configured")
		return &Result{Text: MsgUnconfigured, Provider: "none", Failed: true, NotConfigured: true}
	}

	withTools := g.search != nil

	for _, p := range g.providers {
		comp, err := p.Generate(ctx, messages, withTools)
		if err != nil {
			metrics.ProviderAttempts.WithLabelValues(p.Name(), "error").Inc()
			g.logger.Warn("provider call failed, falling back",
				"provider", p.Name(), "err", truncateErr(err))
			continue
		}
		metrics.ProviderAttempts.WithLabelValues(p.Name(), "ok").Inc()

		text := comp.Text
		if len(comp.ToolCalls) > 0 && withTools {
			text, err = g.runToolRound(ctx, p, messages, comp)
			if err != nil {
				metrics.ProviderAttempts.WithLabelValues(p.Name(), "error").Inc()
				g.logger.Warn("tool round failed",
					"provider", p.Name(), "err", truncateErr(err))
				return &Result{Text: MsgUnavailable, Provider: "none", Failed: true}
			}
		}

		if text == "" {
			text = MsgUnexpected
		}
		return &Result{Text: Sanitize(text), Provider: p.Name()}
	}

	g.logger.Error("all providers failed")
	return &Result{Text: MsgUnavailable, Provider: "none", Failed: true}
}

// runToolRound resolves the model's tool calls and issues the second
// completion call on the same provider, with tools disabled.
func (g *Gateway) runToolRound(ctx context.Context, p Provider, messages []Message, comp *Completion) (string, error) {
	augmented := make([]Message, 0, len(messages)+1+len(comp.ToolCalls))
	augmented = append(augmented, messages...)
	augmented = append(augmented, Message{
		Role:      RoleAssistant,
		Content:   comp.Text,
		ToolCalls: comp.ToolCalls,
	})

	for _, tc := range comp.ToolCalls {
		var result string
		switch tc.Function.Name {
		case WebSearchToolName:
			query, err := parseSearchArgs(tc.Function.Arguments)
			if err != nil {
				// Fail soft: tell the model its arguments were unusable
				// instead of aborting the whole turn.
				g.logger.Warn("invalid web_search arguments",
					"provider", p.Name(), "err", truncateErr(err))
				result = msgInvalidSearchArgs
			} else {
				g.logger.Info("executing web search", "query", query)
				result, err = g.search.Search(ctx, query)
				if err != nil {
					g.logger.Warn("web search failed", "err", truncateErr(err))
					result = fmt.Sprintf("搜索失败：%v", err)
				}
			}
		default:
			result = fmt.Sprintf("不支持的工具: %s", tc.Function.Name)
		}

		augmented = append(augmented, Message{
			Role:       RoleTool,
			Content:    result,
			ToolCallID: tc.ID,
		})
	}

	second, err := p.Generate(ctx, augmented, false)
	if err != nil {
		return "", err
	}
	if second.Text == "" {
		return MsgUnexpected, nil
	}
	return second.Text, nil
}

// truncateErr bounds error detail in log lines.
func truncateErr(err error) string {
	const max = 200
	s := err.Error()
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
