package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fogmoe/fogchat/internal/fogchat/provider"
)

// stubProvider returns canned completions and records its calls.
type stubProvider struct {
	name  string
	calls []bool // withTools flag per call
	fn    func(call int, messages []provider.Message) (*provider.Completion, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(_ context.Context, messages []provider.Message, withTools bool) (*provider.Completion, error) {
	call := len(s.calls)
	s.calls = append(s.calls, withTools)
	return s.fn(call, messages)
}

func textProvider(name, text string) *stubProvider {
	return &stubProvider{name: name, fn: func(int, []provider.Message) (*provider.Completion, error) {
		return &provider.Completion{Text: text}, nil
	}}
}

func failingProvider(name string) *stubProvider {
	return &stubProvider{name: name, fn: func(int, []provider.Message) (*provider.Completion, error) {
		return nil, errors.New("upstream exploded")
	}}
}

// stubSearcher returns a fixed result and records queries.
type stubSearcher struct {
	queries []string
	result  string
	err     error
}

func (s *stubSearcher) Search(_ context.Context, query string) (string, error) {
	s.queries = append(s.queries, query)
	return s.result, s.err
}

func userMsg(content string) []provider.Message {
	return []provider.Message{{Role: provider.RoleUser, Content: content}}
}

func TestComplete_PrimarySucceeds(t *testing.T) {
	primary := textProvider("gemini", "primary answer")
	secondary := textProvider("azure", "secondary answer")
	g := provider.NewGateway([]provider.Provider{primary, secondary}, nil, nil)

	res := g.Complete(context.Background(), userMsg("hi"))
	if res.Failed {
		t.Fatal("Complete reported failure with a healthy primary")
	}
	if res.Text != "primary answer" || res.Provider != "gemini" {
		t.Errorf("got %q from %q, want primary answer from gemini", res.Text, res.Provider)
	}
	if len(secondary.calls) != 0 {
		t.Error("secondary was called although primary succeeded")
	}
}

func TestComplete_FallsBackToSecondary(t *testing.T) {
	primary := failingProvider("gemini")
	secondary := textProvider("azure", "secondary answer")
	g := provider.NewGateway([]provider.Provider{primary, secondary}, nil, nil)

	res := g.Complete(context.Background(), userMsg("hi"))
	if res.Failed {
		t.Fatal("Complete reported failure although the secondary succeeded")
	}
	if res.Text != "secondary answer" || res.Provider != "azure" {
		t.Errorf("got %q from %q, want secondary answer from azure", res.Text, res.Provider)
	}
	if len(primary.calls) != 1 {
		t.Errorf("primary called %d times, want exactly 1 (no retry loop)", len(primary.calls))
	}
}

func TestComplete_AllProvidersFail(t *testing.T) {
	g := provider.NewGateway([]provider.Provider{
		failingProvider("gemini"),
		failingProvider("azure"),
	}, nil, nil)

	res := g.Complete(context.Background(), userMsg("hi"))
	if !res.Failed {
		t.Fatal("Complete must mark total failure")
	}
	if res.Text != provider.MsgUnavailable {
		t.Errorf("got %q, want the fixed unavailable message", res.Text)
	}
	if res.Provider != "none" {
		t.Errorf("provider = %q, want none", res.Provider)
	}
}

func TestComplete_NoProvidersConfigured(t *testing.T) {
	g := provider.NewGateway(nil, nil, nil)

	res := g.Complete(context.Background(), userMsg("hi"))
	if !res.Failed {
		t.Fatal("unconfigured gateway must mark failure")
	}
	if res.Text != provider.MsgUnconfigured {
		t.Errorf("got %q, want the fixed unconfigured message", res.Text)
	}
}

func TestComplete_ToolRoundTrip(t *testing.T) {
	search := &stubSearcher{result: "1. Go 1.25 released"}
	p := &stubProvider{name: "gemini"}
	p.fn = func(call int, messages []provider.Message) (*provider.Completion, error) {
		if call == 0 {
			return &provider.Completion{ToolCalls: []provider.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: provider.FunctionCall{
					Name:      provider.WebSearchToolName,
					Arguments: `{"query":"go release"}`,
				},
			}}}, nil
		}
		// Second call must carry the tool result correlated by call id.
		last := messages[len(messages)-1]
		if last.Role != provider.RoleTool || last.ToolCallID != "call_1" {
			t.Errorf("second call last message = %+v, want tool result for call_1", last)
		}
		if last.Content != "1. Go 1.25 released" {
			t.Errorf("tool result content = %q", last.Content)
		}
		return &provider.Completion{Text: "Go 1.25 is out."}, nil
	}

	g := provider.NewGateway([]provider.Provider{p}, search, nil)
	res := g.Complete(context.Background(), userMsg("what's new in go?"))

	if res.Failed {
		t.Fatalf("Complete failed: %+v", res)
	}
	if res.Text != "Go 1.25 is out." {
		t.Errorf("final text = %q", res.Text)
	}
	if len(search.queries) != 1 || search.queries[0] != "go release" {
		t.Errorf("search queries = %v, want [go release]", search.queries)
	}
	if len(p.calls) != 2 {
		t.Fatalf("provider called %d times, want 2", len(p.calls))
	}
	if !p.calls[0] || p.calls[1] {
		t.Error("tools must be declared on the first call only")
	}
}

func TestComplete_InvalidToolArgumentsFailSoft(t *testing.T) {
	search := &stubSearcher{result: "unused"}
	p := &stubProvider{name: "gemini"}
	p.fn = func(call int, messages []provider.Message) (*provider.Completion, error) {
		if call == 0 {
			return &provider.Completion{ToolCalls: []provider.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: provider.FunctionCall{Name: provider.WebSearchToolName, Arguments: `{not json`},
			}}}, nil
		}
		last := messages[len(messages)-1]
		if last.Role != provider.RoleTool {
			t.Errorf("expected a synthesized tool result, got %+v", last)
		}
		return &provider.Completion{Text: "answered without search"}, nil
	}

	g := provider.NewGateway([]provider.Provider{p}, search, nil)
	res := g.Complete(context.Background(), userMsg("hi"))

	if res.Failed {
		t.Fatal("malformed tool arguments must not fail the turn")
	}
	if res.Text != "answered without search" {
		t.Errorf("final text = %q", res.Text)
	}
	if len(search.queries) != 0 {
		t.Errorf("search was invoked with invalid arguments: %v", search.queries)
	}
}

func TestComplete_ToolCallsIgnoredWithoutSearcher(t *testing.T) {
	p := textProvider("gemini", "plain answer")
	g := provider.NewGateway([]provider.Provider{p}, nil, nil)

	res := g.Complete(context.Background(), userMsg("hi"))
	if res.Failed || res.Text != "plain answer" {
		t.Errorf("got %+v, want plain answer", res)
	}
	if len(p.calls) != 1 || p.calls[0] {
		t.Error("tools must not be declared when no searcher is wired")
	}
}

func TestComplete_SanitizesResponse(t *testing.T) {
	p := textProvider("gemini", `hello <script>alert(1)</script><a href="javascript:x" onclick=bad()>link</a>`)
	g := provider.NewGateway([]provider.Provider{p}, nil, nil)

	res := g.Complete(context.Background(), userMsg("hi"))
	for _, banned := range []string{"<script", "javascript:", "onclick="} {
		if containsFold(res.Text, banned) {
			t.Errorf("sanitized text still contains %q: %q", banned, res.Text)
		}
	}
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			a, b := h[i+j], n[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
