// Package chat orchestrates a single conversational turn: validation, rate
// limiting, history assembly, coin quota, provider invocation, and
// persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fogmoe/fogchat/internal/fogchat/history"
	"github.com/fogmoe/fogchat/internal/fogchat/metrics"
	"github.com/fogmoe/fogchat/internal/fogchat/provider"
	"github.com/fogmoe/fogchat/internal/fogchat/store"
)

const (
	// DefaultMaxMessageChars bounds a single user message.
	DefaultMaxMessageChars = 8000

	// maxHistoryTurns is how many stored turns are replayed to the provider.
	maxHistoryTurns = 20

	systemPromptFormat = "你是由雾萌(FOGMOE)开发的AI助手，运行于 https://chat.fog.moe 。当前时间：%s"
	coinsPromptFormat  = "\n用户硬币数量: %d"
)

// ErrInvalidInput marks requests that fail validation. The HTTP layer maps
// it to a 400 response.
var ErrInvalidInput = errors.New("chat: invalid input")

// Gateway produces a completion for an assembled message sequence.
type Gateway interface {
	Complete(ctx context.Context, messages []provider.Message) *provider.Result
}

// History is the conversation log consumed by the orchestrator.
type History interface {
	Get(ctx context.Context, conversationID int64) (*history.Record, error)
	Append(ctx context.Context, conversationID int64, turns []history.Turn) error
}

// UserStore supplies identity and the coin balance.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	SpendCoins(ctx context.Context, userID, cost int64) (int64, error)
}

// Limiter throttles turns per session.
type Limiter interface {
	Allow(sessionID string) bool
	Record(sessionID string)
	RetryAfter(sessionID string) int
}

// TurnRequest is one incoming chat message.
type TurnRequest struct {
	// Message is the raw user input.
	Message string
	// SessionID keys the rate limiter. Required.
	SessionID string
	// UserID identifies an authenticated user; zero means anonymous, which
	// skips history persistence and the coin quota.
	UserID int64
	// ClientHistory is the browser-side transcript, used only when the
	// durable history cannot be read.
	ClientHistory []history.Turn
}

// TurnResult is the outcome of a turn. Exactly one of the refusal flags is
// set when Response carries a refusal rather than a model answer.
type TurnResult struct {
	Response  string
	Timestamp time.Time
	Provider  string

	Error        bool
	CoinShortage bool
	RateLimited  bool
	RetryAfter   int

	// UpdatedCoins is the balance after deduction; nil when no coins moved.
	UpdatedCoins *int64
}

// Config holds the orchestrator tunables.
type Config struct {
	// MaxMessageChars bounds the user message length in characters.
	MaxMessageChars int
	// Location renders the current time in the system prompt.
	Location *time.Location
}

// Orchestrator runs the chat-turn pipeline.
type Orchestrator struct {
	gateway Gateway
	hist    History
	users   UserStore
	limiter Limiter
	cfg     Config
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New wires an orchestrator. users may be nil when no database is attached,
// which turns every caller into an anonymous one. If logger is nil,
// slog.Default() is used.
func New(gateway Gateway, hist History, users UserStore, limiter Limiter, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = DefaultMaxMessageChars
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("Asia/Shanghai")
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateway: gateway,
		hist:    hist,
		users:   users,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Turn processes one chat message end to end.
//
// Refusals (rate limit, coin shortage, total provider failure) are reported
// in the TurnResult, not as errors; an error return means the request never
// got far enough to produce a displayable response.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		metrics.TurnsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	if req.SessionID == "" {
		metrics.TurnsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(message); n > o.cfg.MaxMessageChars {
		metrics.TurnsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: message too long (%d chars, limit %d)",
			ErrInvalidInput, n, o.cfg.MaxMessageChars)
	}

	// Connectivity probe: answered locally, never throttled, billed or
	// persisted.
	if strings.EqualFold(message, "ping") {
		return &TurnResult{Response: "pong", Timestamp: o.now(), Provider: "system"}, nil
	}

	if !o.limiter.Allow(req.SessionID) {
		metrics.TurnsTotal.WithLabelValues("rate_limited").Inc()
		metrics.RateLimitRejections.Inc()
		retryAfter := o.limiter.RetryAfter(req.SessionID)
		o.logger.Info("turn rate limited",
			"session_id", req.SessionID, "retry_after", retryAfter)
		return &TurnResult{
			Response:    fmt.Sprintf("请求过于频繁，请 %d 秒后再试。", retryAfter),
			Timestamp:   o.now(),
			RateLimited: true,
			RetryAfter:  retryAfter,
		}, nil
	}
	o.limiter.Record(req.SessionID)

	user, coinCost, shortage, err := o.checkQuota(ctx, req.UserID, message)
	if err != nil {
		return nil, err
	}
	if shortage {
		metrics.TurnsTotal.WithLabelValues("coin_shortage").Inc()
		return &TurnResult{
			Response:     "硬币不足，无法继续对话。",
			Timestamp:    o.now(),
			CoinShortage: true,
		}, nil
	}

	messages := o.assembleMessages(ctx, req, user, message)

	result := o.gateway.Complete(ctx, messages)
	if result.Failed {
		metrics.TurnsTotal.WithLabelValues("provider_error").Inc()
		return &TurnResult{
			Response:  result.Text,
			Timestamp: o.now(),
			Provider:  result.Provider,
			Error:     true,
		}, nil
	}

	res := &TurnResult{
		Response:  result.Text,
		Timestamp: o.now(),
		Provider:  result.Provider,
	}

	// Coins are deducted only after the provider produced an answer. A
	// concurrent turn may have drained the balance since the pre-check; the
	// user still gets this answer and the shortage surfaces on the next turn.
	if user != nil && coinCost > 0 {
		balance, spendErr := o.users.SpendCoins(ctx, user.ID, coinCost)
		switch {
		case errors.Is(spendErr, store.ErrInsufficientCoins):
			o.logger.Warn("balance drained between quota check and deduction",
				"user_id", user.ID, "cost", coinCost)
		case spendErr != nil:
			o.logger.Error("coin deduction failed",
				"user_id", user.ID, "cost", coinCost, "err", spendErr)
		default:
			res.UpdatedCoins = &balance
		}
	}

	o.persist(ctx, req, message, result.Text)

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

// checkQuota resolves the user and verifies the balance covers this turn.
// Anonymous callers pass through with no user and zero cost.
func (o *Orchestrator) checkQuota(ctx context.Context, userID int64, message string) (user *store.User, cost int64, shortage bool, err error) {
	if userID == 0 || o.users == nil {
		return nil, 0, false, nil
	}

	user, err = o.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		o.logger.Warn("authenticated user not found, treating as anonymous", "user_id", userID)
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("chat: load user %d: %w", userID, err)
	}

	cost = CoinCost(message)
	if user.Coins < cost {
		o.logger.Info("coin shortage",
			"user_id", userID, "balance", user.Coins, "cost", cost)
		return user, cost, true, nil
	}
	return user, cost, false, nil
}

// assembleMessages builds the provider message sequence: system prompt,
// replayed history, current user message. A failed history read degrades to
// the client-supplied transcript instead of failing the turn.
func (o *Orchestrator) assembleMessages(ctx context.Context, req TurnRequest, user *store.User, message string) []provider.Message {
	turns := req.ClientHistory
	if user != nil {
		rec, err := o.hist.Get(ctx, user.ID)
		if err != nil {
			o.logger.Error("history read failed, degrading to client transcript",
				"conversation_id", user.ID, "err", err)
		} else if rec != nil {
			turns = rec.Turns
		} else {
			turns = nil
		}
	}

	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}

	messages := make([]provider.Message, 0, len(turns)+2)
	messages = append(messages, provider.Message{
		Role:    provider.RoleSystem,
		Content: o.systemPrompt(user),
	})
	for _, t := range turns {
		role := t.Role
		if role != provider.RoleUser && role != provider.RoleAssistant {
			continue
		}
		content := t.Content
		if r := []rune(content); len(r) > o.cfg.MaxMessageChars {
			content = string(r[:o.cfg.MaxMessageChars])
		}
		messages = append(messages, provider.Message{Role: role, Content: content})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: message})
	return messages
}

// systemPrompt renders the fixed persona prompt with the current time and,
// for authenticated users, the coin balance.
func (o *Orchestrator) systemPrompt(user *store.User) string {
	prompt := fmt.Sprintf(systemPromptFormat,
		o.now().In(o.cfg.Location).Format("2006-01-02 15:04:05"))
	if user != nil {
		prompt += fmt.Sprintf(coinsPromptFormat, user.Coins)
	}
	return prompt
}

// persist appends the exchanged turns for authenticated users. Failures are
// logged and swallowed: the user already has the answer on screen.
func (o *Orchestrator) persist(ctx context.Context, req TurnRequest, message, response string) {
	if req.UserID == 0 || o.hist == nil {
		return
	}
	if isTestProbe(message) {
		return
	}

	now := o.now().UTC()
	err := o.hist.Append(ctx, req.UserID, []history.Turn{
		{Role: provider.RoleUser, Content: message, CreatedAt: now},
		{Role: provider.RoleAssistant, Content: response, CreatedAt: now},
	})
	if err != nil {
		o.logger.Error("history persist failed",
			"conversation_id", req.UserID, "err", err)
	}
}

// isTestProbe reports whether the message is a throwaway connectivity or
// smoke-test message that should not enter durable history. The history
// layer filters ping/pong on its own; "test"/"测试" are chat-level probes.
func isTestProbe(message string) bool {
	c := strings.ToLower(strings.TrimSpace(message))
	return c == "test" || c == "测试" || history.IsProbe(c)
}

// CoinCost prices a message by its length in characters.
func CoinCost(message string) int64 {
	switch n := utf8.RuneCountInString(message); {
	case n <= 300:
		return 1
	case n <= 600:
		return 2
	default:
		return 3
	}
}
