// Package history persists per-conversation chat logs with a read-through
// TTL cache.
//
// Persistence follows "latest record per conversation" semantics: appending
// updates the newest chat_records row in place until the accumulated content
// crosses the character ceiling, at which point the old record is discarded
// and replaced by only the new turns (reset on overflow, not a sliding
// truncation). Connectivity probes (ping/pong) are filtered on both the read
// and the write path so they never appear in stored or returned history.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fogmoe/fogchat/common/retry"
	"github.com/fogmoe/fogchat/internal/fogchat/metrics"
	"github.com/fogmoe/fogchat/internal/fogchat/store"
)

const (
	// DefaultCharCeiling is the hard limit on the summed content length of a
	// conversation before the record is reset.
	DefaultCharCeiling = 800_000

	// DefaultCacheTTL is how long a cached snapshot stays valid.
	DefaultCacheTTL = time.Minute

	// defaultSweepEvery is how often expired cache entries are removed.
	defaultSweepEvery = 5 * time.Minute
)

// Turn is one user or assistant message. Immutable once stored.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Record is the full turn sequence of one conversation.
type Record struct {
	Turns       []Turn
	LastWriteAt time.Time
}

// Config holds the tunables of the history store.
type Config struct {
	// CharCeiling is the total character limit before reset-on-overflow.
	CharCeiling int
	// CacheTTL bounds how long a cached snapshot may serve reads.
	CacheTTL time.Duration
	// SweepEvery is the period of the background cache sweep.
	SweepEvery time.Duration
}

// Store is the durable conversation log.
//
// Appends for the same conversation are serialized with a per-conversation
// mutex: the load-merge-write sequence is not atomic at the database level,
// and two browser tabs of the same user racing each other would otherwise
// lose one of the updates.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	cfg    Config
	cache  *snapshotCache
	locks  keyedMutex
	retry  retry.Config

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore creates a history store on top of db. Zero Config fields fall
// back to the defaults. If logger is nil, slog.Default() is used.
func NewStore(db *sql.DB, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CharCeiling <= 0 {
		cfg.CharCeiling = DefaultCharCeiling
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = defaultSweepEvery
	}
	return &Store{
		db:     db,
		logger: logger,
		cfg:    cfg,
		cache:  newSnapshotCache(cfg.CacheTTL),
		retry: retry.Config{
			MaxAttempts: 3,
			Delay:       time.Second,
			ShouldRetry: store.IsTransient,
		},
		stop: make(chan struct{}),
	}
}

// Start launches the periodic cache sweep.
func (s *Store) Start() {
	go func() {
		ticker := time.NewTicker(s.cfg.SweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cache.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the cache sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// IsProbe reports whether content is a connectivity probe (ping/pong after
// trimming and lowercasing). Probes are excluded from persisted history.
func IsProbe(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	return c == "ping" || c == "pong"
}

// Get returns the latest record for the conversation, or nil when none
// exists. Reads are served from the cache while the TTL holds; the returned
// record is always a copy, never the cached slice itself.
func (s *Store) Get(ctx context.Context, conversationID int64) (*Record, error) {
	if rec, ok := s.cache.get(conversationID); ok {
		metrics.HistoryCacheHits.Inc()
		s.logger.Debug("history served from cache", "conversation_id", conversationID)
		return rec, nil
	}
	metrics.HistoryCacheMisses.Inc()

	rec, _, err := s.loadLatest(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	s.cache.set(conversationID, rec.Turns, rec.LastWriteAt)
	s.logger.Debug("history loaded",
		"conversation_id", conversationID, "turns", len(rec.Turns))
	return rec, nil
}

// Append adds turns to the conversation. Probe turns and turns with empty
// content are dropped first; when nothing survives the filter, Append is a
// no-op. If the merged content exceeds the ceiling, the prior sequence is
// discarded and the record restarts with only the new turns.
func (s *Store) Append(ctx context.Context, conversationID int64, turns []Turn) error {
	kept := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Content == "" || IsProbe(t.Content) {
			continue
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return nil
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	// Invalidate before touching the database so a concurrent reader cannot
	// race a stale snapshot past the write.
	s.cache.invalidate(conversationID)

	existing, rowID, err := s.loadLatest(ctx, conversationID)
	if err != nil {
		return err
	}

	var merged []Turn
	if existing != nil {
		merged = append(merged, existing.Turns...)
	}
	merged = append(merged, kept...)

	total := totalChars(merged)
	if total > s.cfg.CharCeiling {
		// Reset on overflow: drop everything accumulated so far and keep
		// only the turns from this append.
		s.logger.Warn("history over character ceiling, resetting record",
			"conversation_id", conversationID,
			"total_chars", total, "ceiling", s.cfg.CharCeiling)
		if err := s.deleteAll(ctx, conversationID); err != nil {
			return err
		}
		merged = kept
		rowID = 0
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("history: marshal turns: %w", err)
	}

	if rowID != 0 {
		err = retry.Do(ctx, s.retry, func() error {
			_, execErr := s.db.ExecContext(ctx, `
				UPDATE chat_records
				SET messages = ?, timestamp = CURRENT_TIMESTAMP
				WHERE id = ?`, string(payload), rowID)
			return execErr
		})
	} else {
		err = retry.Do(ctx, s.retry, func() error {
			_, execErr := s.db.ExecContext(ctx, `
				INSERT INTO chat_records (conversation_id, messages)
				VALUES (?, ?)`, conversationID, string(payload))
			return execErr
		})
	}
	if err != nil {
		return fmt.Errorf("history: write record for conversation %d: %w", conversationID, err)
	}

	now := time.Now().UTC()
	s.cache.set(conversationID, merged, now)
	s.logger.Info("history appended",
		"conversation_id", conversationID,
		"new_turns", len(kept), "total_turns", len(merged))
	return nil
}

// Clear deletes all persisted records for the conversation and reports
// whether any row was actually removed, so callers can tell "nothing to
// delete" apart from a real deletion.
func (s *Store) Clear(ctx context.Context, conversationID int64) (bool, error) {
	unlock := s.locks.lock(conversationID)
	defer unlock()

	s.cache.invalidate(conversationID)

	var affected int64
	err := retry.Do(ctx, s.retry, func() error {
		res, execErr := s.db.ExecContext(ctx,
			"DELETE FROM chat_records WHERE conversation_id = ?", conversationID)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("history: delete records for conversation %d: %w", conversationID, err)
	}

	if affected > 0 {
		s.logger.Info("history cleared", "conversation_id", conversationID)
	}
	return affected > 0, nil
}

// loadLatest reads the newest record for the conversation straight from the
// database, filtering probe turns. Returns (nil, 0, nil) when no record
// exists. A malformed messages column is logged and treated as empty rather
// than failing the whole conversation.
func (s *Store) loadLatest(ctx context.Context, conversationID int64) (*Record, int64, error) {
	var (
		rowID     int64
		rawTurns  string
		writeTime time.Time
	)
	err := retry.Do(ctx, s.retry, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, messages, timestamp FROM chat_records
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, id DESC LIMIT 1`, conversationID,
		).Scan(&rowID, &rawTurns, &writeTime)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("history: load record for conversation %d: %w", conversationID, err)
	}

	var turns []Turn
	if jsonErr := json.Unmarshal([]byte(rawTurns), &turns); jsonErr != nil {
		s.logger.Error("history record is malformed, treating as empty",
			"conversation_id", conversationID, "err", jsonErr)
		turns = nil
	}

	filtered := turns[:0]
	for _, t := range turns {
		if t.Content == "" || IsProbe(t.Content) {
			continue
		}
		filtered = append(filtered, t)
	}

	return &Record{Turns: filtered, LastWriteAt: writeTime}, rowID, nil
}

func (s *Store) deleteAll(ctx context.Context, conversationID int64) error {
	err := retry.Do(ctx, s.retry, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"DELETE FROM chat_records WHERE conversation_id = ?", conversationID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("history: reset conversation %d: %w", conversationID, err)
	}
	return nil
}

// totalChars sums the content length of all turns in characters.
func totalChars(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += utf8.RuneCountInString(t.Content)
	}
	return total
}

// keyedMutex serializes operations per conversation id. Entries are never
// removed; the key space is bounded by the number of users.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (k *keyedMutex) lock(id int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
