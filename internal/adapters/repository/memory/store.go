// Package memory implements the repository contracts in process. Each
// leaderboard bucket is a treap, writes are staged per transaction and
// applied on commit.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/pkg/metrics"
)

const defaultMetricsUpdateInterval = 5 * time.Second

type storedEvent struct {
	event      model.Event
	receivedAt int64
}

// board is the committed state of one bucket.
type board struct {
	root   *node
	byUser map[string]int64
}

func newBoard() *board { return &board{byUser: make(map[string]int64)} }

func (b *board) set(userID string, score int64) {
	if old, ok := b.byUser[userID]; ok {
		b.root = deleteNode(b.root, userID, old)
	}
	b.byUser[userID] = score
	b.root = insert(b.root, userID, score, rand.Uint64())
}

// Store is an in-memory repository.Store.
type Store struct {
	mu      sync.RWMutex
	events  map[model.Key]storedEvent
	players map[string]string
	boards  map[model.Bucket]*board
	closed  bool
	now     func() time.Time

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
}

var _ repository.Store = (*Store)(nil)

// New constructs an empty store. The background metrics updater stops with
// ctx or Close.
func New(ctx context.Context, opts ...Option) *Store {
	s := &Store{
		events:                make(map[model.Key]storedEvent),
		players:               make(map[string]string),
		boards:                make(map[model.Bucket]*board),
		now:                   time.Now,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// scoreKey addresses a staged score record.
type scoreKey struct {
	bucket model.Bucket
	userID string
}

// tx stages writes until commit. Reads see committed state overlaid with
// the staged writes.
type tx struct {
	s       *Store
	now     int64
	events  map[model.Key]storedEvent
	order   []model.Key
	scores  map[scoreKey]int64
	players map[string]string
}

func (t *tx) InsertEvent(ctx context.Context, e model.Event) (bool, error) { //nolint:gocritic // hugeParam
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := e.Key()
	if _, ok := t.s.events[key]; ok {
		return false, nil
	}
	if _, ok := t.events[key]; ok {
		return false, nil
	}
	e.Raw = append([]byte(nil), e.RawPayload()...)
	t.events[key] = storedEvent{event: e, receivedAt: t.now}
	t.order = append(t.order, key)
	return true, nil
}

func (t *tx) ApplyScore(ctx context.Context, d model.ScoreDelta) (bool, error) { //nolint:gocritic // hugeParam
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := scoreKey{bucket: d.Bucket(), userID: d.UserID}
	current, exists := t.scores[k]
	if !exists {
		if b, ok := t.s.boards[k.bucket]; ok {
			current, exists = b.byUser[d.UserID]
		}
	}

	next := model.ClampScore(d.Score)
	if exists {
		switch d.Rule {
		case model.RuleBest:
			if next <= current {
				return false, nil
			}
		case model.RuleCumulative:
			if d.Score == 0 {
				return false, nil
			}
			next = model.AddScores(current, d.Score)
		default:
			return false, fmt.Errorf("unknown scoring rule %q", d.Rule)
		}
	}
	t.scores[k] = next
	return true, nil
}

func (t *tx) UpsertPlayer(ctx context.Context, userID, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.players[userID] = username
	return nil
}

func (t *tx) commit() {
	for _, key := range t.order {
		t.s.events[key] = t.events[key]
	}
	for id, name := range t.players {
		t.s.players[id] = name
	}
	for k, score := range t.scores {
		b, ok := t.s.boards[k.bucket]
		if !ok {
			b = newBoard()
			t.s.boards[k.bucket] = b
		}
		b.set(k.userID, score)
	}
}

// InTx serializes writers. Staged writes are dropped on error or panic.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("in_tx", float64(time.Since(start).Milliseconds()))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.Unavailable("memory: begin", repository.ErrClosed)
	}

	t := &tx{
		s:       s,
		now:     s.now().UnixMilli(),
		events:  make(map[model.Key]storedEvent),
		scores:  make(map[scoreKey]int64),
		players: make(map[string]string),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) readBoard(q repository.ScoreQuery) (*board, error) {
	if s.closed {
		return nil, repository.Unavailable("memory: read", repository.ErrClosed)
	}
	return s.boards[model.Bucket{Scope: q.Scope, Period: q.Period}], nil
}

func (s *Store) username(userID string) string {
	if name, ok := s.players[userID]; ok && name != "" {
		return name
	}
	return userID
}

// TopScores returns the first q.Limit records in O(log n + limit).
func (s *Store) TopScores(ctx context.Context, q repository.ScoreQuery) ([]model.ScoreRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("top_scores", float64(time.Since(start).Milliseconds()))
	}()

	if q.Limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.readBoard(q)
	if err != nil || b == nil {
		return nil, err
	}
	nodes := make([]*node, 0, min(q.Limit, len(b.byUser)))
	collectTopN(b.root, q.Limit, &nodes)

	out := make([]model.ScoreRecord, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.ScoreRecord{UserID: n.id, Username: s.username(n.id), Score: n.score})
	}
	return out, nil
}

// ScoreOf returns one user's record.
func (s *Store) ScoreOf(ctx context.Context, q repository.ScoreQuery, userID string) (model.ScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.ScoreRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.readBoard(q)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	if b == nil {
		return model.ScoreRecord{}, model.ErrNotFound
	}
	score, ok := b.byUser[userID]
	if !ok {
		return model.ScoreRecord{}, model.ErrNotFound
	}
	return model.ScoreRecord{UserID: userID, Username: s.username(userID), Score: score}, nil
}

// CountAbove counts records with a strictly greater score in O(log n).
func (s *Store) CountAbove(ctx context.Context, q repository.ScoreQuery, score int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.readBoard(q)
	if err != nil || b == nil {
		return 0, err
	}
	return countAbove(b.root, score), nil
}

// PurgeBefore drops whole buckets of kind older than cutoffKey.
func (s *Store) PurgeBefore(ctx context.Context, kind period.Kind, cutoffKey string) (int64, error) {
	if kind != period.Daily && kind != period.Weekly {
		return 0, fmt.Errorf("%s records cannot be purged", kind)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, repository.Unavailable("memory: purge", repository.ErrClosed)
	}

	var purged int64
	for bucket, b := range s.boards {
		k, err := period.Parse(bucket.Period)
		if err != nil || k != kind || bucket.Period >= cutoffKey {
			continue
		}
		purged += int64(len(b.byUser))
		delete(s.boards, bucket)
	}
	return purged, nil
}

// Stats counts stored rows the way the SQL stores do.
func (s *Store) Stats(ctx context.Context) (repository.Stats, error) {
	if err := ctx.Err(); err != nil {
		return repository.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := repository.Stats{
		Events:  int64(len(s.events)),
		Players: int64(len(s.players)),
	}
	for bucket, b := range s.boards {
		if bucket.Scope.IsGlobal() {
			st.GlobalScores += int64(len(b.byUser))
		} else {
			st.GameScores += int64(len(b.byUser))
		}
	}
	return st, nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return repository.Unavailable("memory: ping", repository.ErrClosed)
	}
	return nil
}

// Close stops the metrics updater. Further calls fail as unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stopChan)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// startMetricsUpdater starts a background goroutine that updates store metrics
func (s *Store) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics(ctx)
			}
		}
	}()
}

func (s *Store) updateMetrics(ctx context.Context) {
	st, err := s.Stats(ctx)
	if err != nil {
		return
	}
	metrics.UpdateStoreRecords(repository.TableEvents, st.Events)
	metrics.UpdateStoreRecords(repository.TablePlayers, st.Players)
	metrics.UpdateStoreRecords(repository.TableGameScores, st.GameScores)
	metrics.UpdateStoreRecords(repository.TableGlobalScores, st.GlobalScores)
}
