package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindlab/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// fakeServer dedupes events by key and serves a best-score board per game
// plus a cumulative global board.
type fakeServer struct {
	mu        sync.Mutex
	seen      map[string]bool
	best      map[string]map[string]int64
	names     map[string]string
	failFirst int
	calls     int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		seen:  map[string]bool{},
		best:  map[string]map[string]int64{},
		names: map[string]string{},
	}
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Events []Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls++
		if f.calls <= f.failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		synced := 0
		for _, e := range req.Events {
			if f.seen[e.Key()] {
				continue
			}
			f.seen[e.Key()] = true
			synced++
			if name, ok := e.Payload["username"].(string); ok {
				f.names[e.UserID] = name
			}
			score, ok := e.Payload["score"].(float64)
			if !ok {
				continue
			}
			if f.best[e.GameID] == nil {
				f.best[e.GameID] = map[string]int64{}
			}
			if int64(score) > f.best[e.GameID][e.UserID] {
				f.best[e.GameID][e.UserID] = int64(score)
			}
		}
		_ = json.NewEncoder(w).Encode(SyncResponse{Synced: synced, Total: len(req.Events)})
	})
	mux.HandleFunc("GET /leaderboards/{scope}/{period}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		scores := map[string]int64{}
		if r.PathValue("scope") == "game" {
			for u, s := range f.best[r.URL.Query().Get("gameId")] {
				scores[u] = s
			}
		} else {
			for _, board := range f.best {
				for u, s := range board {
					scores[u] += s
				}
			}
		}
		entries := make([]Entry, 0, len(scores))
		for u, s := range scores {
			entries = append(entries, Entry{UserID: u, Username: f.names[u], Score: s})
		}
		f.mu.Unlock()
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Score != entries[j].Score {
				return entries[i].Score > entries[j].Score
			}
			return entries[i].UserID < entries[j].UserID
		})
		for i := range entries {
			if i > 0 && entries[i].Score == entries[i-1].Score {
				entries[i].Rank = entries[i-1].Rank
			} else {
				entries[i].Rank = i + 1
			}
		}
		_ = json.NewEncoder(w).Encode(entries)
	})
	return mux
}

func smallConfig(baseURL string) *Config {
	cfg := NewConfig()
	cfg.BaseURL = baseURL
	cfg.Players = 6
	cfg.Sessions = 2
	cfg.Rounds = 3
	cfg.BatchSize = 7
	cfg.Workers = 3
	cfg.Repeat = 2
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestGenerate(t *testing.T) {
	convey.Convey("Given a small configuration", t, func() {
		cfg := smallConfig("")
		now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

		events, err := Generate(context.Background(), cfg, now)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then every session is framed by start and end events", func() {
			perSession := cfg.Rounds*2 + 2
			convey.So(len(events), convey.ShouldEqual, cfg.Players*cfg.Sessions*perSession)
			convey.So(events[0].Type, convey.ShouldEqual, "session_start")
			convey.So(events[perSession-1].Type, convey.ShouldEqual, "session_end")
		})

		convey.Convey("Then every event has its own key", func() {
			convey.So(DistinctKeys(events), convey.ShouldEqual, len(events))
		})

		convey.Convey("Then clientSeq increases within a session", func() {
			for i := 1; i < len(events); i++ {
				if events[i].SessionID == events[i-1].SessionID {
					convey.So(events[i].ClientSeq, convey.ShouldBeGreaterThan, events[i-1].ClientSeq)
				}
			}
		})

		convey.Convey("Then empty settings are rejected", func() {
			cfg.Games = nil
			_, err := Generate(context.Background(), cfg, now)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestBatches(t *testing.T) {
	convey.Convey("Given ten events", t, func() {
		events := make([]Event, 10)

		convey.Convey("Then they split into full batches and a remainder", func() {
			batches := Batches(events, 4)
			convey.So(len(batches), convey.ShouldEqual, 3)
			convey.So(len(batches[2]), convey.ShouldEqual, 2)
		})

		convey.Convey("Then no events means no batches", func() {
			convey.So(Batches(nil, 4), convey.ShouldBeEmpty)
		})
	})
}

func TestCheckRanking(t *testing.T) {
	convey.Convey("Given leaderboard pages", t, func() {
		convey.Convey("Competition ranks with userId tie-break pass", func() {
			entries := []Entry{
				{UserID: "a", Score: 100, Rank: 1},
				{UserID: "b", Score: 90, Rank: 2},
				{UserID: "c", Score: 90, Rank: 2},
				{UserID: "d", Score: 80, Rank: 4},
			}
			convey.So(CheckRanking(entries), convey.ShouldBeNil)
		})

		convey.Convey("Dense ranks fail", func() {
			entries := []Entry{
				{UserID: "a", Score: 100, Rank: 1},
				{UserID: "b", Score: 90, Rank: 2},
				{UserID: "c", Score: 90, Rank: 2},
				{UserID: "d", Score: 80, Rank: 3},
			}
			convey.So(errors.Is(CheckRanking(entries), ErrVerification), convey.ShouldBeTrue)
		})

		convey.Convey("Unsorted scores fail", func() {
			entries := []Entry{
				{UserID: "a", Score: 10, Rank: 1},
				{UserID: "b", Score: 20, Rank: 2},
			}
			convey.So(errors.Is(CheckRanking(entries), ErrVerification), convey.ShouldBeTrue)
		})

		convey.Convey("Ties out of userId order fail", func() {
			entries := []Entry{
				{UserID: "b", Score: 50, Rank: 1},
				{UserID: "a", Score: 50, Rank: 1},
			}
			convey.So(errors.Is(CheckRanking(entries), ErrVerification), convey.ShouldBeTrue)
		})
	})
}

func TestBuffer(t *testing.T) {
	convey.Convey("Given a buffer path", t, func() {
		path := filepath.Join(t.TempDir(), "nested", "buffer.json")

		convey.Convey("A missing file is an empty buffer", func() {
			events, err := LoadBuffer(path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(events, convey.ShouldBeEmpty)
		})

		convey.Convey("Saved events load back", func() {
			in := []Event{{UserID: "u1", GameID: "memory", SessionID: "s1", Type: "score", ClientSeq: 4}}
			convey.So(SaveBuffer(path, in), convey.ShouldBeNil)
			out, err := LoadBuffer(path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(out), convey.ShouldEqual, 1)
			convey.So(out[0].Key(), convey.ShouldEqual, "u1/memory/s1/4")

			convey.Convey("And saving nothing removes the file", func() {
				convey.So(SaveBuffer(path, nil), convey.ShouldBeNil)
				out, err := LoadBuffer(path)
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldBeEmpty)
			})
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a deduplicating server", t, func() {
		fake := newFakeServer()
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()
		cfg := smallConfig(srv.URL)
		ctx := context.Background()

		convey.Convey("When a run retransmits every batch", func() {
			stats, err := Run(ctx, cfg)

			convey.Convey("Then each key is synced exactly once", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.Synced, convey.ShouldEqual, stats.DistinctKeys)
				convey.So(stats.Sent, convey.ShouldEqual, stats.EventsGenerated*(cfg.Repeat+1))
				convey.So(stats.Boards, convey.ShouldEqual, len(cfg.Games)+1)
			})
		})

		convey.Convey("When the server is briefly unavailable", func() {
			fake.failFirst = 1
			cfg.Workers = 1
			stats, err := Run(ctx, cfg)

			convey.Convey("Then the batch is retried and delivered", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.FailedRequests, convey.ShouldEqual, 0)
				convey.So(stats.Synced, convey.ShouldEqual, stats.DistinctKeys)
			})
		})
	})
}

func TestFlushBuffer(t *testing.T) {
	convey.Convey("Given a generated offline buffer", t, func() {
		fake := newFakeServer()
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()
		cfg := smallConfig(srv.URL)
		cfg.BufferFile = filepath.Join(t.TempDir(), "buffer.json")
		ctx := context.Background()

		n, err := GenerateToBuffer(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		convey.So(n, convey.ShouldBeGreaterThan, 0)

		convey.Convey("When the buffer is flushed", func() {
			stats, err := FlushBuffer(ctx, cfg)

			convey.Convey("Then everything is synced and the buffer is emptied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.Synced, convey.ShouldEqual, n)
				left, err := LoadBuffer(cfg.BufferFile)
				convey.So(err, convey.ShouldBeNil)
				convey.So(left, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the server rejects every batch", func() {
			fake.failFirst = 1 << 20
			cfg.BatchSize = 1000
			_, err := FlushBuffer(ctx, cfg)

			convey.Convey("Then the events stay buffered", func() {
				convey.So(err, convey.ShouldNotBeNil)
				left, err := LoadBuffer(cfg.BufferFile)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(left), convey.ShouldEqual, n)
			})
		})
	})
}
