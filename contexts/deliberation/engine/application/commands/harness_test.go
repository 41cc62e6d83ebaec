package commands

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chant/contexts/deliberation/engine/adapters/memory"
	"chant/contexts/deliberation/engine/domain/entities"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

// harness wires every use case against one in-memory store with a
// controllable clock.
type harness struct {
	store *memory.Store
	clock *fakeClock
	cfg   entities.EngineConfig

	deliberations DeliberationUseCase
	ideas         IdeaUseCase
	votes         VoteUseCase
	comments      CommentUseCase
	coordinator   CoordinatorUseCase
	finalizer     FinalizeUseCase
}

func newHarness(cfg entities.EngineConfig) *harness {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	idgen := &seqIDGen{}
	h := &harness{store: store, clock: clock, cfg: cfg}
	h.deliberations = DeliberationUseCase{
		Deliberations: store, Ideas: store, Cells: store, Tiers: store,
		Outbox: store, Clock: clock, IDGen: idgen, Config: cfg,
	}
	h.ideas = IdeaUseCase{
		Deliberations: store, Ideas: store,
		Outbox: store, Clock: clock, IDGen: idgen, Config: cfg,
	}
	h.votes = VoteUseCase{
		Cells: store, Ballots: store, Reservations: store,
		Outbox: store, Clock: clock, IDGen: idgen, Config: cfg,
	}
	h.comments = CommentUseCase{
		Cells: store, Ballots: store, Reservations: store, Comments: store,
		Clock: clock, IDGen: idgen,
	}
	h.coordinator = CoordinatorUseCase{
		Deliberations: store, Ideas: store, Cells: store, Tiers: store,
		Outbox: store, Clock: clock, IDGen: idgen, Config: cfg,
	}
	h.finalizer = FinalizeUseCase{
		Ideas: store, Cells: store, Ballots: store,
		Outbox: store, Clock: clock, IDGen: idgen, Config: cfg,
	}
	return h
}

func quickConfig() entities.EngineConfig {
	cfg := entities.DefaultEngineConfig()
	cfg.TargetVotersPerCell = 2
	cfg.MinForcedVotes = 2
	cfg.GraceWindow = 10 * time.Second
	return cfg
}

// seedContest creates a deliberation, submits one idea per author, and opens
// voting. It returns the deliberation and the formed first-tier cells.
func (h *harness) seedContest(t *testing.T, ideaTexts []string) (entities.Deliberation, []entities.Cell) {
	t.Helper()
	ctx := context.Background()
	deliberation, err := h.deliberations.CreateDeliberation(ctx, CreateDeliberationCommand{
		Question: "What should we build next?",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	for i, text := range ideaTexts {
		if _, err := h.ideas.SubmitIdea(ctx, SubmitIdeaCommand{
			DeliberationID: deliberation.DeliberationID,
			AuthorID:       fmt.Sprintf("author-%d", i+1),
			Text:           text,
		}); err != nil {
			t.Fatalf("submit idea %d failed: %v", i, err)
		}
		h.clock.Advance(time.Second)
	}
	cells, err := h.deliberations.OpenVoting(ctx, OpenVotingCommand{
		DeliberationID: deliberation.DeliberationID,
	})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	return deliberation, cells
}

func ideaTexts(n int) []string {
	texts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		texts = append(texts, fmt.Sprintf("proposal number %d", i+1))
	}
	return texts
}
