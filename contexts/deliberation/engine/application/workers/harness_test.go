package workers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chant/contexts/deliberation/engine/adapters/memory"
	"chant/contexts/deliberation/engine/application/commands"
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
	mu   sync.Mutex
	next int
}

func (g *seqIDGen) NewID(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

// fixture wires the use cases the workers drive against one in-memory store
// and a controllable clock.
type fixture struct {
	store         *memory.Store
	clock         *fakeClock
	cfg           entities.EngineConfig
	deliberations commands.DeliberationUseCase
	ideas         commands.IdeaUseCase
	votes         commands.VoteUseCase
	finalizer     commands.FinalizeUseCase
	coordinator   commands.CoordinatorUseCase
}

func newFixture() *fixture {
	cfg := entities.DefaultEngineConfig()
	cfg.TargetVotersPerCell = 2
	cfg.MinForcedVotes = 2
	cfg.GraceWindow = 10 * time.Second

	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	idgen := &seqIDGen{}
	return &fixture{
		store: store,
		clock: clock,
		cfg:   cfg,
		deliberations: commands.DeliberationUseCase{
			Deliberations: store,
			Ideas:         store,
			Cells:         store,
			Tiers:         store,
			Outbox:        store,
			Clock:         clock,
			IDGen:         idgen,
			Config:        cfg,
		},
		ideas: commands.IdeaUseCase{
			Deliberations: store,
			Ideas:         store,
			Outbox:        store,
			Clock:         clock,
			IDGen:         idgen,
			Config:        cfg,
		},
		votes: commands.VoteUseCase{
			Cells:        store,
			Ballots:      store,
			Reservations: store,
			Outbox:       store,
			Clock:        clock,
			IDGen:        idgen,
			Config:       cfg,
		},
		finalizer: commands.FinalizeUseCase{
			Ideas:   store,
			Cells:   store,
			Ballots: store,
			Outbox:  store,
			Clock:   clock,
			IDGen:   idgen,
			Config:  cfg,
		},
		coordinator: commands.CoordinatorUseCase{
			Deliberations: store,
			Ideas:         store,
			Cells:         store,
			Tiers:         store,
			Outbox:        store,
			Clock:         clock,
			IDGen:         idgen,
			Config:        cfg,
		},
	}
}

// seedVotingCell creates a deliberation with three ideas and opens voting,
// returning the single first-tier cell.
func (f *fixture) seedVotingCell(t *testing.T, deadline *time.Time) (entities.Deliberation, entities.Cell) {
	t.Helper()
	ctx := context.Background()
	deliberation, err := f.deliberations.CreateDeliberation(ctx, commands.CreateDeliberationCommand{
		Question: "Which road do we pave first?",
	})
	if err != nil {
		t.Fatalf("create deliberation failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.ideas.SubmitIdea(ctx, commands.SubmitIdeaCommand{
			DeliberationID: deliberation.DeliberationID,
			AuthorID:       fmt.Sprintf("author-%d", i+1),
			Text:           fmt.Sprintf("pave road %d", i+1),
		}); err != nil {
			t.Fatalf("submit idea failed: %v", err)
		}
		f.clock.Advance(time.Second)
	}
	cells, err := f.deliberations.OpenVoting(ctx, commands.OpenVotingCommand{
		DeliberationID: deliberation.DeliberationID,
		Deadline:       deadline,
	})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("expected one cell, got %d", len(cells))
	}
	return deliberation, cells[0]
}

func (f *fixture) voteToQuorum(t *testing.T, cell entities.Cell) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < cell.VotesNeeded; i++ {
		if _, err := f.votes.CastVote(ctx, commands.CastVoteCommand{
			CellID:        cell.CellID,
			ParticipantID: fmt.Sprintf("voter-%d", i+1),
			Allocations:   []entities.Allocation{{IdeaID: cell.IdeaIDs[0], Points: f.cfg.PointBudget}},
		}); err != nil {
			t.Fatalf("vote failed: %v", err)
		}
	}
}
