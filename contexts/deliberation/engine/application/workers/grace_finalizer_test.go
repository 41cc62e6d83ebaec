package workers

import (
	"context"
	"testing"
	"time"

	"chant/contexts/deliberation/engine/domain/entities"
)

func TestGraceFinalizerFinalizesDueCells(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	deliberation, cell := f.seedVotingCell(t, nil)
	f.voteToQuorum(t, cell)

	worker := GraceFinalizer{
		Cells:       f.store,
		Finalizer:   f.finalizer,
		Coordinator: f.coordinator,
		Clock:       f.clock,
		BatchSize:   10,
	}

	// Inside the grace window the sweep finds nothing due.
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("early sweep failed: %v", err)
	}
	inWindow, _ := f.store.GetCell(ctx, cell.CellID)
	if inWindow.Status != entities.CellStatusDeliberating {
		t.Fatalf("cell status inside window = %s", inWindow.Status)
	}

	f.clock.Advance(f.cfg.GraceWindow + time.Second)
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	finalized, _ := f.store.GetCell(ctx, cell.CellID)
	if finalized.Status != entities.CellStatusCompleted {
		t.Fatalf("cell status = %s", finalized.Status)
	}

	// The sweep also nudges the coordinator: with a single unanimous cell the
	// whole deliberation resolves to a champion.
	updated, err := f.store.GetDeliberation(ctx, deliberation.DeliberationID)
	if err != nil {
		t.Fatalf("get deliberation failed: %v", err)
	}
	if updated.Phase != entities.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", updated.Phase)
	}
	champion, found, _ := f.store.GetChampion(ctx, deliberation.DeliberationID)
	if !found || champion.IdeaID != cell.IdeaIDs[0] {
		t.Fatalf("champion = %+v found=%v", champion, found)
	}

	// A second sweep has nothing left to do.
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("repeat sweep failed: %v", err)
	}
}
