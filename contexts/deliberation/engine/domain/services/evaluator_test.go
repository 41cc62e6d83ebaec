package services

import (
	"reflect"
	"testing"

	"chant/contexts/deliberation/engine/domain/entities"
)

func evalConfig() entities.EngineConfig {
	cfg := entities.DefaultEngineConfig()
	cfg.RecycleFloor = 2
	cfg.RetryCap = 3
	return cfg
}

func ballot(participantID string, allocations ...entities.Allocation) entities.Ballot {
	return entities.Ballot{
		CellID:        "cell-1",
		ParticipantID: participantID,
		Allocations:   allocations,
	}
}

func TestEvaluateBuckets(t *testing.T) {
	cell := entities.Cell{
		CellID:  "cell-1",
		IdeaIDs: []string{"idea-1", "idea-2", "idea-3", "idea-4"},
	}
	ideas := map[string]entities.Idea{
		"idea-1": {IdeaID: "idea-1", TimesPresented: 1},
		"idea-2": {IdeaID: "idea-2", TimesPresented: 1},
		"idea-3": {IdeaID: "idea-3", TimesPresented: 1},
		"idea-4": {IdeaID: "idea-4", TimesPresented: 1},
	}
	ballots := []entities.Ballot{
		ballot("user-1",
			entities.Allocation{IdeaID: "idea-1", Points: 7},
			entities.Allocation{IdeaID: "idea-2", Points: 2},
			entities.Allocation{IdeaID: "idea-3", Points: 1},
		),
		ballot("user-2",
			entities.Allocation{IdeaID: "idea-1", Points: 5},
			entities.Allocation{IdeaID: "idea-2", Points: 5},
		),
	}

	outcome := Evaluate(cell, ballots, ideas, evalConfig())
	if !reflect.DeepEqual(outcome.Winners, []string{"idea-1"}) {
		t.Fatalf("winners = %v", outcome.Winners)
	}
	if !reflect.DeepEqual(outcome.Recycled, []string{"idea-2"}) {
		t.Fatalf("recycled = %v", outcome.Recycled)
	}
	if !reflect.DeepEqual(outcome.Eliminated, []string{"idea-3", "idea-4"}) {
		t.Fatalf("eliminated = %v", outcome.Eliminated)
	}
	if outcome.Totals["idea-1"] != 12 || outcome.Totals["idea-2"] != 7 {
		t.Fatalf("totals = %v", outcome.Totals)
	}
	if outcome.DistinctVoters != 2 {
		t.Fatalf("distinct voters = %d", outcome.DistinctVoters)
	}
}

func TestEvaluateTiesAllAdvance(t *testing.T) {
	cell := entities.Cell{CellID: "cell-1", IdeaIDs: []string{"idea-1", "idea-2", "idea-3"}}
	ballots := []entities.Ballot{
		ballot("user-1",
			entities.Allocation{IdeaID: "idea-1", Points: 5},
			entities.Allocation{IdeaID: "idea-2", Points: 5},
		),
	}
	outcome := Evaluate(cell, ballots, map[string]entities.Idea{}, evalConfig())
	if !reflect.DeepEqual(outcome.Winners, []string{"idea-1", "idea-2"}) {
		t.Fatalf("tied winners = %v", outcome.Winners)
	}
}

func TestEvaluateNoBallotsEliminatesAll(t *testing.T) {
	cell := entities.Cell{CellID: "cell-1", IdeaIDs: []string{"idea-1", "idea-2"}}
	outcome := Evaluate(cell, nil, map[string]entities.Idea{}, evalConfig())
	if len(outcome.Winners) != 0 {
		t.Fatalf("expected no winners with zero points, got %v", outcome.Winners)
	}
	if !reflect.DeepEqual(outcome.Eliminated, []string{"idea-1", "idea-2"}) {
		t.Fatalf("eliminated = %v", outcome.Eliminated)
	}
}

func TestEvaluateRetryCapEliminatesRecycleCandidate(t *testing.T) {
	cell := entities.Cell{CellID: "cell-1", IdeaIDs: []string{"idea-1", "idea-2"}}
	ideas := map[string]entities.Idea{
		"idea-2": {IdeaID: "idea-2", TimesPresented: 3},
	}
	ballots := []entities.Ballot{
		ballot("user-1",
			entities.Allocation{IdeaID: "idea-1", Points: 7},
			entities.Allocation{IdeaID: "idea-2", Points: 3},
		),
	}
	outcome := Evaluate(cell, ballots, ideas, evalConfig())
	if !reflect.DeepEqual(outcome.Eliminated, []string{"idea-2"}) {
		t.Fatalf("expected capped idea eliminated, got %v", outcome.Eliminated)
	}
	if len(outcome.Recycled) != 0 {
		t.Fatalf("recycled = %v", outcome.Recycled)
	}
}

func TestEvaluateIgnoresDuplicateBallotRows(t *testing.T) {
	cell := entities.Cell{CellID: "cell-1", IdeaIDs: []string{"idea-1"}}
	ballots := []entities.Ballot{
		ballot("user-1", entities.Allocation{IdeaID: "idea-1", Points: 10}),
		ballot("user-1", entities.Allocation{IdeaID: "idea-1", Points: 10}),
	}
	outcome := Evaluate(cell, ballots, map[string]entities.Idea{}, evalConfig())
	if outcome.Totals["idea-1"] != 10 {
		t.Fatalf("expected one ballot per participant, total = %d", outcome.Totals["idea-1"])
	}
	if outcome.DistinctVoters != 1 {
		t.Fatalf("distinct voters = %d", outcome.DistinctVoters)
	}
}
