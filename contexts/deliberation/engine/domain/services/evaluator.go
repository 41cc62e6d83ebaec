package services

import (
	"sort"

	"chant/contexts/deliberation/engine/domain/entities"
)

// Outcome is the deterministic result of tallying one cell. Running the
// evaluator twice over the same ballots yields an identical outcome.
type Outcome struct {
	Winners        []string
	Recycled       []string
	Eliminated     []string
	Totals         map[string]int
	VoterCounts    map[string]int
	DistinctVoters int
}

// Evaluate tallies a cell's ballots and sorts every idea into winner, recycle,
// or eliminate buckets. Ties on the maximum total all advance. Ideas at or
// above the recycle floor re-enter the queue unless they already burned the
// retry cap; everything below the floor is eliminated outright.
//
// The same tally works for legacy plurality cells: each ballot is a single
// one-point allocation, so totals are raw vote counts.
func Evaluate(
	cell entities.Cell,
	ballots []entities.Ballot,
	ideas map[string]entities.Idea,
	cfg entities.EngineConfig,
) Outcome {
	outcome := Outcome{
		Totals:      make(map[string]int, len(cell.IdeaIDs)),
		VoterCounts: make(map[string]int, len(cell.IdeaIDs)),
	}
	for _, ideaID := range cell.IdeaIDs {
		outcome.Totals[ideaID] = 0
	}

	voters := make(map[string]struct{}, len(ballots))
	for _, ballot := range ballots {
		if _, dup := voters[ballot.ParticipantID]; dup {
			continue
		}
		voters[ballot.ParticipantID] = struct{}{}
		for _, allocation := range ballot.Allocations {
			if !cell.ContainsIdea(allocation.IdeaID) {
				continue
			}
			outcome.Totals[allocation.IdeaID] += allocation.Points
			outcome.VoterCounts[allocation.IdeaID]++
		}
	}
	outcome.DistinctVoters = len(voters)

	best := 0
	for _, ideaID := range cell.IdeaIDs {
		if outcome.Totals[ideaID] > best {
			best = outcome.Totals[ideaID]
		}
	}

	for _, ideaID := range cell.IdeaIDs {
		total := outcome.Totals[ideaID]
		switch {
		case total == best && best > 0:
			outcome.Winners = append(outcome.Winners, ideaID)
		case total >= cfg.RecycleFloor:
			if idea, ok := ideas[ideaID]; ok && idea.TimesPresented >= cfg.RetryCap {
				outcome.Eliminated = append(outcome.Eliminated, ideaID)
			} else {
				outcome.Recycled = append(outcome.Recycled, ideaID)
			}
		default:
			outcome.Eliminated = append(outcome.Eliminated, ideaID)
		}
	}
	sort.Strings(outcome.Winners)
	sort.Strings(outcome.Recycled)
	sort.Strings(outcome.Eliminated)
	return outcome
}
