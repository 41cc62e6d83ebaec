package services

import (
	"sort"

	"chant/contexts/deliberation/engine/domain/entities"
)

// PackSizes splits a queued-idea count into cell sizes. Full target-size cells
// are cut while enough ideas remain to keep the remainder viable; one final
// cell absorbs an awkward remainder up to the maximum size. A remainder below
// the minimum stays queued for the next formation pass.
func PackSizes(count int, cfg entities.EngineConfig) []int {
	sizes := make([]int, 0, count/cfg.TargetCellSize+1)
	remaining := count
	for remaining >= cfg.TargetCellSize+cfg.MinCellSize {
		sizes = append(sizes, cfg.TargetCellSize)
		remaining -= cfg.TargetCellSize
	}
	if remaining >= cfg.MinCellSize && remaining <= cfg.MaxCellSize {
		sizes = append(sizes, remaining)
	}
	return sizes
}

// PackIdeas buckets packable ideas into cell-sized groups of idea ids.
// Ordering is by submission time then id so repeated passes over the same
// queue produce the same cells. Higher tiers pack the advancing survivors of
// completed cells with exactly the same algorithm; the "unit to pack" is
// always an idea id carrying its accumulated score.
func PackIdeas(ideas []entities.Idea, tier int, cfg entities.EngineConfig) [][]string {
	packable := make([]entities.Idea, 0, len(ideas))
	for _, idea := range ideas {
		if idea.Packable(tier, cfg.RetryCap) {
			packable = append(packable, idea)
		}
	}
	sort.Slice(packable, func(i, j int) bool {
		if packable[i].CreatedAt.Equal(packable[j].CreatedAt) {
			return packable[i].IdeaID < packable[j].IdeaID
		}
		return packable[i].CreatedAt.Before(packable[j].CreatedAt)
	})

	groups := make([][]string, 0)
	offset := 0
	for _, size := range PackSizes(len(packable), cfg) {
		group := make([]string, 0, size)
		for _, idea := range packable[offset : offset+size] {
			group = append(group, idea.IdeaID)
		}
		groups = append(groups, group)
		offset += size
	}
	return groups
}

// AssignParticipants distributes the eligible pool across idea groups for
// balanced allocation mode. Participants land least-filled-cell-first and a
// cell containing the participant's own idea is skipped while a conflict-free
// cell still has room; the conflict is tolerated only when every alternative
// is worse.
func AssignParticipants(
	groups [][]string,
	participants []string,
	authorByIdea map[string]string,
) [][]string {
	assigned := make([][]string, len(groups))
	for i := range assigned {
		assigned[i] = make([]string, 0)
	}
	if len(groups) == 0 {
		return assigned
	}

	ownIdeaIn := func(participantID string, group []string) bool {
		for _, ideaID := range group {
			if authorByIdea[ideaID] == participantID {
				return true
			}
		}
		return false
	}

	for _, participantID := range participants {
		order := make([]int, len(groups))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return len(assigned[order[a]]) < len(assigned[order[b]])
		})

		target := -1
		for _, idx := range order {
			if !ownIdeaIn(participantID, groups[idx]) {
				target = idx
				break
			}
		}
		if target < 0 {
			target = order[0]
		}
		assigned[target] = append(assigned[target], participantID)
	}
	return assigned
}
