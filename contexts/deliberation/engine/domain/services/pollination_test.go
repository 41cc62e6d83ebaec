package services

import (
	"math"
	"testing"

	"chant/contexts/deliberation/engine/domain/entities"
)

func TestReachTier(t *testing.T) {
	cases := []struct {
		upvotes int
		want    int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{6, 3},
		{10, 5},
	}
	for _, tc := range cases {
		if got := ReachTier(tc.upvotes); got != tc.want {
			t.Fatalf("ReachTier(%d) = %d, want %d", tc.upvotes, got, tc.want)
		}
	}
}

func TestInclusionProbability(t *testing.T) {
	if got := InclusionProbability(3, 1); math.Abs(got-0.04) > 1e-12 {
		t.Fatalf("reach 3 into tier 1 = %f, want 0.04", got)
	}
	if got := InclusionProbability(1, 1); got != 1 {
		t.Fatalf("same tier should be certain, got %f", got)
	}
	if got := InclusionProbability(1, 3); got != 1 {
		t.Fatalf("higher cell tier caps at 1, got %f", got)
	}
	if got := InclusionProbability(2, 1); math.Abs(got-0.2) > 1e-12 {
		t.Fatalf("reach 2 into tier 1 = %f, want 0.2", got)
	}
}

func TestIncludedIsDeterministic(t *testing.T) {
	first := Included("comment-1", "cell-1", 0.04)
	for i := 0; i < 100; i++ {
		if Included("comment-1", "cell-1", 0.04) != first {
			t.Fatalf("inclusion decision changed between calls")
		}
	}
	if !Included("comment-1", "cell-1", 1) {
		t.Fatalf("probability 1 must always include")
	}
	if Included("comment-1", "cell-1", 0) {
		t.Fatalf("probability 0 must never include")
	}
}

func TestIncludedRoughlyMatchesProbability(t *testing.T) {
	hits := 0
	total := 5000
	for i := 0; i < total; i++ {
		if Included("comment", cellID(i), 0.2) {
			hits++
		}
	}
	fraction := float64(hits) / float64(total)
	if fraction < 0.15 || fraction > 0.25 {
		t.Fatalf("inclusion fraction %f far from 0.2", fraction)
	}
}

func cellID(i int) string {
	return "cell-" + string(rune('a'+i%26)) + "-" + string(rune('a'+(i/26)%26)) + "-" + string(rune('a'+(i/676)%26))
}

func TestVisibleInCellOwnCell(t *testing.T) {
	cell := entities.Cell{CellID: "cell-1", Tier: 1}
	comment := entities.Comment{CommentID: "comment-1", CellID: "cell-1"}
	if !VisibleInCell(comment, cell, cell) {
		t.Fatalf("comment must be visible in its own cell")
	}
}

func TestVisibleInCellIdeaFollower(t *testing.T) {
	origin := entities.Cell{CellID: "cell-1", Tier: 1, IdeaIDs: []string{"idea-1"}}
	target := entities.Cell{CellID: "cell-2", Tier: 2, IdeaIDs: []string{"idea-1", "idea-9"}}
	comment := entities.Comment{CommentID: "comment-1", CellID: "cell-1", IdeaID: "idea-1", ReachTier: 2}

	if !VisibleInCell(comment, origin, target) {
		t.Fatalf("idea-linked comment with sufficient reach should follow the idea")
	}

	comment.ReachTier = 1
	if VisibleInCell(comment, origin, target) {
		t.Fatalf("reach below the target tier must not follow")
	}

	comment.ReachTier = 2
	elsewhere := entities.Cell{CellID: "cell-3", Tier: 2, IdeaIDs: []string{"idea-7"}}
	if VisibleInCell(comment, origin, elsewhere) {
		t.Fatalf("idea-linked comment must not appear where the idea is absent")
	}
}

func TestVisibleInCellSiblingRequiresSharedIdea(t *testing.T) {
	origin := entities.Cell{CellID: "cell-1", Tier: 1, IdeaIDs: []string{"idea-1"}}
	disjoint := entities.Cell{CellID: "cell-2", Tier: 1, IdeaIDs: []string{"idea-2"}}
	comment := entities.Comment{CommentID: "comment-1", CellID: "cell-1", ReachTier: 5}

	if VisibleInCell(comment, origin, disjoint) {
		t.Fatalf("unlinked comment must not cross into a disjoint sibling")
	}

	otherTier := entities.Cell{CellID: "cell-3", Tier: 2, IdeaIDs: []string{"idea-1"}}
	if VisibleInCell(comment, origin, otherTier) {
		t.Fatalf("unlinked crossover only applies to same-tier siblings")
	}
}
