package services

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"chant/contexts/deliberation/engine/domain/entities"
)

// ReachTier derives a comment's propagation reach from its upvotes. A comment
// with any upvotes reaches at least tier 1; reach never decreases because
// upvotes never decrease.
func ReachTier(upvotes int) int {
	if upvotes <= 0 {
		return 0
	}
	reach := upvotes / 2
	if reach < 1 {
		return 1
	}
	return reach
}

// InclusionProbability is the chance an unlinked sibling comment surfaces in a
// cell: 5^(cellTier-reachTier), capped at 1. A reach-3 comment lands in a
// tier-1 sibling with probability 1/25 = 0.04.
func InclusionProbability(reachTier int, cellTier int) float64 {
	p := math.Pow(5, float64(cellTier-reachTier))
	if p > 1 {
		return 1
	}
	return p
}

// Included makes the deterministic inclusion decision for (comment, cell):
// the same pair always resolves the same way, so sibling visibility is
// reproducible across reads and across processes.
func Included(commentID string, cellID string, probability float64) bool {
	if probability >= 1 {
		return true
	}
	if probability <= 0 {
		return false
	}
	return hashFraction(commentID, cellID) < probability
}

// VisibleInCell applies the full up-pollination rule. Comments always show in
// their own cell. A comment linked to an idea follows that idea into any cell
// whose tier its reach covers. Unlinked comments cross over probabilistically
// to same-tier cells that share at least one idea with the origin cell.
func VisibleInCell(comment entities.Comment, origin entities.Cell, target entities.Cell) bool {
	if comment.CellID == target.CellID {
		return true
	}
	if comment.IdeaID != "" {
		return target.ContainsIdea(comment.IdeaID) && comment.ReachTier >= target.Tier
	}
	if origin.Tier != target.Tier || !sharesIdeas(origin, target) {
		return false
	}
	return Included(comment.CommentID, target.CellID, InclusionProbability(comment.ReachTier, target.Tier))
}

func sharesIdeas(a entities.Cell, b entities.Cell) bool {
	for _, ideaID := range a.IdeaIDs {
		if b.ContainsIdea(ideaID) {
			return true
		}
	}
	return false
}

// hashFraction maps (commentID, cellID) onto [0, 1) using the top 53 bits of a
// SHA-256 digest, which float64 represents exactly.
func hashFraction(commentID string, cellID string) float64 {
	digest := sha256.Sum256([]byte(commentID + "|" + cellID))
	bits := binary.BigEndian.Uint64(digest[:8]) >> 11
	return float64(bits) / float64(uint64(1)<<53)
}
