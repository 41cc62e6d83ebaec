package entities

import "time"

// Comment attaches to a cell and optionally to one of its ideas. ReachTier is
// derived from upvotes and is monotonically non-decreasing; it decides how far
// the comment travels into other cells.
type Comment struct {
	CommentID      string
	DeliberationID string
	CellID         string
	IdeaID         string
	AuthorID       string
	Text           string
	UpvoteCount    int
	ReachTier      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
