package entities

import "time"

// Allocation is one slice of a participant's point budget assigned to a single
// idea in a cell.
type Allocation struct {
	IdeaID string
	Points int
}

// Ballot is the complete allocation set of one participant in one cell. A
// participant holds at most one ballot per cell; resubmitting replaces the
// whole set atomically, it never appends.
type Ballot struct {
	CellID        string
	ParticipantID string
	Allocations   []Allocation
	Automated     bool
	VotedAt       time.Time
}

func (b Ballot) TotalPoints() int {
	total := 0
	for _, allocation := range b.Allocations {
		total += allocation.Points
	}
	return total
}

func (b Ballot) PointsFor(ideaID string) int {
	for _, allocation := range b.Allocations {
		if allocation.IdeaID == ideaID {
			return allocation.Points
		}
	}
	return 0
}

// Reservation is a non-voting, time-boxed claim on one of a cell's open seats.
// It counts against capacity so two participants cannot both take the last
// slot, and it expires without effect if no ballot follows.
type Reservation struct {
	ParticipantID string
	CellID        string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
