package entities

import "time"

type CellStatus string

const (
	// CellStatusVoting accepts first ballots and ballot replacements.
	CellStatusVoting CellStatus = "voting"
	// CellStatusDeliberating is the grace window after quorum: existing voters
	// may still change their allocation, nobody new may join.
	CellStatusDeliberating CellStatus = "deliberating"
	CellStatusCompleted    CellStatus = "completed"
	CellStatusAbandoned    CellStatus = "abandoned"
)

// Cell is a bounded group of ideas plus the participants voting on them. The
// cell exclusively owns the join between its ideas and participants; an idea
// sits in at most one active cell at a time.
type Cell struct {
	CellID         string
	DeliberationID string
	Tier           int
	Status         CellStatus
	IdeaIDs        []string
	ParticipantIDs []string
	MustVoteIDs    []string
	VotesNeeded    int
	IsFinalVote    bool

	CreatedAt          time.Time
	VotingDeadline     *time.Time
	DeadlineExtended   bool
	FinalizesAt        *time.Time
	HumanPriorityUntil *time.Time

	// Version guards optimistic concurrent updates; every successful write
	// through the repository increments it.
	Version int64
}

func (c Cell) Open() bool {
	return c.Status == CellStatusVoting || c.Status == CellStatusDeliberating
}

func (c Cell) Closed() bool {
	return c.Status == CellStatusCompleted || c.Status == CellStatusAbandoned
}

func (c Cell) ContainsIdea(ideaID string) bool {
	for _, id := range c.IdeaIDs {
		if id == ideaID {
			return true
		}
	}
	return false
}

func (c Cell) HasParticipant(participantID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == participantID {
			return true
		}
	}
	return false
}

func (c Cell) IsMustVote(participantID string) bool {
	for _, id := range c.MustVoteIDs {
		if id == participantID {
			return true
		}
	}
	return false
}

// DeadlinePassed reports whether the cell's own deadline expired at now.
// Cells without a deadline never expire on their own.
func (c Cell) DeadlinePassed(now time.Time) bool {
	return c.VotingDeadline != nil && now.After(*c.VotingDeadline)
}

type TierStatus string

const (
	TierStatusOpen     TierStatus = "open"
	TierStatusComplete TierStatus = "complete"
)

// Tier tracks one round of parallel cell voting. Advancement is a side effect
// of the coordinator; participants never write tiers directly.
type Tier struct {
	DeliberationID string
	Number         int
	Status         TierStatus
	StartedAt      time.Time
	Deadline       *time.Time
	UpdatedAt      time.Time
}
