package entities

import "time"

type IdeaStatus string

const (
	IdeaStatusQueued     IdeaStatus = "queued"
	IdeaStatusInVoting   IdeaStatus = "in_voting"
	IdeaStatusAdvancing  IdeaStatus = "advancing"
	IdeaStatusRecycled   IdeaStatus = "recycled"
	IdeaStatusDefending  IdeaStatus = "defending"
	IdeaStatusBenched    IdeaStatus = "benched"
	IdeaStatusWinner     IdeaStatus = "winner"
	IdeaStatusEliminated IdeaStatus = "eliminated"
	IdeaStatusRetired    IdeaStatus = "retired"
)

// Idea is owned by the registry; cells reference it by id and never copy it.
type Idea struct {
	IdeaID         string
	DeliberationID string
	AuthorID       string
	Text           string
	Status         IdeaStatus
	Tier           int
	TimesPresented int
	TotalPoints    int
	TotalVoters    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Packable reports whether the idea can enter a new cell at the given tier.
// Ideas past the retry cap are excluded; the evaluator eliminates them on the
// next finalize.
func (i Idea) Packable(tier int, retryCap int) bool {
	if i.Tier != tier {
		return false
	}
	if i.TimesPresented >= retryCap && i.Status == IdeaStatusRecycled {
		return false
	}
	switch i.Status {
	case IdeaStatusQueued, IdeaStatusRecycled, IdeaStatusAdvancing, IdeaStatusDefending:
		return true
	default:
		return false
	}
}

// Terminal reports whether the idea's lifecycle has ended.
func (i Idea) Terminal() bool {
	switch i.Status {
	case IdeaStatusWinner, IdeaStatusEliminated, IdeaStatusRetired:
		return true
	default:
		return false
	}
}
