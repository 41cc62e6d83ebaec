package entities

import "time"

type Phase string

const (
	PhaseSubmission   Phase = "submission"
	PhaseVoting       Phase = "voting"
	PhaseAccumulating Phase = "accumulating"
	PhaseCompleted    Phase = "completed"
)

// AllocationMode selects how participants are assigned to cells.
type AllocationMode string

const (
	// AllocationFCFS lets participants take open seats on demand through
	// reservations.
	AllocationFCFS AllocationMode = "fcfs"
	// AllocationBalanced distributes the eligible participant pool round-robin
	// across a tier's cells up front.
	AllocationBalanced AllocationMode = "balanced"
)

type Deliberation struct {
	DeliberationID string
	Question       string
	Phase          Phase
	CurrentTier    int
	RollingMode    bool
	OnePerAuthor   bool
	IdeaCap        int
	AllocationMode AllocationMode
	// Participants and MustVoteIDs hold the balanced-mode roster captured when
	// voting opens. Every later cell-formation pass reseats from this roster.
	Participants   []string
	MustVoteIDs    []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Champion is the declared winner of a deliberation. In rolling mode it is the
// sitting incumbent that challenge rounds compete against.
type Champion struct {
	DeliberationID string
	IdeaID         string
	TotalTiers     int
	TotalVoters    int
	DeclaredAt     time.Time
}

// EngineConfig carries the tunable product constants of the engine. The point
// floor and retry cap are deliberately configuration, not invariants.
type EngineConfig struct {
	TargetCellSize      int
	MinCellSize         int
	MaxCellSize         int
	PointBudget         int
	RecycleFloor        int
	RetryCap            int
	TargetVotersPerCell int
	MinForcedVotes      int

	ReservationTTL        time.Duration
	GraceWindow           time.Duration
	MustVoteExtension     time.Duration
	HumanPriorityWindow   time.Duration
	SupermajorityFraction float64
	SupermajorityDelay    time.Duration

	// LegacyPlurality switches cells to one indivisible vote per participant
	// with simple plurality winners instead of 10-point allocations.
	LegacyPlurality bool
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TargetCellSize:        5,
		MinCellSize:           3,
		MaxCellSize:           7,
		PointBudget:           10,
		RecycleFloor:          2,
		RetryCap:              3,
		TargetVotersPerCell:   5,
		MinForcedVotes:        2,
		ReservationTTL:        90 * time.Second,
		GraceWindow:           10 * time.Second,
		MustVoteExtension:     30 * time.Second,
		HumanPriorityWindow:   2 * time.Minute,
		SupermajorityFraction: 0.8,
		SupermajorityDelay:    10 * time.Minute,
	}
}
