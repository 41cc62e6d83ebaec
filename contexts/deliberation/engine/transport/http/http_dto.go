package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateDeliberationRequest struct {
	Question       string `json:"question"`
	RollingMode    bool   `json:"rolling_mode,omitempty"`
	OnePerAuthor   bool   `json:"one_per_author,omitempty"`
	IdeaCap        int    `json:"idea_cap,omitempty"`
	AllocationMode string `json:"allocation_mode,omitempty"`
}

type DeliberationResponse struct {
	DeliberationID string `json:"deliberation_id"`
	Question       string `json:"question"`
	Phase          string `json:"phase"`
	CurrentTier    int    `json:"current_tier"`
	RollingMode    bool   `json:"rolling_mode"`
	OnePerAuthor   bool   `json:"one_per_author"`
	IdeaCap        int    `json:"idea_cap,omitempty"`
	AllocationMode string `json:"allocation_mode"`
	CreatedAt      string `json:"created_at"`
}

type OpenVotingRequest struct {
	Participants []string `json:"participants,omitempty"`
	MustVoteIDs  []string `json:"must_vote_ids,omitempty"`
	Deadline     string   `json:"deadline,omitempty"`
}

type ChallengeRoundRequest struct {
	Deadline string `json:"deadline,omitempty"`
}

type SubmitIdeaRequest struct {
	Text string `json:"text"`
}

type IdeaResponse struct {
	IdeaID         string `json:"idea_id"`
	DeliberationID string `json:"deliberation_id"`
	AuthorID       string `json:"author_id"`
	Text           string `json:"text"`
	Status         string `json:"status"`
	Tier           int    `json:"tier"`
	TimesPresented int    `json:"times_presented"`
	TotalPoints    int    `json:"total_points"`
	TotalVoters    int    `json:"total_voters"`
	CreatedAt      string `json:"created_at"`
}

type CellResponse struct {
	CellID             string   `json:"cell_id"`
	DeliberationID     string   `json:"deliberation_id"`
	Tier               int      `json:"tier"`
	Status             string   `json:"status"`
	IdeaIDs            []string `json:"idea_ids"`
	ParticipantIDs     []string `json:"participant_ids,omitempty"`
	VotesNeeded        int      `json:"votes_needed"`
	IsFinalVote        bool     `json:"is_final_vote"`
	VotingDeadline     string   `json:"voting_deadline,omitempty"`
	FinalizesAt        string   `json:"finalizes_at,omitempty"`
	HumanPriorityUntil string   `json:"human_priority_until,omitempty"`
}

type AllocationItem struct {
	IdeaID string `json:"idea_id"`
	Points int    `json:"points"`
}

type CastVoteRequest struct {
	Allocations []AllocationItem `json:"allocations"`
	Automated   bool             `json:"automated,omitempty"`
}

type CastVoteResponse struct {
	CellID        string           `json:"cell_id"`
	ParticipantID string           `json:"participant_id"`
	Allocations   []AllocationItem `json:"allocations"`
	CellComplete  bool             `json:"cell_complete"`
	FinalizesAt   string           `json:"finalizes_at,omitempty"`
}

type ReservationResponse struct {
	CellID        string `json:"cell_id"`
	ParticipantID string `json:"participant_id"`
	ExpiresAt     string `json:"expires_at"`
}

type PostCommentRequest struct {
	IdeaID string `json:"idea_id,omitempty"`
	Text   string `json:"text"`
}

type CommentResponse struct {
	CommentID      string `json:"comment_id"`
	DeliberationID string `json:"deliberation_id"`
	CellID         string `json:"cell_id"`
	IdeaID         string `json:"idea_id,omitempty"`
	AuthorID       string `json:"author_id"`
	Text           string `json:"text"`
	UpvoteCount    int    `json:"upvote_count"`
	ReachTier      int    `json:"reach_tier"`
	CreatedAt      string `json:"created_at"`
}

type CellViewResponse struct {
	Cell     CellResponse      `json:"cell"`
	Ideas    []IdeaResponse    `json:"ideas"`
	Ballot   *CastVoteResponse `json:"ballot,omitempty"`
	Comments []CommentResponse `json:"comments"`
}

type CellResultsResponse struct {
	CellID         string         `json:"cell_id"`
	Winners        []string       `json:"winners"`
	Recycled       []string       `json:"recycled"`
	Eliminated     []string       `json:"eliminated"`
	Totals         map[string]int `json:"totals"`
	DistinctVoters int            `json:"distinct_voters"`
}

type ChampionResponse struct {
	DeliberationID string `json:"deliberation_id"`
	IdeaID         string `json:"idea_id"`
	TotalTiers     int    `json:"total_tiers"`
	TotalVoters    int    `json:"total_voters"`
	DeclaredAt     string `json:"declared_at"`
}

type TierResponse struct {
	Number   int    `json:"number"`
	Status   string `json:"status"`
	Deadline string `json:"deadline,omitempty"`
}

type CellSummaryItem struct {
	Cell    CellResponse         `json:"cell"`
	Ideas   []IdeaResponse       `json:"ideas"`
	Results *CellResultsResponse `json:"results,omitempty"`
}

type DeliberationStateResponse struct {
	Deliberation DeliberationResponse `json:"deliberation"`
	Tiers        []TierResponse       `json:"tiers"`
	Cells        []CellSummaryItem    `json:"cells"`
	Champion     *ChampionResponse    `json:"champion,omitempty"`
}

type DeliberationListResponse struct {
	Items []DeliberationResponse `json:"items"`
}

type IdeaListResponse struct {
	Items []IdeaResponse `json:"items"`
}

type CellListResponse struct {
	Items []CellResponse `json:"items"`
}
