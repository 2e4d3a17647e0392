// Package types provides common type definitions for the grant reconciliation service.
package types

import "time"

// Provenance records where a resolved chain project id came from
type Provenance string

const (
	// ProvenanceConfirmed means the id was stored explicitly on the catalog row
	ProvenanceConfirmed Provenance = "confirmed"
	// ProvenanceInferred means the id was derived with the legacy catalogId-1 rule
	ProvenanceInferred Provenance = "inferred"
)

// StatusBadge is the display status derived from a project's flags
type StatusBadge string

const (
	// BadgeFunded is shown once a grant has been distributed
	BadgeFunded StatusBadge = "Funded"
	// BadgeApproved is shown once quorum approved the project
	BadgeApproved StatusBadge = "Approved"
	// BadgeInactive is shown for deactivated projects
	BadgeInactive StatusBadge = "Inactive"
	// BadgePending is shown while voting is open
	BadgePending StatusBadge = "Pending"
)

// Project is the on-chain project record, normalized
type Project struct {
	ChainID             int64   `json:"chainId"`
	OwnerAddress        string  `json:"ownerAddress"`
	Name                string  `json:"name"`
	Description         string  `json:"description"`
	GithubURL           string  `json:"githubUrl"`
	RequestedAmount     Amount  `json:"requestedAmount"`
	VotesFor            uint64  `json:"votesFor"`
	VotesAgainst        uint64  `json:"votesAgainst"`
	TotalGrantsReceived Amount  `json:"totalGrantsReceived"`
	CreatedAt           int64   `json:"createdAt"` // Unix seconds
	IsActive            bool    `json:"isActive"`
	IsApproved          bool    `json:"isApproved"`
	IsFunded            bool    `json:"isFunded"`
	ImpactScore         *uint64 `json:"impactScore,omitempty"` // nil when never written on chain
}

// Company is a registered voting company
type Company struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	IsActive     bool   `json:"isActive"`
	RegisteredAt int64  `json:"registeredAt"`
}

// AssignedCompany is an assignment joined through the company index
type AssignedCompany struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	// Registered is false when the address is assigned but missing from the registry
	Registered bool `json:"registered"`
}

// RepoMetrics holds repository activity fetched from the code host
type RepoMetrics struct {
	Stars        int    `json:"stars"`
	Forks        int    `json:"forks"`
	Issues       int    `json:"issues"`
	Watchers     int    `json:"watchers"`
	Commits      int    `json:"commits"`
	PullRequests int    `json:"pullRequests"`
	Contributors int    `json:"contributors"`
	CreatedAt    string `json:"createdAt,omitempty"`
	LastUpdated  string `json:"lastUpdated,omitempty"`
	LastPushed   string `json:"lastPushed,omitempty"`
}

// ScoreBreakdown holds the five named score components
type ScoreBreakdown struct {
	CodeQuality         int `json:"codeQuality"`
	CommunityEngagement int `json:"communityEngagement"`
	Sustainability      int `json:"sustainability"`
	ImpactPotential     int `json:"impactPotential"`
	Innovation          int `json:"innovation"`
}

// ScoreSource identifies which scorer produced a result
type ScoreSource string

const (
	// ScoreSourceDeterministic is the weighted formula over repository metrics
	ScoreSourceDeterministic ScoreSource = "deterministic"
	// ScoreSourceGenerative is a parsed response from the generative backend
	ScoreSourceGenerative ScoreSource = "generative"
)

// ScoreResult is an ephemeral, session-scoped impact score
type ScoreResult struct {
	ProjectChainID  int64          `json:"projectChainId"`
	ImpactScore     int            `json:"impactScore"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Reasoning       string         `json:"reasoning"`
	Recommendations []string       `json:"recommendations"`
	Source          ScoreSource    `json:"source"`
	// Degraded is set when metrics or the generative backend failed and defaults were used
	Degraded   bool      `json:"degraded"`
	ComputedAt time.Time `json:"computedAt"`
}

// GrantEvent is one observed GrantDistributed log
type GrantEvent struct {
	ProjectChainID   int64  `json:"projectChainId"`
	ProjectName      string `json:"projectName,omitempty"`
	RecipientAddress string `json:"recipientAddress"`
	Amount           Amount `json:"amount"`
	TimestampSeconds int64  `json:"timestampSeconds"`
	TransactionHash  string `json:"transactionHash"`
	BlockNumber      uint64 `json:"blockNumber"`
	LogIndex         uint   `json:"logIndex"`
}

// ChainLog is a decoded contract log with every integer normalized to a decimal string
type ChainLog struct {
	BlockNumber     string                 `json:"blockNumber"`
	TransactionHash string                 `json:"transactionHash"`
	LogIndex        uint                   `json:"logIndex"`
	Args            map[string]interface{} `json:"args"`
}

// TreasurySummary aggregates treasury reads
type TreasurySummary struct {
	Balance          Amount `json:"balance"`
	TotalDistributed Amount `json:"totalDistributed"`
	ProjectCount     int64  `json:"projectCount"`
	AIOracle         string `json:"aiOracle"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
