package types

// ProjectView is the derived read model for a single project
type ProjectView struct {
	Project           Project           `json:"project"`
	CatalogID         *int64            `json:"catalogId,omitempty"`
	Provenance        Provenance        `json:"provenance,omitempty"`
	AssignedCompanies []AssignedCompany `json:"assignedCompanies"`
	Score             *ScoreResult      `json:"score,omitempty"`
	TotalVotes        uint64            `json:"totalVotes"`
	ApprovalRate      int               `json:"approvalRate"`
	RejectionRate     int               `json:"rejectionRate"`
	StatusBadge       StatusBadge       `json:"statusBadge"`
	// Stale is set when a post-confirmation refresh gave up before chain state caught up
	Stale bool `json:"stale,omitempty"`
}

// ViewError records a per-project failure during a list refresh
type ViewError struct {
	ProjectChainID int64  `json:"projectChainId"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// ProjectList is the result of a list refresh.
// Views are always sorted; Errors holds projects that failed to assemble.
type ProjectList struct {
	Views  []ProjectView `json:"views"`
	Errors []ViewError   `json:"errors,omitempty"`
}

// CompanyQueueEntry is a project assigned to a company, with the company's vote state
type CompanyQueueEntry struct {
	View     ProjectView `json:"view"`
	HasVoted bool        `json:"hasVoted"`
}

// DeriveBadge maps project flags to a status badge. Funded wins over Approved,
// which wins over Inactive.
func DeriveBadge(p Project) StatusBadge {
	switch {
	case p.IsFunded:
		return BadgeFunded
	case p.IsApproved:
		return BadgeApproved
	case !p.IsActive:
		return BadgeInactive
	default:
		return BadgePending
	}
}
