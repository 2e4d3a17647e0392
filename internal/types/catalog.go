package types

import "time"

// CatalogProject is a row of the off-chain project catalog.
// Catalog ids are 1-based and independent of chain ids.
type CatalogProject struct {
	ID                  int64     `json:"id"`
	ProjectAddress      string    `json:"projectAddress"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	GithubURL           string    `json:"githubUrl"`
	RequestedAmount     Amount    `json:"requestedAmount"`
	VotesFor            int64     `json:"votesFor"`
	VotesAgainst        int64     `json:"votesAgainst"`
	IsApproved          bool      `json:"isApproved"`
	IsFunded            bool      `json:"isFunded"`
	IsActive            bool      `json:"isActive"`
	IsVerified          bool      `json:"isVerified"`
	BlockchainTxHash    *string   `json:"blockchainTxHash,omitempty"`
	BlockchainProjectID *int64    `json:"blockchainProjectId,omitempty"`
	ImpactScore         *int      `json:"impactScore,omitempty"`
	TotalGrantsReceived Amount    `json:"totalGrantsReceived"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// NewCatalogProject is the create payload for the catalog
type NewCatalogProject struct {
	ProjectAddress      string  `json:"projectAddress"`
	Name                string  `json:"name"`
	Description         string  `json:"description"`
	GithubURL           string  `json:"githubUrl"`
	RequestedAmount     *Amount `json:"requestedAmount,omitempty"`
	BlockchainTxHash    *string `json:"blockchainTxHash,omitempty"`
	BlockchainProjectID *int64  `json:"blockchainProjectId,omitempty"`
	AIScore             *int    `json:"aiScore,omitempty"`
}

// CatalogEntry is a catalog row with its reconciled chain id.
// ChainID is nil when the row could not be reconciled.
type CatalogEntry struct {
	CatalogProject
	ChainID    *int64     `json:"chainId,omitempty"`
	Provenance Provenance `json:"provenance,omitempty"`
	Unresolved string     `json:"unresolved,omitempty"`
}
