package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// IntentKind names a kind of state-changing contract action
type IntentKind string

const (
	IntentPropose          IntentKind = "propose"
	IntentVote             IntentKind = "vote"
	IntentAssignCompanies  IntentKind = "assign_companies"
	IntentDistributeGrants IntentKind = "distribute_grants"
	IntentRegisterCompany  IntentKind = "register_company"
	IntentUpdateScore      IntentKind = "update_score"
	IntentUpdateOracle     IntentKind = "update_oracle"
	IntentDepositTreasury  IntentKind = "deposit_treasury"
)

// ProjectRef is a resolved chain project id together with its provenance
type ProjectRef struct {
	ChainID    int64      `json:"chainId"`
	Provenance Provenance `json:"provenance"`
}

// Intent is a user-initiated state-changing request.
// Key identifies the action for single-flight purposes.
type Intent interface {
	Kind() IntentKind
	Key() string
	// Projects lists every project the intent touches
	Projects() []ProjectRef
	// Irreversible intents must not run against inferred ids
	Irreversible() bool
}

// ProposeIntent proposes a new project on chain.
// CatalogID, when set, links the confirmed chain id back to the catalog row.
type ProposeIntent struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	GithubURL       string `json:"githubUrl"`
	RequestedAmount Amount `json:"requestedAmount"`
	CatalogID       int64  `json:"catalogId,omitempty"`
}

func (i ProposeIntent) Kind() IntentKind { return IntentPropose }
func (i ProposeIntent) Key() string {
	return "propose:" + repositoryToken(i.GithubURL)
}

// repositoryToken reduces a repository URL to colon-separated path words so
// the key stays a single URL path segment ("acme:widgets").
func repositoryToken(githubURL string) string {
	u := strings.ToLower(strings.TrimSpace(githubURL))
	for _, prefix := range []string{"https://", "http://", "www.", "github.com/"} {
		u = strings.TrimPrefix(u, prefix)
	}
	u = strings.TrimSuffix(strings.TrimSuffix(u, "/"), ".git")
	words := strings.FieldsFunc(u, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.')
	})
	return strings.Join(words, ":")
}
func (i ProposeIntent) Projects() []ProjectRef { return nil }
func (i ProposeIntent) Irreversible() bool     { return false }

// VoteIntent casts a company vote
type VoteIntent struct {
	Project ProjectRef `json:"project"`
	Support bool       `json:"support"`
}

func (i VoteIntent) Kind() IntentKind { return IntentVote }
func (i VoteIntent) Key() string {
	return fmt.Sprintf("vote:%d", i.Project.ChainID)
}
func (i VoteIntent) Projects() []ProjectRef { return []ProjectRef{i.Project} }
func (i VoteIntent) Irreversible() bool     { return true }

// AssignCompaniesIntent assigns a project to voting companies
type AssignCompaniesIntent struct {
	Project   ProjectRef `json:"project"`
	Companies []string   `json:"companies"`
}

func (i AssignCompaniesIntent) Kind() IntentKind { return IntentAssignCompanies }
func (i AssignCompaniesIntent) Key() string {
	return fmt.Sprintf("assign:%d", i.Project.ChainID)
}
func (i AssignCompaniesIntent) Projects() []ProjectRef { return []ProjectRef{i.Project} }
func (i AssignCompaniesIntent) Irreversible() bool     { return true }

// GrantAllocation is one line of a batch distribution
type GrantAllocation struct {
	Project ProjectRef `json:"project"`
	Amount  Amount     `json:"amount"`
	Reason  string     `json:"reason"`
}

// DistributeGrantsIntent distributes grants in a single batch
type DistributeGrantsIntent struct {
	Allocations []GrantAllocation `json:"allocations"`
}

func (i DistributeGrantsIntent) Kind() IntentKind { return IntentDistributeGrants }
func (i DistributeGrantsIntent) Key() string {
	ids := make([]int64, 0, len(i.Allocations))
	for _, a := range i.Allocations {
		ids = append(ids, a.Project.ChainID)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	parts := make([]string, len(ids))
	for n, id := range ids {
		parts[n] = strconv.FormatInt(id, 10)
	}
	return "distribute:" + strings.Join(parts, ",")
}
func (i DistributeGrantsIntent) Projects() []ProjectRef {
	refs := make([]ProjectRef, 0, len(i.Allocations))
	for _, a := range i.Allocations {
		refs = append(refs, a.Project)
	}
	return refs
}
func (i DistributeGrantsIntent) Irreversible() bool { return true }

// RegisterCompanyIntent registers a voting company
type RegisterCompanyIntent struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

func (i RegisterCompanyIntent) Kind() IntentKind { return IntentRegisterCompany }
func (i RegisterCompanyIntent) Key() string {
	return "register:" + strings.ToLower(i.Address)
}
func (i RegisterCompanyIntent) Projects() []ProjectRef { return nil }
func (i RegisterCompanyIntent) Irreversible() bool     { return false }

// UpdateScoreIntent writes an impact score back to chain
type UpdateScoreIntent struct {
	Project ProjectRef `json:"project"`
	Score   uint64     `json:"score"`
}

func (i UpdateScoreIntent) Kind() IntentKind { return IntentUpdateScore }
func (i UpdateScoreIntent) Key() string {
	return fmt.Sprintf("score:%d", i.Project.ChainID)
}
func (i UpdateScoreIntent) Projects() []ProjectRef { return []ProjectRef{i.Project} }
func (i UpdateScoreIntent) Irreversible() bool     { return false }

// UpdateOracleIntent replaces the AI oracle address
type UpdateOracleIntent struct {
	Oracle string `json:"oracle"`
}

func (i UpdateOracleIntent) Kind() IntentKind       { return IntentUpdateOracle }
func (i UpdateOracleIntent) Key() string            { return "oracle" }
func (i UpdateOracleIntent) Projects() []ProjectRef { return nil }
func (i UpdateOracleIntent) Irreversible() bool     { return false }

// DepositTreasuryIntent sends value to the treasury
type DepositTreasuryIntent struct {
	Value Amount `json:"value"`
}

func (i DepositTreasuryIntent) Kind() IntentKind       { return IntentDepositTreasury }
func (i DepositTreasuryIntent) Key() string            { return "deposit" }
func (i DepositTreasuryIntent) Projects() []ProjectRef { return nil }
func (i DepositTreasuryIntent) Irreversible() bool     { return false }
