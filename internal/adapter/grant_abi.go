package adapter

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// GrantDistributionABI is the JSON ABI of the GrantDistribution contract, limited to the
// members this service reads, writes or filters.
const GrantDistributionABI = `[
  {"type":"function","name":"projectCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getProject","stateMutability":"view",
   "inputs":[{"name":"_projectId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},
     {"name":"projectAddress","type":"address"},
     {"name":"name","type":"string"},
     {"name":"description","type":"string"},
     {"name":"githubUrl","type":"string"},
     {"name":"requestedAmount","type":"uint256"},
     {"name":"votesFor","type":"uint256"},
     {"name":"votesAgainst","type":"uint256"},
     {"name":"totalGrantsReceived","type":"uint256"},
     {"name":"createdAt","type":"uint256"},
     {"name":"isActive","type":"bool"},
     {"name":"isApproved","type":"bool"},
     {"name":"isFunded","type":"bool"}]}]},
  {"type":"function","name":"getProjectAssignedCompanies","stateMutability":"view",
   "inputs":[{"name":"_projectId","type":"uint256"}],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"companies","stateMutability":"view",
   "inputs":[{"name":"_address","type":"address"}],
   "outputs":[{"name":"companyAddress","type":"address"},{"name":"name","type":"string"},{"name":"isActive","type":"bool"},{"name":"registeredAt","type":"uint256"}]},
  {"type":"function","name":"getAllCompanies","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getCompanyAssignedProjects","stateMutability":"view",
   "inputs":[{"name":"_companyAddress","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getProjectsByAddress","stateMutability":"view",
   "inputs":[{"name":"_projectAddress","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getTreasuryBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"totalDistributed","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"aiOracle","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"impactScores","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},

  {"type":"function","name":"proposeProject","stateMutability":"nonpayable",
   "inputs":[{"name":"_name","type":"string"},{"name":"_description","type":"string"},{"name":"_githubUrl","type":"string"},{"name":"_requestedAmount","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"voteOnProject","stateMutability":"nonpayable",
   "inputs":[{"name":"_projectId","type":"uint256"},{"name":"_support","type":"bool"}],"outputs":[]},
  {"type":"function","name":"assignProjectToCompanies","stateMutability":"nonpayable",
   "inputs":[{"name":"_projectId","type":"uint256"},{"name":"_companies","type":"address[]"}],"outputs":[]},
  {"type":"function","name":"distributeGrants","stateMutability":"nonpayable",
   "inputs":[{"name":"_projectIds","type":"uint256[]"},{"name":"_amounts","type":"uint256[]"},{"name":"_reasons","type":"string[]"}],"outputs":[]},
  {"type":"function","name":"registerCompany","stateMutability":"nonpayable",
   "inputs":[{"name":"_companyAddress","type":"address"},{"name":"_name","type":"string"}],"outputs":[]},
  {"type":"function","name":"updateImpactScore","stateMutability":"nonpayable",
   "inputs":[{"name":"_projectId","type":"uint256"},{"name":"_score","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"updateAIOracle","stateMutability":"nonpayable",
   "inputs":[{"name":"_newOracle","type":"address"}],"outputs":[]},
  {"type":"function","name":"depositToTreasury","stateMutability":"payable","inputs":[],"outputs":[]},

  {"type":"event","name":"GrantDistributed","anonymous":false,"inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"recipient","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"ProjectProposed","anonymous":false,"inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"projectAddress","type":"address","indexed":true},
    {"name":"name","type":"string","indexed":false},
    {"name":"requestedAmount","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"VoteCast","anonymous":false,"inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"company","type":"address","indexed":true},
    {"name":"support","type":"bool","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"ProjectApproved","anonymous":false,"inputs":[
    {"name":"projectId","type":"uint256","indexed":true},
    {"name":"votesFor","type":"uint256","indexed":false},
    {"name":"votesAgainst","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]}
]`

// Event names the log query accepts
const (
	EventGrantDistributed = "GrantDistributed"
	EventProjectProposed  = "ProjectProposed"
	EventVoteCast         = "VoteCast"
	EventProjectApproved  = "ProjectApproved"
)

var (
	grantABIOnce sync.Once
	grantABI     abi.ABI
	grantABIErr  error
)

// GrantABI returns the parsed contract ABI
func GrantABI() (abi.ABI, error) {
	grantABIOnce.Do(func() {
		grantABI, grantABIErr = abi.JSON(strings.NewReader(GrantDistributionABI))
		if grantABIErr != nil {
			grantABIErr = fmt.Errorf("failed to parse GrantDistribution ABI: %w", grantABIErr)
		}
	})
	return grantABI, grantABIErr
}

// projectTuple mirrors the getProject tuple; field order and names follow the ABI
type projectTuple struct {
	Id                  *big.Int
	ProjectAddress      common.Address
	Name                string
	Description         string
	GithubUrl           string
	RequestedAmount     *big.Int
	VotesFor            *big.Int
	VotesAgainst        *big.Int
	TotalGrantsReceived *big.Int
	CreatedAt           *big.Int
	IsActive            bool
	IsApproved          bool
	IsFunded            bool
}
