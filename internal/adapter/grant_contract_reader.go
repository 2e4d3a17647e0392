package adapter

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/types"
)

// GrantContractReader issues read-only calls against the GrantDistribution contract.
// Every failure is returned as *errors.ChainReadError; retry is left to callers.
type GrantContractReader struct {
	backend  ContractBackend
	contract common.Address
	abi      abi.ABI
	lookback uint64
}

// NewGrantContractReader creates a reader for the contract at contractAddress.
// lookback is the default log range when a query has no lower bound.
func NewGrantContractReader(backend ContractBackend, contractAddress string, lookback uint64) (*GrantContractReader, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, contractAddress)
	}
	parsed, err := GrantABI()
	if err != nil {
		return nil, err
	}
	return &GrantContractReader{
		backend:  backend,
		contract: common.HexToAddress(contractAddress),
		abi:      parsed,
		lookback: lookback,
	}, nil
}

// ContractAddress returns the checksummed contract address
func (r *GrantContractReader) ContractAddress() string {
	return r.contract.Hex()
}

func (r *GrantContractReader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.NewChainReadError(method, fmt.Errorf("pack: %w", err))
	}

	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, errors.NewChainReadError(method, err)
	}

	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, errors.NewChainReadError(method, fmt.Errorf("unpack: %w", err))
	}
	return values, nil
}

// BlockNumber returns the current head
func (r *GrantContractReader) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return 0, errors.NewChainReadError("blockNumber", err)
	}
	return head, nil
}

// ProjectCount returns the number of projects ever proposed; ids are 0..count-1
func (r *GrantContractReader) ProjectCount(ctx context.Context) (int64, error) {
	out, err := r.call(ctx, "projectCount")
	if err != nil {
		return 0, err
	}
	return bigToInt64("projectCount", out[0])
}

// GetProject reads and normalizes one project tuple
func (r *GrantContractReader) GetProject(ctx context.Context, chainID int64) (types.Project, error) {
	if chainID < 0 {
		return types.Project{}, errors.NewChainReadError("getProject", fmt.Errorf("negative project id %d", chainID))
	}
	out, err := r.call(ctx, "getProject", big.NewInt(chainID))
	if err != nil {
		return types.Project{}, err
	}

	tuple, ok := abi.ConvertType(out[0], new(projectTuple)).(*projectTuple)
	if !ok {
		return types.Project{}, errors.NewChainReadError("getProject", fmt.Errorf("unexpected tuple type %T", out[0]))
	}

	id, err := bigToInt64("getProject.id", tuple.Id)
	if err != nil {
		return types.Project{}, err
	}
	votesFor, err := bigToUint64("getProject.votesFor", tuple.VotesFor)
	if err != nil {
		return types.Project{}, err
	}
	votesAgainst, err := bigToUint64("getProject.votesAgainst", tuple.VotesAgainst)
	if err != nil {
		return types.Project{}, err
	}
	createdAt, err := bigToInt64("getProject.createdAt", tuple.CreatedAt)
	if err != nil {
		return types.Project{}, err
	}

	return types.Project{
		ChainID:             id,
		OwnerAddress:        tuple.ProjectAddress.Hex(),
		Name:                tuple.Name,
		Description:         tuple.Description,
		GithubURL:           tuple.GithubUrl,
		RequestedAmount:     types.NewAmount(tuple.RequestedAmount),
		VotesFor:            votesFor,
		VotesAgainst:        votesAgainst,
		TotalGrantsReceived: types.NewAmount(tuple.TotalGrantsReceived),
		CreatedAt:           createdAt,
		IsActive:            tuple.IsActive,
		IsApproved:          tuple.IsApproved,
		IsFunded:            tuple.IsFunded,
	}, nil
}

// ImpactScore reads the committed on-chain score; zero means never scored
func (r *GrantContractReader) ImpactScore(ctx context.Context, chainID int64) (uint64, error) {
	out, err := r.call(ctx, "impactScores", big.NewInt(chainID))
	if err != nil {
		return 0, err
	}
	return bigToUint64("impactScores", out[0])
}

// AssignedCompanies returns the addresses assigned to vote on a project
func (r *GrantContractReader) AssignedCompanies(ctx context.Context, chainID int64) ([]string, error) {
	out, err := r.call(ctx, "getProjectAssignedCompanies", big.NewInt(chainID))
	if err != nil {
		return nil, err
	}
	return addressesToHex("getProjectAssignedCompanies", out[0])
}

// AllCompanies returns every registered company address
func (r *GrantContractReader) AllCompanies(ctx context.Context) ([]string, error) {
	out, err := r.call(ctx, "getAllCompanies")
	if err != nil {
		return nil, err
	}
	return addressesToHex("getAllCompanies", out[0])
}

// Company reads one company record
func (r *GrantContractReader) Company(ctx context.Context, address string) (types.Company, error) {
	if !common.IsHexAddress(address) {
		return types.Company{}, errors.NewInvalidAddressError(address)
	}
	out, err := r.call(ctx, "companies", common.HexToAddress(address))
	if err != nil {
		return types.Company{}, err
	}
	if len(out) != 4 {
		return types.Company{}, errors.NewChainReadError("companies", fmt.Errorf("expected 4 outputs, got %d", len(out)))
	}

	addr, _ := out[0].(common.Address)
	name, _ := out[1].(string)
	active, _ := out[2].(bool)
	registeredAt, err := bigToInt64("companies.registeredAt", out[3])
	if err != nil {
		return types.Company{}, err
	}

	return types.Company{
		Address:      addr.Hex(),
		Name:         name,
		IsActive:     active,
		RegisteredAt: registeredAt,
	}, nil
}

// CompanyAssignedProjects returns the project ids a company must vote on
func (r *GrantContractReader) CompanyAssignedProjects(ctx context.Context, address string) ([]int64, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.NewInvalidAddressError(address)
	}
	out, err := r.call(ctx, "getCompanyAssignedProjects", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	return bigsToInt64s("getCompanyAssignedProjects", out[0])
}

// ProjectsByAddress returns the project ids owned by an address
func (r *GrantContractReader) ProjectsByAddress(ctx context.Context, address string) ([]int64, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.NewInvalidAddressError(address)
	}
	out, err := r.call(ctx, "getProjectsByAddress", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	return bigsToInt64s("getProjectsByAddress", out[0])
}

// Treasury reads balance, total distributed, project count and oracle address
func (r *GrantContractReader) Treasury(ctx context.Context) (types.TreasurySummary, error) {
	var summary types.TreasurySummary

	out, err := r.call(ctx, "getTreasuryBalance")
	if err != nil {
		return summary, err
	}
	summary.Balance = types.NewAmount(asBig(out[0]))

	out, err = r.call(ctx, "totalDistributed")
	if err != nil {
		return summary, err
	}
	summary.TotalDistributed = types.NewAmount(asBig(out[0]))

	if summary.ProjectCount, err = r.ProjectCount(ctx); err != nil {
		return summary, err
	}

	out, err = r.call(ctx, "aiOracle")
	if err != nil {
		return summary, err
	}
	oracle, _ := out[0].(common.Address)
	summary.AIOracle = oracle.Hex()

	return summary, nil
}

// Call invokes any view or pure function by name with loosely typed arguments and
// returns the normalized result. A single output is returned bare; several are
// returned as an object keyed by output name, or by position when unnamed.
func (r *GrantContractReader) Call(ctx context.Context, functionName string, args []interface{}) (interface{}, error) {
	method, ok := r.abi.Methods[functionName]
	if !ok {
		return nil, errors.NewInvalidParameterError("functionName", fmt.Sprintf("%v: %s", ErrUnknownFunction, functionName))
	}
	if !method.IsConstant() {
		return nil, errors.NewInvalidParameterError("functionName", fmt.Sprintf("%v: %s", ErrNotReadOnly, functionName))
	}

	coerced, err := CoerceArgs(method.Inputs, args)
	if err != nil {
		return nil, errors.NewInvalidParameterError("args", err.Error())
	}

	out, err := r.call(ctx, functionName, coerced...)
	if err != nil {
		return nil, err
	}

	if len(out) == 1 {
		return Normalize(out[0]), nil
	}
	result := make(map[string]interface{}, len(out))
	for i, v := range out {
		key := method.Outputs[i].Name
		if key == "" {
			key = fmt.Sprint(i)
		}
		result[key] = Normalize(v)
	}
	return result, nil
}

// rawLog is a decoded log with typed argument values
type rawLog struct {
	log  ethtypes.Log
	args map[string]interface{}
}

// resolveRange applies the lookback default: from = head-lookback (floored at 0), to = head
func (r *GrantContractReader) resolveRange(ctx context.Context, from, to *uint64) (uint64, uint64, error) {
	if from != nil && to != nil {
		if *from > *to {
			return 0, 0, errors.NewInvalidParameterError("fromBlock", ErrInvalidBlockRange.Error())
		}
		return *from, *to, nil
	}

	head, err := r.BlockNumber(ctx)
	if err != nil {
		return 0, 0, err
	}

	end := head
	if to != nil {
		end = *to
	}
	var start uint64
	if from != nil {
		start = *from
	} else if end > r.lookback {
		start = end - r.lookback
	}
	if start > end {
		return 0, 0, errors.NewInvalidParameterError("fromBlock", ErrInvalidBlockRange.Error())
	}
	return start, end, nil
}

func (r *GrantContractReader) filter(ctx context.Context, eventName string, from, to *uint64) ([]rawLog, error) {
	event, ok := r.abi.Events[eventName]
	if !ok {
		return nil, errors.NewInvalidParameterError("eventName", fmt.Sprintf("%v: %s", ErrUnknownEvent, eventName))
	}

	start, end, err := r.resolveRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: []common.Address{r.contract},
		Topics:    [][]common.Hash{{event.ID}},
	}

	logs, err := r.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.NewChainReadError("getLogs", err)
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	out := make([]rawLog, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		args := make(map[string]interface{})
		if len(lg.Data) > 0 {
			if err := r.abi.UnpackIntoMap(args, eventName, lg.Data); err != nil {
				return nil, errors.NewChainReadError("getLogs", fmt.Errorf("decode %s data: %w", eventName, err))
			}
		}
		if len(lg.Topics) > 1 {
			if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
				return nil, errors.NewChainReadError("getLogs", fmt.Errorf("decode %s topics: %w", eventName, err))
			}
		}
		out = append(out, rawLog{log: lg, args: args})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].log.BlockNumber != out[j].log.BlockNumber {
			return out[i].log.BlockNumber < out[j].log.BlockNumber
		}
		return out[i].log.Index < out[j].log.Index
	})
	return out, nil
}

// GetLogs returns decoded logs for eventName, ordered by (blockNumber, logIndex)
func (r *GrantContractReader) GetLogs(ctx context.Context, eventName string, from, to *uint64) ([]types.ChainLog, error) {
	raw, err := r.filter(ctx, eventName, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]types.ChainLog, 0, len(raw))
	for _, rl := range raw {
		args := make(map[string]interface{}, len(rl.args))
		for k, v := range rl.args {
			args[k] = Normalize(v)
		}
		out = append(out, types.ChainLog{
			BlockNumber:     new(big.Int).SetUint64(rl.log.BlockNumber).String(),
			TransactionHash: rl.log.TxHash.Hex(),
			LogIndex:        rl.log.Index,
			Args:            args,
		})
	}
	return out, nil
}

// GrantEvents returns GrantDistributed events ordered by (blockNumber, logIndex) ascending
func (r *GrantContractReader) GrantEvents(ctx context.Context, from, to *uint64) ([]types.GrantEvent, error) {
	raw, err := r.filter(ctx, EventGrantDistributed, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]types.GrantEvent, 0, len(raw))
	for _, rl := range raw {
		projectID, err := bigToInt64("GrantDistributed.projectId", rl.args["projectId"])
		if err != nil {
			return nil, err
		}
		timestamp, err := bigToInt64("GrantDistributed.timestamp", rl.args["timestamp"])
		if err != nil {
			return nil, err
		}
		recipient, _ := rl.args["recipient"].(common.Address)

		out = append(out, types.GrantEvent{
			ProjectChainID:   projectID,
			RecipientAddress: recipient.Hex(),
			Amount:           types.NewAmount(asBig(rl.args["amount"])),
			TimestampSeconds: timestamp,
			TransactionHash:  rl.log.TxHash.Hex(),
			BlockNumber:      rl.log.BlockNumber,
			LogIndex:         rl.log.Index,
		})
	}
	return out, nil
}

// ProposedProjectID extracts the project id from a ProjectProposed log in a receipt
func (r *GrantContractReader) ProposedProjectID(logs []*ethtypes.Log) (int64, bool) {
	event := r.abi.Events[EventProjectProposed]
	for _, lg := range logs {
		if lg == nil || lg.Address != r.contract || len(lg.Topics) < 2 || lg.Topics[0] != event.ID {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if !id.IsInt64() {
			continue
		}
		return id.Int64(), true
	}
	return 0, false
}

func asBig(v interface{}) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b
	}
	return new(big.Int)
}

func bigToInt64(op string, v interface{}) (int64, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return 0, errors.NewChainReadError(op, fmt.Errorf("expected integer, got %T", v))
	}
	if b.Sign() < 0 || !b.IsInt64() {
		return 0, errors.NewChainReadError(op, fmt.Errorf("value %s out of range", b.String()))
	}
	return b.Int64(), nil
}

func bigToUint64(op string, v interface{}) (uint64, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return 0, errors.NewChainReadError(op, fmt.Errorf("expected integer, got %T", v))
	}
	if !b.IsUint64() {
		return 0, errors.NewChainReadError(op, fmt.Errorf("value %s out of range", b.String()))
	}
	return b.Uint64(), nil
}

func bigsToInt64s(op string, v interface{}) ([]int64, error) {
	list, ok := v.([]*big.Int)
	if !ok {
		return nil, errors.NewChainReadError(op, fmt.Errorf("expected uint256[], got %T", v))
	}
	out := make([]int64, 0, len(list))
	for _, b := range list {
		id, err := bigToInt64(op, b)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func addressesToHex(op string, v interface{}) ([]string, error) {
	list, ok := v.([]common.Address)
	if !ok {
		return nil, errors.NewChainReadError(op, fmt.Errorf("expected address[], got %T", v))
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Hex()
	}
	return out, nil
}
