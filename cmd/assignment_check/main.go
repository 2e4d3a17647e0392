package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/grant-reconciler/internal/adapter"
	"github.com/grant-reconciler/internal/config"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/service"
)

func main() {
	projectFlag := flag.Int64("project", -1, "Only check this chain project id (optional)")
	timeoutFlag := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.LevelWarn, logging.FormatText)
	logger := logging.GetGlobalLogger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	pool, err := adapter.NewRPCPool(ctx, &adapter.RPCPoolConfig{Endpoints: cfg.Chain.RPCEndpoints})
	if err != nil {
		fmt.Printf("Error connecting to RPC: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	reader, err := adapter.NewGrantContractReader(pool, cfg.Chain.ContractAddress, cfg.Chain.LogLookbackBlocks)
	if err != nil {
		fmt.Printf("Error creating contract reader: %v\n", err)
		os.Exit(1)
	}

	resolver := service.NewCompanyResolver(reader, cfg.Refresh.MaxConcurrency, logger)
	idx, order, err := resolver.BuildIndex(ctx)
	if err != nil {
		fmt.Printf("Error building company index: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registered companies: %d (%d readable)\n", len(order), len(idx))
	for _, c := range idx.Companies(order) {
		fmt.Printf("  %s  %-30s active=%v\n", c.Address, c.Name, c.IsActive)
	}

	count, err := reader.ProjectCount(ctx)
	if err != nil {
		fmt.Printf("Error reading project count: %v\n", err)
		os.Exit(1)
	}

	var ids []int64
	if *projectFlag >= 0 {
		ids = []int64{*projectFlag}
	} else {
		for id := int64(0); id < count; id++ {
			ids = append(ids, id)
		}
	}

	fmt.Printf("\nProjects: %d\n", count)
	unassigned, unregistered := 0, 0
	for _, id := range ids {
		p, err := reader.GetProject(ctx, id)
		if err != nil {
			fmt.Printf("  #%d  ERROR: %v\n", id, err)
			continue
		}
		assigned, err := resolver.AssignedCompaniesOf(ctx, idx, id)
		if err != nil {
			fmt.Printf("  #%d  %s  ERROR reading assignments: %v\n", id, p.Name, err)
			continue
		}

		rate, _ := service.DeriveRates(p.VotesFor, p.VotesAgainst, len(assigned))
		fmt.Printf("  #%d  %-30s votes=%d/%d approval=%d%% assigned=%d\n",
			id, p.Name, p.VotesFor, p.VotesAgainst, rate, len(assigned))
		if len(assigned) == 0 {
			unassigned++
		}
		for _, a := range assigned {
			marker := ""
			if !a.Registered {
				marker = "  (not in registry)"
				unregistered++
			}
			fmt.Printf("      - %s  %s%s\n", a.Address, a.Name, marker)
		}
	}

	fmt.Printf("\nSummary: %d without assignments, %d assignments to unregistered addresses\n", unassigned, unregistered)
}
