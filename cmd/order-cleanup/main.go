package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/katsync_backend/cleanup"
	"bitbucket.org/mmdatafocus/katsync_backend/config"
)

// order-cleanup resolves duplicate and malformed sales order numbers left
// behind by repeated imports.
//
// Dry-run (default): show what would change
//
//	go run ./cmd/order-cleanup
//
// Execute:
//
//	go run ./cmd/order-cleanup -dry-run=false -confirm=CLEANUP
func main() {
	dryRun := flag.Bool("dry-run", true, "Report only (no writes)")
	confirm := flag.String("confirm", "", "Type CLEANUP to proceed when dry-run=false")
	user := flag.String("user", "cli", "Recorded as the performer in the audit log")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "CLEANUP" {
		fmt.Fprintln(os.Stderr, "set --confirm=CLEANUP to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	service := cleanup.NewService(db, config.GetLogger())

	groups, malformed, err := service.AnalyzeDuplicateOrders(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("found %d duplicate groups and %d malformed order numbers\n", len(groups), len(malformed))
	for _, g := range groups {
		fmt.Printf("  keep %s (id=%d), remove %d duplicates\n", g.Keep.OrderNo, g.Keep.ID, len(g.Duplicates))
	}
	for _, m := range malformed {
		if m.MergeTargetId != 0 {
			fmt.Printf("  merge %s into order id=%d\n", m.Order.OrderNo, m.MergeTargetId)
		} else {
			fmt.Printf("  rename %s -> %s\n", m.Order.OrderNo, m.CorrectedNo)
		}
	}
	if len(groups) == 0 && len(malformed) == 0 {
		return
	}

	result, err := service.CleanupOrders(context.Background(), *dryRun, *user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}

	mode := "EXECUTED"
	if result.DryRun {
		mode = "DRY RUN"
	}
	fmt.Printf("%s: merged=%d deleted=%d renamed=%d lines moved=%d lines merged=%d errors=%d\n",
		mode, result.OrdersMerged, result.OrdersDeleted, result.OrdersRenamed,
		result.LinesMoved, result.LinesMerged, len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  order %s (id=%d): %s\n", e.OrderNo, e.OrderId, e.Message)
	}
	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}
