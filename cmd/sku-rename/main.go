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

// sku-rename cascades a product SKU change through every dependent table in
// one transaction.
//
// Preview (default):
//
//	go run ./cmd/sku-rename -old=WDGT-A-STD -new=WIDGET-A-STD
//
// Execute:
//
//	go run ./cmd/sku-rename -old=WDGT-A-STD -new=WIDGET-A-STD -dry-run=false -confirm=RENAME
func main() {
	oldSKU := flag.String("old", "", "Required: current SKU")
	newSKU := flag.String("new", "", "Required: replacement SKU")
	dryRun := flag.Bool("dry-run", true, "Preview only (no writes)")
	confirm := flag.String("confirm", "", "Type RENAME to proceed when dry-run=false")
	user := flag.String("user", "cli", "Recorded as the performer in the audit log")
	flag.Parse()

	if strings.TrimSpace(*oldSKU) == "" || strings.TrimSpace(*newSKU) == "" {
		fmt.Fprintln(os.Stderr, "--old and --new are required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "RENAME" {
		fmt.Fprintln(os.Stderr, "set --confirm=RENAME to proceed")
		os.Exit(1)
	}

	if v := cleanup.ValidateSKU(*newSKU); !v.IsValid {
		fmt.Fprintf(os.Stderr, "new SKU is invalid: %s\n", v.Message)
		os.Exit(1)
	} else if !v.IsStrict {
		fmt.Printf("warning: %s (suggested format %s)\n", v.Message, v.SuggestedFormat)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	service := cleanup.NewService(db, config.GetLogger())

	preview, err := service.PreviewRename(context.Background(), *oldSKU, *newSKU)
	if err != nil {
		fmt.Fprintf(os.Stderr, "preview failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rename %s -> %s would touch %d rows (products=%d lines=%d movements=%d mappings=%d)\n",
		preview.OldSKU, preview.NewSKU, preview.TotalAffectedRows,
		preview.Products, preview.SalesOrderLines, preview.StockMovements, preview.SyncMappings)

	if *dryRun {
		fmt.Println("dry run; nothing written")
		return
	}

	result, err := service.ExecuteRename(context.Background(), *oldSKU, *newSKU, *user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rename failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("renamed: %d rows updated\n", result.TotalAffectedRows)
}
