package main

import (
	"context"
	"fmt"
	"os"

	"github.com/HerbHall/autofleet/internal/backup"
	"github.com/spf13/pflag"
)

func runRestore(args []string) {
	fs := pflag.NewFlagSet("restore", pflag.ExitOnError)
	input := fs.String("input", "", "backup archive to restore (required)")
	dataDir := fs.String("data-dir", "data", "target directory for restored files")
	force := fs.Bool("force", false, "overwrite existing files")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "error: --input is required")
		fs.Usage()
		os.Exit(1)
	}

	files, err := backup.Restore(context.Background(), *input, *dataDir, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Printf("Restored %s\n", f)
	}
}
