package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/autofleet/internal/backup"
	"github.com/HerbHall/autofleet/internal/config"
	"github.com/spf13/pflag"
)

func runBackup(args []string) {
	fs := pflag.NewFlagSet("backup", pflag.ExitOnError)
	output := fs.String("output", "", "output file path (default: autofleet-backup-{timestamp}.tar.gz)")
	configFile := fs.String("config", "", "config file to read database.path from and include in the archive")
	dbPath := fs.String("db", "", "database path (overrides database.path)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *dbPath == "" {
		v, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		*dbPath = v.GetString("database.path")
	}
	if *output == "" {
		*output = fmt.Sprintf("autofleet-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	if err := backup.Backup(context.Background(), *dbPath, *configFile, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
