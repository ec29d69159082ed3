package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/chrissnell/radbin/internal/log"
	"github.com/chrissnell/radbin/internal/source"
	"github.com/chrissnell/radbin/internal/store"
	"github.com/chrissnell/radbin/pkg/migrate"
)

func main() {
	var (
		dbDriver      = flag.String("driver", "sqlite", "Database driver (sqlite, postgres)")
		dbDSN         = flag.String("dsn", "", "Database connection string")
		command       = flag.String("command", "up", "Migration command: up, down, to, version, status")
		targetVersion = flag.Int("target", -1, "Target version for down/to commands")
		helpFlag      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *helpFlag {
		showHelp()
		return
	}

	if *dbDSN == "" {
		fmt.Fprintf(os.Stderr, "Error: -dsn flag is required\n")
		showHelp()
		os.Exit(1)
	}

	if err := log.Init(false); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	dialect, err := store.Dialect(*dbDriver)
	if err != nil {
		log.Fatalf("%v", err)
	}
	db, err := source.OpenDB(ctx, *dbDriver, *dbDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator := store.NewMigrator(db, dialect, log.Named("migrate"))

	switch *command {
	case "up":
		err = migrator.MigrateUp(ctx)
	case "down", "to":
		if *targetVersion < 0 {
			fmt.Fprintf(os.Stderr, "Error: -target flag is required for %s command\n", *command)
			os.Exit(1)
		}
		if *command == "down" {
			err = migrator.MigrateDown(ctx, *targetVersion)
		} else {
			err = migrator.MigrateTo(ctx, *targetVersion)
		}
	case "version":
		version, err := migrator.GetCurrentVersion(ctx)
		if err != nil {
			log.Fatalf("Failed to get current version: %v", err)
		}
		fmt.Printf("Current version: %d\n", version)
		return
	case "status":
		err = showStatus(ctx, migrator)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("Migration command failed: %v", err)
	}
	log.Infof("Migration command %q complete", *command)
}

func showStatus(ctx context.Context, migrator *migrate.Migrator) error {
	currentVersion, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	pending, err := migrator.GetPendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}

	fmt.Printf("Current version: %d\n", currentVersion)
	fmt.Printf("Pending migrations: %d\n", len(pending))

	if len(pending) > 0 {
		fmt.Println("\nPending migrations:")
		for _, migration := range pending {
			fmt.Printf("  %d: %s\n", migration.Version, migration.Name)
		}
	}

	return nil
}

func showHelp() {
	fmt.Println("radbin result store migration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  radbin-migrate [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -driver string     Database driver (default: sqlite)")
	fmt.Println("  -dsn string        Database connection string (required)")
	fmt.Println("  -command string    Migration command (default: up)")
	fmt.Println("  -target int        Target version for down/to commands")
	fmt.Println("  -help              Show this help message")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up                 Apply all pending migrations")
	fmt.Println("  down               Roll back to target version")
	fmt.Println("  to                 Migrate to specific version (up or down)")
	fmt.Println("  version            Show current migration version")
	fmt.Println("  status             Show migration status")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  radbin-migrate -dsn runs.db -command status")
	fmt.Println("  radbin-migrate -driver postgres -dsn postgres://radbin@localhost/radbin -command up")
	fmt.Println("  radbin-migrate -dsn runs.db -command down -target 1")
}
