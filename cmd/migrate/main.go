package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
)

var (
	targetName    = flag.String("target", "postgres", "Database to migrate: postgres or bigquery")
	projectID     = flag.String("project", os.Getenv("SPEND_BIGQUERY_PROJECT"), "GCP project ID (bigquery target)")
	datasetID     = flag.String("dataset", "finance", "BigQuery dataset ID")
	dsn           = flag.String("dsn", os.Getenv("SPEND_STORAGE_POSTGRES_DSN"), "Postgres connection string (postgres target)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (default: migrations/<target>)")
)

func main() {
	flag.Parse()

	ctx := context.Background()

	dir := *migrationsDir
	if dir == "" {
		dir = filepath.Join("migrations", *targetName)
	}

	var (
		t    target
		vars map[string]string
		err  error
	)
	switch *targetName {
	case "postgres":
		if *dsn == "" {
			log.Fatal("Error: -dsn flag or SPEND_STORAGE_POSTGRES_DSN is required for the postgres target.")
		}
		t, err = newPostgresTarget(ctx, *dsn)
	case "bigquery":
		if *projectID == "" {
			log.Fatal("Error: -project flag is required. Please specify your GCP project ID.")
		}
		vars = map[string]string{"PROJECT_ID": *projectID, "DATASET_ID": *datasetID}
		t, err = newBigQueryTarget(ctx, *projectID, *datasetID)
	default:
		log.Fatalf("Error: unknown -target %q (want postgres or bigquery)", *targetName)
	}
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *targetName, err)
	}
	defer t.Close()

	log.Printf("Connected to %s", *targetName)

	resolved, err := resolveDir(dir)
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}
	migrations, err := readMigrations(resolved, vars)
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}

	log.Printf("Found %d migration files", len(migrations))

	count, err := migrate(ctx, t, migrations, *appliedBy)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if count == 0 {
		log.Println("No new migrations to apply. Database is up to date.")
	} else {
		log.Printf("Successfully applied %d migration(s)", count)
	}
}
