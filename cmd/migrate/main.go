// Command migrate applies the BigQuery schema under migrations/bigquery.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/settlement-reconciler/internal/config"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// target is the dataset migrations run against.
type target struct {
	project string
	dataset string
}

func (t target) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", t.project, t.dataset, name)
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	var (
		envFile       = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
		projectID     = flag.String("project", "", "GCP project ID (defaults to BQ_PROJECT_ID)")
		datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to BQ_DATASET)")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
		dryRun        = flag.Bool("dry-run", false, "List pending migrations without running them")
		allowDrift    = flag.Bool("allow-drift", false, "Continue when an applied migration file has changed")
	)
	flag.Parse()

	log := logger.New()
	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}

	t := target{project: *projectID, dataset: *datasetID}
	if t.project == "" {
		t.project = os.Getenv("BQ_PROJECT_ID")
	}
	if t.dataset == "" {
		t.dataset = os.Getenv("BQ_DATASET")
	}
	if t.dataset == "" {
		t.dataset = "reconciliation"
	}
	if t.project == "" {
		log.Fatal().Msg("Error: -project flag or BQ_PROJECT_ID is required. Please specify your GCP project ID.")
	}

	ctx := logger.WithContext(context.Background(), log)

	dir, err := findMigrationsDir(*migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}
	migrations, err := readMigrations(log, dir, t)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	client, err := bigquery.NewClient(ctx, t.project)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", t.project).Str("dataset", t.dataset).Msg("Connected to BigQuery")

	if err := ensureSchemaMigrationsTable(ctx, client, t); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	appliedMigrations, err := getAppliedMigrations(ctx, client, t)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}
	log.Info().Int("count", len(appliedMigrations)).Msg("Found already applied migrations")

	pending, drifted := plan(migrations, appliedMigrations)
	for _, m := range drifted {
		log.Warn().Str("migration", m.Filename).Msg("Applied migration file has changed since it ran")
	}
	if len(drifted) > 0 && !*allowDrift {
		log.Fatal().Int("drifted", len(drifted)).Msg("Refusing to migrate; rerun with -allow-drift to continue")
	}

	for _, migration := range pending {
		if *dryRun {
			log.Info().Str("migration", migration.Filename).Msg("[PENDING]")
			continue
		}

		log.Info().Str("migration", migration.Filename).Msg("[RUN]")
		if err := runQuery(ctx, client, migration.SQL, nil); err != nil {
			log.Fatal().Err(err).Str("migration", migration.Filename).Msg("Failed to execute migration")
		}
		if err := recordMigration(ctx, client, t, migration, *appliedBy); err != nil {
			log.Fatal().Err(err).Str("migration", migration.Filename).Msg("Failed to record migration")
		}
		log.Info().Str("migration", migration.Filename).Msg("[OK]")
	}

	switch {
	case len(pending) == 0:
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	case *dryRun:
		log.Info().Int("pending", len(pending)).Msg("Dry run; nothing applied")
	default:
		log.Info().Int("applied", len(pending)).Msg("Successfully applied migrations")
	}
}

// findMigrationsDir also tries the path from the repository root, for runs
// from inside cmd/migrate.
func findMigrationsDir(dir string) (string, error) {
	for _, candidate := range []string{dir, filepath.Join("..", "..", dir)} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

// parseMigrationName splits 0001_name.sql into its version and name.
func parseMigrationName(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// readMigrations reads all migration files in dir, sorted by version. The
// checksum covers the file before placeholder substitution, so the same
// migration has the same checksum in every project.
func readMigrations(log zerolog.Logger, dir string, t target) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseMigrationName(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("version %04d used by both %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", t.project)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", t.dataset)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// plan returns the migrations still to run and the applied ones whose file
// no longer matches the recorded checksum.
func plan(migrations []Migration, applied []AppliedMigration) (pending, drifted []Migration) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}
	for _, m := range migrations {
		am, ok := byVersion[m.Version]
		switch {
		case !ok:
			pending = append(pending, m)
		case am.Checksum != "" && am.Checksum != m.Checksum:
			drifted = append(drifted, m)
		}
	}
	return pending, drifted
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func ensureSchemaMigrationsTable(ctx context.Context, client *bigquery.Client, t target) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, t.table("schema_migrations"))
	return runQuery(ctx, client, sql, nil)
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, client *bigquery.Client, t target) ([]AppliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, t.table("schema_migrations"))

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// recordMigration records a successfully applied migration in schema_migrations
func recordMigration(ctx context.Context, client *bigquery.Client, t target, migration Migration, appliedBy string) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, t.table("schema_migrations"))

	return runQuery(ctx, client, sql, []bigquery.QueryParameter{
		{Name: "version", Value: migration.Version},
		{Name: "name", Value: migration.Name},
		{Name: "checksum", Value: migration.Checksum},
		{Name: "applied_by", Value: appliedBy},
	})
}

func runQuery(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) error {
	query := client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
