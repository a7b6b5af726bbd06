package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/db"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/migrate"
)

const dirEnv = "MARKETSPLIT_MIGRATIONS_DIR"

type dbCommand func(ctx context.Context, sqlDB *sql.DB, dir string) error

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	defaultDir := migrate.DefaultDir
	if fromEnv := strings.TrimSpace(os.Getenv(dirEnv)); fromEnv != "" {
		defaultDir = fromEnv
	}

	cmd := flag.String("cmd", "up", "up|down|status|version|check|create|validate")
	dir := flag.String("dir", defaultDir, "goose migrations directory (env "+dirEnv+")")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fail("create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			fail("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	commands := map[string]dbCommand{
		"up":     withCheck(goose("up")),
		"down":   goose("down"),
		"status": goose("status"),
		"check":  checkTables,
		"version": func(ctx context.Context, sqlDB *sql.DB, dir string) error {
			if *version == "" {
				return fmt.Errorf("missing -version for version command")
			}
			return migrate.MigrateToVersion(ctx, sqlDB, dir, *version)
		},
	}
	run, ok := commands[*cmd]
	if !ok {
		fail("unknown -cmd value: %s", *cmd)
	}

	// The SQL migrations are Postgres only; sqlite dev databases are built
	// from the models by MaybeRunDev.
	if cfg.FeatureFlags.UseSQLite || strings.EqualFold(cfg.DB.Driver, config.DriverSQLite) {
		fail("goose migrations target postgres; unset MARKETSPLIT_USE_SQLITE to run -cmd=%s", *cmd)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")
	if err := run(ctx, sqlDB, *dir); err != nil {
		logg.Error(ctx, "migrate command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func goose(command string) dbCommand {
	return func(ctx context.Context, sqlDB *sql.DB, dir string) error {
		return migrate.Run(ctx, sqlDB, dir, command)
	}
}

func withCheck(next dbCommand) dbCommand {
	return func(ctx context.Context, sqlDB *sql.DB, dir string) error {
		if err := next(ctx, sqlDB, dir); err != nil {
			return err
		}
		return checkTables(ctx, sqlDB, dir)
	}
}

// checkTables fails when a table used by the order or payment services is
// absent after migrating.
func checkTables(ctx context.Context, sqlDB *sql.DB, _ string) error {
	missing, err := migrate.MissingTables(ctx, sqlDB)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
	}
	fmt.Printf("schema ok: %s\n", strings.Join(migrate.RequiredTables(), ", "))
	return nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
