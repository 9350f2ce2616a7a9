package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"vainalista-api/internal/logging"
	"vainalista-api/internal/migration"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "migrate",
		Usage: "apply the embedded PostgreSQL migrations",
		Description: "Connection settings come from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD,\n" +
			"DB_NAME and DB_SSL_MODE (a .env file is read when present).",
		Before: func(c *cli.Context) error {
			_ = godotenv.Load()
			if c.Bool("verbose") {
				logging.InitLogger(&logging.LogConfig{Level: "debug"})
			}
			return nil
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log each migration step"},
		},
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: withMigrator(runUp),
			},
			{
				Name:   "down",
				Usage:  "Rollback all migrations",
				Action: withMigrator(runDown),
			},
			{
				Name:      "steps",
				Usage:     "Run n migrations (positive = up, negative = down)",
				ArgsUsage: "<n>",
				Action:    withMigrator(runSteps),
			},
			{
				Name:   "version",
				Usage:  "Show current migration version",
				Action: withMigrator(runVersion),
			},
			{
				Name:      "force",
				Usage:     "Force set the migration version (use with caution)",
				ArgsUsage: "<version>",
				Action:    withMigrator(runForce),
			},
		},
	}
}

// migrator is the part of *migration.Migrator the commands use
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
}

// newMigrator is replaced in tests
var newMigrator = func() (migrator, error) {
	return migration.NewFromEnv()
}

func withMigrator(fn func(*cli.Context, migrator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		m, err := newMigrator()
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		defer m.Close()
		return fn(c, m)
	}
}

func runUp(c *cli.Context, m migrator) error {
	if err := m.Up(); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "✅ Migrations applied successfully")
	return nil
}

func runDown(c *cli.Context, m migrator) error {
	if err := m.Down(); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "✅ Migrations rolled back successfully")
	return nil
}

func runSteps(c *cli.Context, m migrator) error {
	n, err := intArg(c, "steps")
	if err != nil {
		return err
	}
	if err := m.Steps(n); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "✅ Successfully ran %d migration steps\n", n)
	return nil
}

func runVersion(c *cli.Context, m migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(c.App.Writer, "Current version: %d (dirty)\n", version)
		fmt.Fprintln(c.App.Writer, "⚠️  Warning: Database is in a dirty state. Use 'force' command to fix.")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "Current version: %d\n", version)
	return nil
}

func runForce(c *cli.Context, m migrator) error {
	version, err := intArg(c, "force")
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "✅ Forced migration version to %d\n", version)
	fmt.Fprintln(c.App.Writer, "⚠️  Warning: This does not run migrations. Make sure database state matches the forced version.")
	return nil
}

func intArg(c *cli.Context, command string) (int, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("'%s' requires exactly one integer argument", command)
	}
	n, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return 0, fmt.Errorf("invalid argument %q: %w", c.Args().First(), err)
	}
	return n, nil
}
