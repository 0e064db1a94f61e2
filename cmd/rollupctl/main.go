// main.go - Admin control tool for the rollup jobs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"viewrollup/internal"
	"viewrollup/internal/http/middleware"
	"viewrollup/internal/jobs"
	"viewrollup/internal/lease"
	"viewrollup/internal/rollups"
	"viewrollup/internal/seeder"
	"viewrollup/internal/views"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

var errNoApp = errors.New("app initialization failed")

// stdout is where command output goes; replaced in tests
var stdout io.Writer = os.Stdout

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&JobCommand{job: jobs.JobClassify, description: "Classifies the newest event before the cutoff"},
	&JobCommand{job: jobs.JobAggregate, description: "Recomputes top pages and period rollups"},
	&StatusCommand{},
	&HashTokenCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs(os.Args[1:])

	cmd := findCommand(cmdName)
	if cmd == nil {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	// Let the command decide whether it can run without an app
	var app *internal.Application
	if needsApp(cmd) {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Printf("Warning: Failed to initialize app: %v", err)
		}
	}

	err := cmd.Execute(ctx, app, args)

	if app != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Printf("Warning: Cleanup error: %v", shutdownErr)
		}
		cancelShutdown()
	}

	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

func needsApp(cmd Command) bool {
	switch cmd.(type) {
	case *HelpCommand, *HashTokenCommand:
		return false
	default:
		return true
	}
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Creates or updates the collections" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot run migrations: %w", errNoApp)
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(stdout, "Migrations completed successfully")
	return nil
}

// SeedCommand populates the views collection with sample events
type SeedCommand struct{}

func (c *SeedCommand) Name() string { return "seed" }
func (c *SeedCommand) Description() string {
	return "Seeds <count> sample view events (flags: -days, -seed)"
}

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	days := fs.Int("days", 90, "spread events over this many days")
	seed := fs.Uint64("seed", 0, "random seed for reproducible data (0 picks one)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	count := 10000
	if fs.NArg() > 0 {
		n, err := strconv.Atoi(fs.Arg(0))
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: %s [-days N] [-seed N] <count>", c.Name())
		}
		count = n
	}

	if app == nil {
		return fmt.Errorf("cannot seed: %w", errNoApp)
	}

	se := seeder.NewSeeder(app.DBManager.GetConnection(), app.Logger, count, app.Config.InternalIP)
	se.Days = *days
	if *seed != 0 {
		se.WithSeed(*seed)
	}

	written, err := se.Run(ctx)
	if err != nil {
		return err
	}

	printer().Fprintf(stdout, "Seeded %d view events\n", written)
	return nil
}

// JobCommand runs one of the jobs once and prints its result
type JobCommand struct {
	job         string
	description string
}

func (c *JobCommand) Name() string        { return c.job }
func (c *JobCommand) Description() string { return c.description }

func (c *JobCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot run %s: %w", c.job, errNoApp)
	}

	result := app.Runner.Run(ctx, c.job)
	if err := writeYAML(stdout, result); err != nil {
		return err
	}

	if !result.Succeeded() {
		return fmt.Errorf("%s failed (%s)", c.job, result.Kind)
	}
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows collection sizes and database status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: %w", errNoApp)
	}

	db := app.DBManager.GetConnection().WithContext(ctx)

	var total, classified, topPages, periods, leases int64
	counts := []struct {
		model any
		query string
		dst   *int64
	}{
		{&views.ViewEvent{}, "", &total},
		{&views.ViewEvent{}, "internal_view IS NOT NULL", &classified},
		{&rollups.TopPage{}, "", &topPages},
		{&rollups.PeriodRollup{}, "", &periods},
		{&lease.Lease{}, "", &leases},
	}
	for _, count := range counts {
		q := db.Model(count.model)
		if count.query != "" {
			q = q.Where(count.query)
		}
		if err := q.Count(count.dst).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()

	p := printer()
	p.Fprintln(stdout, "System Status:")
	p.Fprintf(stdout, "- Region: %s\n", app.Config.Region)
	p.Fprintf(stdout, "- View events: %d (%d classified)\n", total, classified)
	p.Fprintf(stdout, "- Top pages: %d\n", topPages)
	p.Fprintf(stdout, "- Period rollups: %d\n", periods)
	p.Fprintf(stdout, "- Active run leases: %d\n", leases)
	p.Fprintf(stdout, "- Open Connections: %d/%d\n", stats.OpenConnections, stats.MaxOpenConnections)

	return nil
}

// HashTokenCommand prints the bcrypt hash to configure as trigger token hash
type HashTokenCommand struct{}

func (c *HashTokenCommand) Name() string { return "hash-token" }
func (c *HashTokenCommand) Description() string {
	return "Hashes <token> for VIEWROLLUP_TRIGGER_TOKEN_HASH"
}

func (c *HashTokenCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: %s <token>", c.Name())
	}

	hash, err := middleware.HashTriggerToken(args[0])
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	fmt.Fprintln(stdout, hash)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage(stdout)
	return nil
}

// Helper functions

// parseArgs splits the command name from its arguments
func parseArgs(args []string) (string, []string) {
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: rollupctl [command] [args...]")
	fmt.Fprintln(w, "Available commands:")

	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

func printer() *message.Printer {
	return message.NewPrinter(language.English)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	return enc.Close()
}
