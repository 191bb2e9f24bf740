// Package cli implements the billingctl command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/config"
	"github.com/diewo77/go-contracts/internal/db"
	"github.com/diewo77/go-contracts/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var version = "1.0.0"

// Opener returns the database the commands work on.
type Opener func(cfg *config.Config) (*gorm.DB, error)

type app struct {
	cfg  *config.Config
	open Opener
	conn *gorm.DB
}

func (a *app) db() (*gorm.DB, error) {
	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := a.open(a.cfg)
	if err != nil {
		return nil, err
	}
	a.conn = conn
	return conn, nil
}

// NewRootCmd builds the command tree. open defaults to the configured database.
func NewRootCmd(cfg *config.Config, open Opener) *cobra.Command {
	if open == nil {
		open = func(cfg *config.Config) (*gorm.DB, error) { return db.Connect(cfg.Database) }
	}
	a := &app{cfg: cfg, open: open}

	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Operate the contract billing engine",
		Long: `billingctl runs the recurring billing batch and inspects contracts
from the command line, against the database configured through the
usual environment variables (DB_DRIVER, DATABASE_DSN, DB_PATH, ...).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(a),
		newDueCmd(a),
		newExpiringCmd(a),
		newCancelCmd(a),
		newRunsCmd(a),
		newMigrateCmd(a),
		newSeedCmd(a),
	)
	return root
}

// Execute runs billingctl with the process environment.
func Execute() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := logger.Setup(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithComponent("cli")

	if err := NewRootCmd(cfg, nil).Execute(); err != nil {
		log.Error().Err(err).Msg("command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// dateFlag parses a YYYY-MM-DD flag value, defaulting to today in loc.
func dateFlag(cmd *cobra.Command, name string, loc *time.Location) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return cadence.Date(time.Now().In(loc)), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s, use YYYY-MM-DD: %w", name, err)
	}
	return d, nil
}
