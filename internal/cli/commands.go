package cli

import (
	"fmt"

	"github.com/diewo77/go-contracts/internal/automation"
	"github.com/diewo77/go-contracts/internal/db"
	"github.com/diewo77/go-contracts/internal/logger"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/internal/services"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the billing batch",
		Long: `Generate the entries of every active contract due on or before the
given date, renew or expire contracts that reached their end date and
mark overdue entries. Re-running for the same date bills nothing twice.`,
		Example: `  # Billing run for today
  billingctl run

  # Catch up a single tenant as of a given date
  billingctl run --date 2024-03-01 --company 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.db()
			if err != nil {
				return err
			}
			asOf, err := dateFlag(cmd, "date", a.cfg.Billing.Location())
			if err != nil {
				return err
			}
			company, _ := cmd.Flags().GetUint("company")
			req := automation.RunRequest{AsOf: asOf, Trigger: models.TriggerCLI}
			if company != 0 {
				req.CompanyID = &company
			}

			entries := services.NewEntryService(conn, logger.WithComponent("entries"))
			p := automation.NewProcessor(conn, entries, automation.Options{
				Concurrency:     a.cfg.Billing.Concurrency,
				MaxCyclesPerRun: a.cfg.Billing.MaxCyclesPerRun,
			}, logger.WithComponent("automation"))
			res, err := p.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("date", "", "Billing date (format: YYYY-MM-DD, default: today)")
	cmd.Flags().Uint("company", 0, "Restrict the run to one company")
	return cmd
}

func newDueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List active contracts due for billing on or before a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.db()
			if err != nil {
				return err
			}
			date, err := dateFlag(cmd, "date", a.cfg.Billing.Location())
			if err != nil {
				return err
			}
			company, _ := cmd.Flags().GetUint("company")
			list, err := services.NewContractService(conn, logger.WithComponent("contracts")).
				ContractsDueOn(cmd.Context(), company, date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().String("date", "", "Reference date (format: YYYY-MM-DD, default: today)")
	cmd.Flags().Uint("company", 0, "Restrict to one company")
	return cmd
}

func newExpiringCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expiring",
		Short: "List active contracts ending within the next days",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.db()
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetInt("days")
			company, _ := cmd.Flags().GetUint("company")
			list, err := services.NewContractService(conn, logger.WithComponent("contracts")).
				ContractsExpiringWithin(cmd.Context(), company, days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().Int("days", 30, "Look-ahead window in days")
	cmd.Flags().Uint("company", 0, "Restrict to one company")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <contract-id>",
		Short: "Cancel a contract and its future entries",
		Example: `  billingctl cancel 42 --reason "Customer request" --date 2024-03-15
  billingctl cancel 42 --reason Other --details "moving abroad" --fee 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uint
			if _, err := fmt.Sscan(args[0], &id); err != nil || id == 0 {
				return fmt.Errorf("invalid contract id %q", args[0])
			}
			conn, err := a.db()
			if err != nil {
				return err
			}
			date, err := dateFlag(cmd, "date", a.cfg.Billing.Location())
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			details, _ := cmd.Flags().GetString("details")
			req := services.CancelRequest{ContractID: id, Reason: reason, Details: details, CancellationDate: date}
			if fee, _ := cmd.Flags().GetString("fee"); fee != "" {
				d, err := decimal.NewFromString(fee)
				if err != nil {
					return fmt.Errorf("invalid --fee: %w", err)
				}
				req.Fee = &d
			}

			entries := services.NewEntryService(conn, logger.WithComponent("entries"))
			res, err := services.NewCancellationService(conn, entries, logger.WithComponent("cancellation")).
				Cancel(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("reason", "", "Cancellation reason")
	cmd.Flags().String("details", "", "Free-text details, required by some reasons")
	cmd.Flags().String("date", "", "Cancellation date (format: YYYY-MM-DD, default: today)")
	cmd.Flags().String("fee", "", "Cancellation fee (default: the tenant's configured fee)")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the latest automation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.db()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			company, _ := cmd.Flags().GetUint("company")
			var companyID *uint
			if company != 0 {
				companyID = &company
			}
			p := automation.NewProcessor(conn, nil, automation.Options{}, logger.WithComponent("automation"))
			runs, err := p.RecentRuns(cmd.Context(), companyID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().Int("limit", 20, "Number of runs to show")
	cmd.Flags().Uint("company", 0, "Restrict to one company")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.db()
			if err != nil {
				return err
			}
			if err := db.ApplySchema(conn, a.cfg.Database); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations completed")
			return nil
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default cancellation reasons",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.db()
			if err != nil {
				return err
			}
			company, _ := cmd.Flags().GetUint("company")
			if company != 0 {
				err = db.SeedTenant(conn, company)
			} else {
				err = db.Seed(conn)
			}
			if err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "seeding completed")
			return nil
		},
	}
	cmd.Flags().Uint("company", 0, "Seed a single company, even without tenant settings")
	return cmd
}
