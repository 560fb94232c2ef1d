// Command admin is the operator CLI for blocks, violations and applications.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/abuse"
	"github.com/Grisenxx/divisionwebsite/internal/catalog"
	"github.com/Grisenxx/divisionwebsite/internal/config"
	"github.com/Grisenxx/divisionwebsite/internal/database"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/repository"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type app struct {
	cfg *config.Config
	db  *gorm.DB
	out io.Writer
}

func (a *app) detector() *abuse.Detector {
	return abuse.NewDetector(repository.NewSecurityRepository(a.db), abuse.Config{
		Threshold:     a.cfg.BlockViolationThreshold,
		Window:        a.cfg.BlockWindow(),
		BlockDuration: a.cfg.BlockDuration(),
	})
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:          "admin",
		Short:        "Division operator tools",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.Open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			a.cfg, a.db = cfg, db
			return nil
		},
	}

	root.AddCommand(blockedCommand(a), violationsCommand(a), applicationsCommand(a))
	return root
}

func blockedCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "blocked", Short: "Inspect and lift IP blocks"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the newest blocks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.detector().Blocks(cmd.Context())
			if err != nil {
				return err
			}
			w := a.table()
			fmt.Fprintln(w, "IP\tBLOCKED\tEXPIRES\tPERMANENT\tREASON")
			for _, b := range report.Blocks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					b.IP, b.BlockedAt.Format(time.RFC3339), b.ExpiresAt.Format(time.RFC3339), b.Permanent, b.Reason)
			}
			fmt.Fprintf(w, "\n%d active\n", report.ActiveCount)
			return w.Flush()
		},
	})

	var clearViolations, all bool
	clearCmd := &cobra.Command{
		Use:   "clear [ip]",
		Short: "Remove blocks for one IP, or every block with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := a.detector()
			if all {
				n, err := d.UnblockAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "removed %d blocks\n", n)
				return nil
			}
			if len(args) != 1 || net.ParseIP(args[0]) == nil {
				return fmt.Errorf("a valid IP address or --all is required")
			}
			res, err := d.Unblock(cmd.Context(), args[0], clearViolations)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "removed %d blocks and %d violations for %s\n",
				res.BlocksRemoved, res.ViolationsRemoved, args[0])
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&clearViolations, "violations", false, "also delete the IP's violation history")
	clearCmd.Flags().BoolVar(&all, "all", false, "remove every block")
	cmd.AddCommand(clearCmd)
	return cmd
}

func violationsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "violations", Short: "Inspect recorded violations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Summarize recent violations per IP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.detector().Violations(cmd.Context())
			if err != nil {
				return err
			}
			w := a.table()
			fmt.Fprintln(w, "IP\tDISCORD ID\tCOUNT\tLAST")
			for _, s := range report.Summary {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.IP, s.ApplicantID, s.TotalViolations, s.LastViolation.Format(time.RFC3339))
			}
			fmt.Fprintf(w, "\n%d violations\n", report.Total)
			return w.Flush()
		},
	})
	return cmd
}

func applicationsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "applications", Short: "Inspect applications"}

	var appType string
	var limit int
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List pending applications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, err := catalogTypes(a.cfg, appType)
			if err != nil {
				return err
			}
			apps, err := repository.NewApplicationRepository(a.db).List(cmd.Context(), repository.ListFilter{
				Types:  types,
				Status: models.ApplicationStatusPending,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			w := a.table()
			fmt.Fprintln(w, "ID\tTYPE\tAPPLICANT\tDISCORD ID\tCREATED")
			for _, ap := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					ap.ID, ap.Type, ap.ApplicantName, ap.ApplicantID, ap.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	pending.Flags().StringVar(&appType, "type", "", "restrict to one application type")
	pending.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(pending)

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count applications per type and status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, err := catalogTypes(a.cfg, "")
			if err != nil {
				return err
			}
			repo := repository.NewApplicationRepository(a.db)
			w := a.table()
			fmt.Fprintln(w, "TYPE\tPENDING\tAPPROVED\tREJECTED")
			for _, t := range types {
				counts := make([]int64, 0, 3)
				for _, st := range []models.ApplicationStatus{
					models.ApplicationStatusPending,
					models.ApplicationStatusApproved,
					models.ApplicationStatusRejected,
				} {
					n, err := repo.CountByStatus(cmd.Context(), t, st)
					if err != nil {
						return err
					}
					counts = append(counts, n)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t, counts[0], counts[1], counts[2])
			}
			return w.Flush()
		},
	})
	return cmd
}

func catalogTypes(cfg *config.Config, only string) ([]string, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if only != "" {
		if _, ok := cat.Get(only); !ok {
			return nil, fmt.Errorf("unknown application type %q", only)
		}
		return []string{only}, nil
	}
	ids := make([]string, 0, len(cat.Types))
	for _, t := range cat.Types {
		ids = append(ids, t.ID)
	}
	return ids, nil
}
