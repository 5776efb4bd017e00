// Package main provides the operator CLI for schoolsync.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	postgresdb "example.com/schoolsync/db/postgres"
	"example.com/schoolsync/internal/config"
	"example.com/schoolsync/internal/domain"
	persistence "example.com/schoolsync/internal/persistence/postgres"
	"example.com/schoolsync/internal/storage"
)

const commandTimeout = 2 * time.Minute

var (
	diffKnownPath string

	reportSchool   string
	reportGrade    int
	reportClass    int
	reportYear     int
	reportCategory string
)

func main() {
	log.SetPrefix("[schoolsyncctl] ")
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "schoolsyncctl",
		Short:        "Operator tooling for the schoolsync backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv()
		},
	}

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newDiffCmd())
	rootCmd.AddCommand(newReportCmd())
	return rootCmd
}

func connect(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return pool, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			pool, err := connect(ctx, config.Load())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgresdb.Apply(ctx, pool)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <auth-key>",
		Short: "Show what a device would download and delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var known []domain.ManifestEntry
			if diffKnownPath != "" {
				f, err := os.Open(diffKnownPath)
				if err != nil {
					return fmt.Errorf("failed to open manifest: %w", err)
				}
				defer f.Close()
				if known, err = readManifest(f); err != nil {
					return err
				}
			}

			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			objects, err := storage.New(cfg)
			if err != nil {
				return err
			}
			svc := domain.NewSyncService(persistence.NewDirectory(pool), objects,
				domain.WithSignedURLTTL(cfg.SignedURLTTL),
				domain.WithSignConcurrency(cfg.SignConcurrency),
			)
			result, err := svc.Diff(ctx, args[0], known)
			if err != nil {
				return err
			}
			return renderDiff(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&diffKnownPath, "known", "", "JSON file with the device's known_items")
	return cmd
}

// readManifest decodes a known_items array of {path, updated_at} objects.
func readManifest(r io.Reader) ([]domain.ManifestEntry, error) {
	var raw []struct {
		Path      string `json:"path"`
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	known := make([]domain.ManifestEntry, 0, len(raw))
	for _, item := range raw {
		known = append(known, domain.ManifestEntry{Path: item.Path, UpdatedAt: item.UpdatedAt})
	}
	return known, nil
}

func renderDiff(w io.Writer, result domain.SyncResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "generated_at\t%s\n", result.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "bootstrap\t%t\n", result.Bootstrap)
	for _, item := range result.ToDownload {
		fmt.Fprintf(tw, "download\t%s\t%s\n", item.Path, item.UpdatedAt)
	}
	for _, path := range result.ToDelete {
		fmt.Fprintf(tw, "delete\t%s\t\n", path)
	}
	return tw.Flush()
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the monthly exercise report for a class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := domain.ParseCategoryFilter(reportCategory)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			pool, err := connect(ctx, config.Load())
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := domain.NewReportService(persistence.NewDirectory(pool), persistence.NewExerciseStore(pool))
			rows, err := svc.Aggregate(ctx, domain.RosterQuery{
				SchoolID: reportSchool,
				Grade:    reportGrade,
				ClassNo:  reportClass,
				Year:     reportYear,
				Filter:   filter,
			})
			if err != nil {
				return err
			}
			return renderReport(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&reportSchool, "school", "", "school id")
	cmd.Flags().IntVar(&reportGrade, "grade", 0, "grade")
	cmd.Flags().IntVar(&reportClass, "class", 0, "class number")
	cmd.Flags().IntVar(&reportYear, "year", time.Now().Year(), "school year")
	cmd.Flags().StringVar(&reportCategory, "category", "1", "category_type: 1, 2, 3 or all")
	_ = cmd.MarkFlagRequired("school")
	_ = cmd.MarkFlagRequired("grade")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}

// renderReport prints minutes per month, one line per student. Empty cells
// print as "-".
func renderReport(w io.Writer, rows []domain.AggregatedRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "no\tname\t")
	for m := 1; m <= domain.MonthsPerYear; m++ {
		fmt.Fprintf(tw, "m%02d\t", m)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		fmt.Fprintf(tw, "%d\t%s\t", row.StudentNo, row.Name)
		for _, v := range row.Minutes {
			fmt.Fprintf(tw, "%s\t", formatCell(v))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func formatCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
