package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/adapter"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect the ledger of generation jobs",
		Commands: []*cli.Command{
			jobsListCommand(),
			jobsExportCommand(),
		},
	}
}

func limitFlag(dst *int64, value int64) cli.Flag {
	return &cli.IntFlag{
		Name:        "limit",
		Usage:       "Maximum number of jobs, newest first",
		Value:       value,
		Sources:     cli.EnvVars("VEOCLIP_JOBS_LIMIT"),
		Destination: dst,
	}
}

// listJobs reads the Firestore ledger. The in-memory ledger does not outlive
// a process, so a project is required.
func (cfg *config) listJobs(ctx context.Context, limit int64) ([]*model.JobRecord, error) {
	if cfg.firestoreProject == "" {
		return nil, goerr.New("firestore-project is required to read the job ledger")
	}

	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	defer closeRepo()

	jobs, err := repo.ListJobs(ctx, int(limit))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list jobs")
	}
	return jobs, nil
}

func jobsListCommand() *cli.Command {
	var (
		cfg    config
		limit  int64
		format string
	)

	flags := []cli.Flag{
		limitFlag(&limit, 20),
		formatFlag(&format),
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List recorded generation jobs, newest first",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			jobs, err := cfg.listJobs(ctx, limit)
			if err != nil {
				return err
			}

			return render(c.Root().Writer, format, jobs, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "ID\tCREATED\tSTATUS\tRATIO\tPROMPT\n")
				for _, job := range jobs {
					status := string(job.Status)
					if job.Error != "" {
						status += ": " + truncate(job.Error, 40)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						job.ID,
						job.CreatedAt.Format("2006-01-02 15:04:05"),
						status,
						job.AspectRatio,
						truncate(job.Prompt, 50),
					)
				}
			})
		},
	}
}

func jobsExportCommand() *cli.Command {
	var (
		cfg       config
		limit     int64
		bqProject string
		dataset   string
		table     string
	)

	flags := []cli.Flag{
		limitFlag(&limit, 1000),
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID of the BigQuery dataset",
			Sources:     cli.EnvVars("VEOCLIP_BIGQUERY_PROJECT"),
			Destination: &bqProject,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "dataset",
			Usage:       "BigQuery dataset ID",
			Sources:     cli.EnvVars("VEOCLIP_BIGQUERY_DATASET"),
			Destination: &dataset,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "table",
			Usage:       "BigQuery table, created when missing",
			Value:       "veoclip_jobs",
			Sources:     cli.EnvVars("VEOCLIP_BIGQUERY_TABLE"),
			Destination: &table,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export the job ledger to BigQuery",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			jobs, err := cfg.listJobs(ctx, limit)
			if err != nil {
				return err
			}

			bq, err := adapter.NewBigQuery(ctx, bqProject)
			if err != nil {
				return err
			}
			defer func() {
				if err := bq.Close(); err != nil {
					logging.From(ctx).Warn("failed to close BigQuery client", "error", err)
				}
			}()

			if err := bq.EnsureJobTable(ctx, dataset, table); err != nil {
				return err
			}
			if err := bq.InsertJobs(ctx, dataset, table, jobs); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Exported %d jobs to %s.%s.%s\n", len(jobs), bqProject, dataset, table)
			return nil
		},
	}
}
