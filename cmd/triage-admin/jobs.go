package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nbu-mindcare/triage-api/internal/data"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

const defaultQueryTimeout = 30 * time.Second

type listJobsOptions struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

func runJobStats(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, defaultQueryTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		stats, err := repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("job stats: %w", err)
		}
		return printJobStats(cmdCtx.Out, stats)
	})
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}
	listOpts, err := opts.toModel()
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultQueryTimeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		jobs, listErr := repo.List(ctx, listOpts)
		if listErr != nil {
			return fmt.Errorf("list jobs: %w", listErr)
		}
		return printJobs(cmdCtx.Out, jobs)
	})
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listJobsOptions
	fs.StringVar(&opts.Status, "status", "", "Filter by status (pending, running, success, failed)")
	fs.StringVar(&opts.Type, "type", "", "Filter by job type")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum number of jobs to show")
	fs.IntVar(&opts.Offset, "offset", 0, "Number of jobs to skip")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}
	if opts.Limit <= 0 {
		return listJobsOptions{}, errors.New("--limit must be greater than zero")
	}
	if opts.Offset < 0 {
		return listJobsOptions{}, errors.New("--offset cannot be negative")
	}
	opts.Status = strings.ToLower(strings.TrimSpace(opts.Status))
	opts.Type = strings.TrimSpace(opts.Type)
	return opts, nil
}

func (o listJobsOptions) toModel() (model.JobListOptions, error) {
	out := model.JobListOptions{Limit: o.Limit, Offset: o.Offset}
	if o.Status != "" {
		status := model.JobStatus(o.Status)
		if !status.Valid() {
			return model.JobListOptions{}, fmt.Errorf("invalid --status %q", o.Status)
		}
		out.Status = &status
	}
	if o.Type != "" {
		jobType := model.JobType(o.Type)
		if !jobType.Valid() {
			return model.JobListOptions{}, fmt.Errorf("invalid --type %q", o.Type)
		}
		out.Type = &jobType
	}
	return out, nil
}

func printJobStats(w io.Writer, stats *model.JobStats) error {
	if stats == nil {
		return errors.New("no stats returned")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "STATUS\tCOUNT"); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	rows := []struct {
		label string
		count int
	}{
		{"pending", stats.Pending},
		{"running", stats.Running},
		{"success", stats.Success},
		{"failed", stats.Failed},
	}
	for _, row := range rows {
		if err := writef(tw, "%s\t%d\n", row.label, row.count); err != nil {
			return fmt.Errorf("write stats row %q: %w", row.label, err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush stats table: %w", err)
	}
	return nil
}

func printJobs(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return writeln(w, "No jobs found.")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tRUN AT\tLAST ERROR"); err != nil {
		return fmt.Errorf("write jobs header: %w", err)
	}
	for _, j := range jobs {
		lastErr := "-"
		if j.LastError != nil && *j.LastError != "" {
			lastErr = truncate(*j.LastError, 60)
		}
		if err := writef(
			tw,
			"%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID,
			j.Type,
			j.Status,
			j.RetryCount,
			j.MaxRetries,
			j.RunAt.UTC().Format(time.RFC3339),
			lastErr,
		); err != nil {
			return fmt.Errorf("write job %s: %w", j.ID, err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush jobs table: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
