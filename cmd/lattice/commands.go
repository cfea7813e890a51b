// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/lattice"
	"github.com/poiesic/lattice/core"
)

// watchInterval is how often an async job is polled for progress.
const watchInterval = 250 * time.Millisecond

func addCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		text, file, lines := c.String("text"), c.Args().First(), c.String("lines")
		given := 0
		for _, s := range []string{text, file, lines} {
			if s != "" {
				given++
			}
		}
		if given != 1 {
			return errors.New("exactly one of FILE, --text or --lines is required")
		}

		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()
		w := c.App.Writer

		switch {
		case text != "":
			metadata := map[string]any{}
			if title := c.String("title"); title != "" {
				metadata[core.MetadataTitle] = title
			}
			result, err := kb.AddDocument(c.Context, text, metadata)
			if err != nil {
				return err
			}
			printResult(w, "text", result)
		case file != "":
			result, err := kb.AddFile(c.Context, file)
			if err != nil {
				return err
			}
			printResult(w, file, result)
		default:
			source, err := linesFromFile(lines)
			if err != nil {
				return err
			}
			added, duplicates := 0, 0
			for line := range source {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				result, err := kb.AddDocument(c.Context, line, nil)
				if err != nil {
					return fmt.Errorf("adding %q: %w", line, err)
				}
				if result.Duplicate {
					duplicates++
				} else {
					added++
				}
			}
			success.Fprintf(w, "✓ Added %d documents (%d duplicates)\n", added, duplicates)
		}
		return nil
	}
}

// linesFromFile returns an iterator over lines in a file.
func linesFromFile(filename string) (iter.Seq[string], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if !yield(scanner.Text()) {
				return
			}
		}
	}, nil
}

func addFolderCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return errors.New("folder path is required")
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()
		w := c.App.Writer

		async := c.Bool("async")
		job, err := kb.AddFolder(c.Context, path, async)
		if err != nil {
			return err
		}
		if async {
			// The job runs in this process, so wait for it before closing.
			fmt.Fprintf(w, "Job %s submitted\n", job.Id)
			if c.Bool("watch") {
				job, err = watchJob(c, kb, job.Id)
			} else {
				job, err = kb.WaitJob(c.Context, job.Id)
			}
			if err != nil {
				return err
			}
		}
		printJob(w, job)
		if job.Status == core.JobFailed {
			return fmt.Errorf("job %s failed: %s", job.Id, job.Error)
		}
		return nil
	}
}

func watchJob(c *cli.Context, kb *lattice.KnowledgeBase, id string) (*core.Job, error) {
	bar := newProgressBar(c.App.ErrWriter, "Ingesting files")
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		job, err := kb.GetJobStatus(c.Context, id)
		if err != nil {
			return nil, err
		}
		if job.Total > 0 {
			bar.ChangeMax(job.Total)
			_ = bar.Set(job.Processed)
		}
		if job.Status.Terminal() {
			_ = bar.Finish()
			return job, nil
		}
		select {
		case <-c.Context.Done():
			if _, err := kb.CancelJob(context.WithoutCancel(c.Context), id); err != nil {
				return nil, err
			}
			return kb.WaitJob(context.WithoutCancel(c.Context), id)
		case <-ticker.C:
		}
	}
}

func searchCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		query := strings.Join(c.Args().Slice(), " ")
		if strings.TrimSpace(query) == "" {
			return errors.New("query is required")
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()
		w := c.App.Writer

		var results []*core.SearchResult
		if c.Bool("explain") {
			results, err = kb.SearchWithMonitor(c.Context, query, c.Int("n"), c.Int("hops"), &explainMonitor{w: w})
		} else {
			results, err = kb.Search(c.Context, query, c.Int("n"), c.Int("hops"))
		}
		if err != nil {
			return err
		}
		printResults(w, results)
		return nil
	}
}

func conceptCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		name := strings.Join(c.Args().Slice(), " ")
		if name == "" {
			return errors.New("concept name is required")
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		info, err := kb.GetConcept(c.Context, name)
		if err != nil {
			return err
		}
		printConcept(c.App.Writer, info)
		return nil
	}
}

func deleteCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := parseDocumentID(c.Args().First())
		if err != nil {
			return err
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		if _, err := kb.GetDocument(c.Context, id); err != nil {
			return fmt.Errorf("document %d: %w", id, err)
		}
		if err := kb.DeleteDocument(c.Context, id); err != nil {
			return err
		}
		success.Fprintf(c.App.Writer, "✓ Deleted document %d\n", id)
		return nil
	}
}

func parseDocumentID(arg string) (core.ID, error) {
	if arg == "" {
		return 0, errors.New("document ID is required")
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid document ID %q: %w", arg, err)
	}
	return core.ID(id), nil
}

func reembedCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		summary, err := kb.Reembed(c.Context, c.String("collection"), c.App.ErrWriter)
		if err != nil {
			return fmt.Errorf("reembedding failed: %w", err)
		}
		success.Fprintf(c.App.Writer, "✓ Reembedded %d chunks from %d documents in %v\n",
			summary.Chunks, summary.Documents, summary.Elapsed.Round(time.Millisecond))
		return nil
	}
}

func rechunkCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		summary, err := kb.RechunkAll(c.Context, c.Int("size"), c.Int("overlap"), c.App.ErrWriter)
		if err != nil {
			return fmt.Errorf("rechunking failed: %w", err)
		}
		success.Fprintf(c.App.Writer, "✓ Rechunked %d documents into %d chunks\n", summary.Documents, summary.Chunks)
		return nil
	}
}

func jobsListCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		filter := core.JobFilter{
			Type:   core.JobType(c.String("type")),
			Status: core.JobStatus(c.String("status")),
			Limit:  c.Int("limit"),
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return fmt.Errorf("unknown job status %q", filter.Status)
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		jobs, err := kb.ListJobs(c.Context, filter)
		if err != nil {
			return err
		}
		printJobTable(c.App.Writer, jobs)
		return nil
	}
}

func jobStatusCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("job ID is required")
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		job, err := kb.GetJobStatus(c.Context, id)
		if err != nil {
			return err
		}
		printJob(c.App.Writer, job)
		return nil
	}
}

func jobCancelCommand(open opener) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("job ID is required")
		}
		kb, err := open(c)
		if err != nil {
			return err
		}
		defer kb.Close()

		job, err := kb.CancelJob(c.Context, id)
		if err != nil {
			return err
		}
		printJob(c.App.Writer, job)
		return nil
	}
}
