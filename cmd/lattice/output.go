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
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/poiesic/lattice"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/search"
	"github.com/poiesic/lattice/storage"
)

var (
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
	heading = color.New(color.FgCyan, color.Bold)
	faint   = color.New(color.Faint)
)

func newProgressBar(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(w, "\n")
		}),
	)
}

func printResult(w io.Writer, item string, result *ingestion.Result) {
	if result.Duplicate {
		warning.Fprintf(w, "= %s is a duplicate of document %d (%s, similarity %.2f)\n",
			item, result.DocumentId, result.DuplicateMethod, result.Similarity)
		return
	}
	success.Fprintf(w, "✓ Added %s as document %d\n", item, result.DocumentId)
	fmt.Fprintf(w, "  chunks: %d  relationships: %d  strategy: %s\n", result.Chunks, result.Relationships, result.Strategy)
	if len(result.Concepts) > 0 {
		fmt.Fprintf(w, "  concepts: %s\n", strings.Join(result.Concepts, ", "))
	}
}

func printResults(w io.Writer, results []*core.SearchResult) {
	if len(results) == 0 {
		warning.Fprintln(w, "No results")
		return
	}
	for i, r := range results {
		heading.Fprintf(w, "%d. [%.3f] %s", i+1, r.Score, r.Source)
		faint.Fprintf(w, "  document %d chunk %d\n", r.DocumentId, r.ChunkId)
		if r.Source == core.SourceGraph {
			fmt.Fprintf(w, "   via %s (%d hops)\n", strings.Join(r.Path, " → "), r.Hops)
		}
		fmt.Fprintf(w, "   %s\n", snippet(r.Text, 200))
	}
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

func printConcept(w io.Writer, info *lattice.ConceptInfo) {
	heading.Fprintf(w, "%s", info.Concept.Name)
	faint.Fprintf(w, "  (%s, %d mentions)\n", info.Concept.Category, info.Concept.Mentions)

	if len(info.Related) > 0 {
		fmt.Fprintln(w, "Related:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, rel := range info.Related {
			fmt.Fprintf(tw, "  %s\t%.3f\t%d co-occurrences\n", rel.Concept.Name, rel.Strength, rel.Evidence)
		}
		tw.Flush()
	}
	if len(info.Documents) > 0 {
		fmt.Fprintln(w, "Documents:")
		for _, doc := range info.Documents {
			title := doc.Title()
			if title == "" {
				title = snippet(doc.Text, 60)
			}
			fmt.Fprintf(w, "  %d  %s\n", doc.Id, title)
		}
	}
}

func statusColor(status core.JobStatus) *color.Color {
	switch status {
	case core.JobCompleted:
		return success
	case core.JobFailed:
		return failure
	case core.JobCancelled:
		return warning
	default:
		return heading
	}
}

func printJob(w io.Writer, job *core.Job) {
	fmt.Fprintf(w, "Job %s (%s): ", job.Id, job.Type)
	statusColor(job.Status).Fprintln(w, job.Status)
	if job.Total > 0 {
		fmt.Fprintf(w, "  progress: %d/%d\n", job.Processed, job.Total)
	}
	if !job.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  created: %s\n", job.CreatedAt.Local().Format(time.DateTime))
	}
	if !job.CompletedAt.IsZero() && !job.StartedAt.IsZero() {
		fmt.Fprintf(w, "  took: %v\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
	if job.CancelRequested && !job.Status.Terminal() {
		warning.Fprintln(w, "  cancellation requested")
	}
	if job.Error != "" {
		failure.Fprintf(w, "  error: %s\n", job.Error)
	}
	if r := job.Result; r != nil {
		fmt.Fprintf(w, "  succeeded: %d (%d duplicates)  failed: %d  skipped: %d\n",
			len(r.Succeeded), r.Duplicates(), len(r.Failed), r.Skipped)
		for _, f := range r.Failed {
			failure.Fprintf(w, "    ✗ %s: %s\n", f.Item, f.Error)
		}
	}
}

func printJobTable(w io.Writer, jobs []*core.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n", job.Id, job.Type, job.Status,
			job.Processed, job.Total, job.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

// explainMonitor prints what each search stage found.
type explainMonitor struct {
	w io.Writer
}

var _ search.SearchMonitor = (*explainMonitor)(nil)

func (m *explainMonitor) Start(query string) {
	faint.Fprintf(m.w, "query: %q\n", query)
}

func (m *explainMonitor) AfterVectorSearch(matches []storage.VectorMatch) {
	faint.Fprintf(m.w, "vector search: %d matches\n", len(matches))
}

func (m *explainMonitor) AfterQueryConceptMatch(concepts []*core.Concept) {
	names := make([]string, len(concepts))
	for i, c := range concepts {
		names[i] = c.Name
	}
	faint.Fprintf(m.w, "query concepts: %s\n", strings.Join(names, ", "))
}

func (m *explainMonitor) AfterTraversal(paths []core.Path) {
	faint.Fprintf(m.w, "graph traversal: %d paths\n", len(paths))
}

func (m *explainMonitor) VectorHit(*core.SearchResult) {}
func (m *explainMonitor) GraphHit(*core.SearchResult)  {}

func (m *explainMonitor) Finish(results []*core.SearchResult) {
	faint.Fprintf(m.w, "fused: %d results\n\n", len(results))
}
