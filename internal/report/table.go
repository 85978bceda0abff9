// Package report renders analysis results as text tables for the CLI.
package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"candyscope/internal/analysis"
	"candyscope/internal/live"
	"candyscope/internal/pipeline"
)

// Aggregate prints one row per nutrition-known category followed by totals
// and the risk level
func Aggregate(res pipeline.AggregateResult) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Candy", "Count", "Calories", "Sugar (g)"})
	for _, item := range res.Items {
		t.AppendRow(table.Row{item.DisplayName, item.Count, item.Calories, item.Sugar})
	}
	if unknown := res.TotalCount - knownCount(res); unknown > 0 {
		t.AppendRow(table.Row{"(unknown)", unknown, "-", "-"})
	}
	t.AppendFooter(table.Row{"Total", res.TotalCount, res.TotalCalories, res.TotalSugar})
	t.AppendFooter(table.Row{"Risk", res.RiskLevel, "", ""})
	return t.Render()
}

// Analysis prints the detections of a single-shot analysis and its totals
func Analysis(a *analysis.Analysis) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s (%s)", a.Source, a.Duration.Round(time.Millisecond)))
	t.AppendHeader(table.Row{"#", "Candy", "Confidence", "Box"})
	for i, d := range a.Batch.Detections {
		box := "-"
		if d.BBox != nil {
			box = fmt.Sprintf("%.0f,%.0f %.0f,%.0f", d.BBox.XMin, d.BBox.YMin, d.BBox.XMax, d.BBox.YMax)
		}
		t.AppendRow(table.Row{i + 1, d.Category, fmt.Sprintf("%.1f%%", d.Confidence*100), box})
	}
	if a.Batch.Len() == 0 {
		t.AppendRow(table.Row{"", "no candies detected", "", ""})
	}
	return t.Render() + "\n" + Aggregate(a.Aggregate)
}

// Folder prints one row per analyzed file
func Folder(items []analysis.FolderItem) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"File", "Candies", "Calories", "Sugar (g)", "Risk"})
	var candies, calories, sugar, failed int
	for _, item := range items {
		name := filepath.Base(item.Path)
		if item.Err != nil {
			failed++
			t.AppendRow(table.Row{name, "error", pipeline.Kind(item.Err), "", ""})
			continue
		}
		agg := item.Analysis.Aggregate
		candies += agg.TotalCount
		calories += agg.TotalCalories
		sugar += agg.TotalSugar
		t.AppendRow(table.Row{name, agg.TotalCount, agg.TotalCalories, agg.TotalSugar, agg.RiskLevel})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d files, %d failed", len(items), failed), candies, calories, sugar, ""})
	return t.Render()
}

// Status prints live loop counters
func Status(st live.Status) string {
	t := table.NewWriter()
	t.SetTitle("live session " + st.SessionID)
	t.AppendRows([]table.Row{
		{"Source", st.Source},
		{"Running", st.Running},
		{"Display FPS", fmt.Sprintf("%.1f", st.FPS)},
		{"Ticks", st.Stats.Ticks},
		{"Succeeded", st.Stats.Succeeded},
		{"Failed", st.Stats.Failed},
		{"Skipped", st.Stats.Skipped},
		{"Discarded", st.Stats.Discarded},
		{"Latency mean", fmt.Sprintf("%.0f ms", st.Stats.LatencyMeanMs)},
		{"Latency p95", fmt.Sprintf("%.0f ms", st.Stats.LatencyP95Ms)},
	})
	if st.Stats.LastError != "" {
		t.AppendRow(table.Row{"Last error", st.Stats.LastErrorKind + ": " + st.Stats.LastError})
	}
	if st.Last != nil && st.Last.Aggregate != nil {
		agg := st.Last.Aggregate
		t.AppendRow(table.Row{"Last result", fmt.Sprintf("%d candies, %d kcal, %s", agg.TotalCount, agg.TotalCalories, agg.RiskLevel)})
	}
	return t.Render()
}

func knownCount(res pipeline.AggregateResult) int {
	n := 0
	for _, item := range res.Items {
		n += item.Count
	}
	return n
}
