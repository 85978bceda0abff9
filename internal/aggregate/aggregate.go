// Package aggregate turns a detection batch into counts, nutrition totals and
// a risk level.
package aggregate

import (
	"sort"

	"github.com/samber/lo"

	"candyscope/internal/nutrition"
	"candyscope/internal/pipeline"
)

// Aggregate computes the result for one batch. It is a pure function of its
// inputs: the same batch and table always give the same result.
//
// Counts include categories missing from the table, totals only include
// known ones.
func Aggregate(batch *pipeline.DetectionBatch, table nutrition.Table) pipeline.AggregateResult {
	counts := make(map[string]int)
	if batch != nil {
		for _, d := range batch.Detections {
			counts[nutrition.Normalize(d.Category)]++
		}
	}

	result := pipeline.AggregateResult{
		CountsByCategory: counts,
		Items:            make([]pipeline.CategoryTotal, 0, len(counts)),
	}

	keys := lo.Keys(counts)
	sort.Strings(keys)
	for _, key := range keys {
		count := counts[key]
		result.TotalCount += count

		entry, ok := table[key]
		if !ok {
			continue
		}
		item := pipeline.CategoryTotal{
			Category:    key,
			DisplayName: nutrition.DisplayName(key),
			Count:       count,
			Calories:    count * entry.Calories,
			Sugar:       count * entry.Sugar,
		}
		result.TotalCalories += item.Calories
		result.TotalSugar += item.Sugar
		result.Items = append(result.Items, item)
	}

	result.RiskLevel, result.RiskColor = ClassifyRisk(result.TotalCalories)
	return result
}
