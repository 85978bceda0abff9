package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candyscope/internal/nutrition"
	"candyscope/internal/pipeline"
)

func batchOf(categories ...string) *pipeline.DetectionBatch {
	b := &pipeline.DetectionBatch{FrameWidth: 640, FrameHeight: 480}
	for _, c := range categories {
		b.Detections = append(b.Detections, pipeline.Detection{Category: c, Confidence: 0.9})
	}
	return b
}

func TestAggregateTwoBarOneOneGems(t *testing.T) {
	res := Aggregate(batchOf("Bar_One", "Bar_One", "Gems"), nutrition.DefaultTable())

	assert.Equal(t, map[string]int{"Bar_One": 2, "Gems": 1}, res.CountsByCategory)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 452, res.TotalCalories)
	assert.Equal(t, 51, res.TotalSugar)
	assert.Equal(t, pipeline.RiskExcessive, res.RiskLevel)
	assert.Equal(t, "#FFA500", res.RiskColor)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "Bar One", res.Items[0].DisplayName)
	assert.Equal(t, 402, res.Items[0].Calories)
}

func TestAggregateEmptyBatch(t *testing.T) {
	for _, b := range []*pipeline.DetectionBatch{nil, batchOf()} {
		res := Aggregate(b, nutrition.DefaultTable())
		assert.Equal(t, 0, res.TotalCount)
		assert.Equal(t, 0, res.TotalCalories)
		assert.Equal(t, 0, res.TotalSugar)
		assert.Equal(t, pipeline.RiskSafe, res.RiskLevel)
		assert.Empty(t, res.Items)
	}
}

func TestAggregateUnknownCategoryCountedNotSummed(t *testing.T) {
	res := Aggregate(batchOf("Kit-Kat", "Unknown", "Unknown"), nutrition.DefaultTable())

	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 2, res.CountsByCategory["Unknown"])
	assert.Equal(t, 106, res.TotalCalories)
	assert.Equal(t, 11, res.TotalSugar)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Kit-Kat", res.Items[0].Category)
}

func TestAggregateNormalizesSpaces(t *testing.T) {
	res := Aggregate(batchOf("Milky Bar", "Milky_Bar"), nutrition.DefaultTable())
	assert.Equal(t, map[string]int{"Milky_Bar": 2}, res.CountsByCategory)
	assert.Equal(t, 274, res.TotalCalories)
}

func TestAggregateInvariants(t *testing.T) {
	table := nutrition.DefaultTable()
	batches := []*pipeline.DetectionBatch{
		batchOf("Gems"),
		batchOf("Gems", "Gems", "Kit-Kat", "Bar One", "Foo"),
		batchOf("Milky_Bar", "Bar_One", "Bar_One", "Bar_One", "Bar_One"),
	}
	for _, b := range batches {
		res := Aggregate(b, table)

		sum := 0
		for _, c := range res.CountsByCategory {
			sum += c
		}
		assert.Equal(t, sum, res.TotalCount)

		calories, sugar := 0, 0
		for cat, c := range res.CountsByCategory {
			if e, ok := table[cat]; ok {
				calories += c * e.Calories
				sugar += c * e.Sugar
			}
		}
		assert.Equal(t, calories, res.TotalCalories)
		assert.Equal(t, sugar, res.TotalSugar)

		// Repeated aggregation never accumulates
		assert.Equal(t, res, Aggregate(b, table))
	}
}

func TestClassifyRiskBoundaries(t *testing.T) {
	cases := []struct {
		calories int
		level    pipeline.RiskLevel
		color    string
	}{
		{0, pipeline.RiskSafe, "#00FF00"},
		{100, pipeline.RiskSafe, "#00FF00"},
		{101, pipeline.RiskModerate, "#0000FF"},
		{200, pipeline.RiskModerate, "#0000FF"},
		{201, pipeline.RiskHigh, "#FFFF00"},
		{400, pipeline.RiskHigh, "#FFFF00"},
		{401, pipeline.RiskExcessive, "#FFA500"},
		{700, pipeline.RiskExcessive, "#FFA500"},
		{701, pipeline.RiskExtreme, "#FF0000"},
		{5000, pipeline.RiskExtreme, "#FF0000"},
	}
	for _, tc := range cases {
		level, color := ClassifyRisk(tc.calories)
		assert.Equal(t, tc.level, level, "calories=%d", tc.calories)
		assert.Equal(t, tc.color, color, "calories=%d", tc.calories)
		assert.Equal(t, tc.color, RiskColor(level))
	}
}
