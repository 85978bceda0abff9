package aggregate

import (
	"candyscope/internal/pipeline"
)

type riskBand struct {
	max   int // Inclusive upper bound on total calories
	level pipeline.RiskLevel
	color string
}

// Bands are checked in order, the last one catches everything above
var riskLadder = []riskBand{
	{max: 100, level: pipeline.RiskSafe, color: "#00FF00"},
	{max: 200, level: pipeline.RiskModerate, color: "#0000FF"},
	{max: 400, level: pipeline.RiskHigh, color: "#FFFF00"},
	{max: 700, level: pipeline.RiskExcessive, color: "#FFA500"},
}

var extremeBand = riskBand{level: pipeline.RiskExtreme, color: "#FF0000"}

// ClassifyRisk maps total calories to a risk level and its display color
func ClassifyRisk(totalCalories int) (pipeline.RiskLevel, string) {
	for _, band := range riskLadder {
		if totalCalories <= band.max {
			return band.level, band.color
		}
	}
	return extremeBand.level, extremeBand.color
}

// RiskColor returns the display color for a level
func RiskColor(level pipeline.RiskLevel) string {
	for _, band := range riskLadder {
		if band.level == level {
			return band.color
		}
	}
	return extremeBand.color
}
