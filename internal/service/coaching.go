package service

import (
	"math"
	"sort"

	"github.com/sales-academy/backend/internal/models"
)

type SkillAverage struct {
	Key     string  `json:"key"`
	Average float64 `json:"average"`
}

// WeakestSkills ranks an agent's skills ascending by mean score and
// returns the first topN. Skills with no collected scores are left out
// entirely: no data is not zero skill. Ties keep SkillKeys order.
func WeakestSkills(agg *models.AgentAggregate, topN int) []SkillAverage {
	if topN <= 0 {
		topN = 3
	}

	var averages []SkillAverage
	for _, key := range SkillKeys {
		scores := agg.Skills[key]
		if len(scores) == 0 {
			continue
		}
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		avg := math.Round(sum/float64(len(scores))*10) / 10
		averages = append(averages, SkillAverage{Key: key, Average: avg})
	}

	sort.SliceStable(averages, func(i, j int) bool {
		return averages[i].Average < averages[j].Average
	})

	if len(averages) > topN {
		averages = averages[:topN]
	}
	return averages
}
