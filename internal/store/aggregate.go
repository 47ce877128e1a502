package store

import (
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := math.Round(m.sum/float64(m.n)*100) / 100
	return &v
}

// Summarize folds an ascending observation sequence into an Aggregate.
// Condition ties are broken alphabetically.
func Summarize(entityID string, start, end time.Time, seq iter.Seq2[domain.Observation, error]) (domain.Aggregate, error) {
	agg := domain.Aggregate{EntityID: entityID, Start: start.UTC(), End: end.UTC()}

	var (
		temp, humidity, wind mean
		minTemp, maxTemp     *float64
		conditions           = map[string]int{}
	)

	for obs, err := range seq {
		if err != nil {
			return domain.Aggregate{}, err
		}

		if agg.RecordCount == 0 {
			agg.FirstTimestamp = obs.Timestamp
		}
		agg.LastTimestamp = obs.Timestamp
		agg.RecordCount++

		temp.add(obs.Temperature)
		humidity.add(obs.Humidity)
		wind.add(obs.WindSpeed)

		if t := obs.Temperature; t != nil {
			if minTemp == nil || *t < *minTemp {
				v := *t
				minTemp = &v
			}
			if maxTemp == nil || *t > *maxTemp {
				v := *t
				maxTemp = &v
			}
		}

		if obs.Condition != "" {
			conditions[obs.Condition]++
		}
	}

	if agg.RecordCount == 0 {
		return domain.Aggregate{}, fmt.Errorf("%s between %s and %s: %w",
			entityID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), domain.ErrEmptyRange)
	}

	agg.AvgTemperature = temp.value()
	agg.MinTemperature = minTemp
	agg.MaxTemperature = maxTemp
	agg.AvgHumidity = humidity.value()
	agg.AvgWindSpeed = wind.value()
	agg.MostCommonCondition = mode(conditions)

	return agg, nil
}

func mode(counts map[string]int) string {
	var (
		best  string
		count int
	)
	for cond, n := range counts {
		if n > count || (n == count && cond < best) {
			best, count = cond, n
		}
	}
	return best
}
