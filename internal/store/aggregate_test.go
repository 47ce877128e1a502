package store

import (
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqOf(obs ...domain.Observation) iter.Seq2[domain.Observation, error] {
	return func(yield func(domain.Observation, error) bool) {
		for _, o := range obs {
			if !yield(o, nil) {
				return
			}
		}
	}
}

func point(h int, temp *float64, cond string) domain.Observation {
	return domain.Observation{
		EntityID:    "Paris",
		Timestamp:   time.Date(2026, 1, 10, h, 0, 0, 0, time.UTC),
		Temperature: temp,
		Condition:   cond,
	}
}

func fp(v float64) *float64 { return &v }

func TestSummarize_ModeTieBreaksAlphabetically(t *testing.T) {
	agg, err := Summarize("Paris", fixedNow, fixedNow, seqOf(
		point(1, fp(5), "Rain"),
		point(2, fp(6), "Clouds"),
		point(3, fp(7), "Rain"),
		point(4, fp(8), "Clouds"),
	))
	require.NoError(t, err)
	assert.Equal(t, "Clouds", agg.MostCommonCondition)
	assert.Equal(t, 6.5, *agg.AvgTemperature)
}

func TestSummarize_SkipsUnsetMeasurements(t *testing.T) {
	agg, err := Summarize("Paris", fixedNow, fixedNow, seqOf(
		point(1, fp(-2), ""),
		point(2, nil, "Snow"),
		point(3, fp(4), ""),
	))
	require.NoError(t, err)

	assert.Equal(t, 3, agg.RecordCount)
	assert.Equal(t, 1.0, *agg.AvgTemperature)
	assert.Equal(t, -2.0, *agg.MinTemperature)
	assert.Equal(t, 4.0, *agg.MaxTemperature)
	assert.Nil(t, agg.AvgHumidity)
	assert.Equal(t, "Snow", agg.MostCommonCondition)
}

func TestSummarize_NoTemperatures(t *testing.T) {
	agg, err := Summarize("Paris", fixedNow, fixedNow, seqOf(point(1, nil, "Fog")))
	require.NoError(t, err)
	assert.Nil(t, agg.AvgTemperature)
	assert.Nil(t, agg.MinTemperature)
}

func TestSummarize_Empty(t *testing.T) {
	_, err := Summarize("Paris", fixedNow, fixedNow, seqOf())
	assert.ErrorIs(t, err, domain.ErrEmptyRange)
}

func TestSummarize_PropagatesSequenceError(t *testing.T) {
	boom := domain.NewStoreError("get range", errors.New("eof"))
	seq := func(yield func(domain.Observation, error) bool) {
		if !yield(point(1, fp(1), ""), nil) {
			return
		}
		yield(domain.Observation{}, boom)
	}

	_, err := Summarize("Paris", fixedNow, fixedNow, seq)
	assert.ErrorIs(t, err, boom)
}
