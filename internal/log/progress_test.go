package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"auto", "plain", "json"} {
		mode, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, Mode(valid), mode)
	}

	_, err := ParseMode("fancy")
	assert.Error(t, err)
}

func TestStepLoggerIgnoresUnknownStep(t *testing.T) {
	sl := NewStepLogger(ModeJSON, []string{"ingest", "backtest"})
	sl.StartStep("nonsense")
	assert.Equal(t, "unknown", sl.currentStepName())

	sl.StartStep("backtest")
	assert.Equal(t, "backtest", sl.currentStepName())
}

func TestCounterCompletes(t *testing.T) {
	c := NewCounter(ModeJSON, "cutoffs", 3)
	for i := 0; i < 3; i++ {
		c.Increment()
	}
	c.Finish()
	assert.Equal(t, 3, c.current)
}
