package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func Test_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Opened()
	m.Opened()
	m.Attempt()
	m.Attempt()
	m.Attempt()
	m.Command("insert")
	m.Command("insert")
	m.Command("flush")
	m.Completed("committed", "")
	m.Stalled(4)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.opened))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.attempts))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.commands.WithLabelValues("insert")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.commands.WithLabelValues("flush")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("committed", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inFlight))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.stalled))

	count, err := testutil.GatherAndCount(reg)
	assert.Equal(t, nil, err)
	assert.Equal(t, 7, count)
}

func Test_Metrics_nil(t *testing.T) {
	var m *Metrics
	m.Opened()
	m.Attempt()
	m.Command("insert")
	m.Completed("aborted", "user_abort")
	m.Stalled(1)
}
