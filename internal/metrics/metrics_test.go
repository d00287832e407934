package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSync(t *testing.T) {
	before := testutil.ToFloat64(SyncItems.WithLabelValues(OutcomeSucceeded))
	ObserveSync(OutcomeSucceeded, 3)
	ObserveSync(OutcomeSucceeded, 0)
	assert.Equal(t, before+3, testutil.ToFloat64(SyncItems.WithLabelValues(OutcomeSucceeded)))
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(map[string]int{"pending": 4, "failed": 1})
	assert.Equal(t, float64(4), testutil.ToFloat64(QueueDepth.WithLabelValues("pending")))
	assert.Equal(t, float64(0), testutil.ToFloat64(QueueDepth.WithLabelValues("syncing")))

	SetQueueDepth(map[string]int{})
	assert.Equal(t, float64(0), testutil.ToFloat64(QueueDepth.WithLabelValues("pending")))
}
