package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(r *ChannelReporter) []Progress {
	var events []Progress
	for p := range r.C() {
		events = append(events, p)
	}
	return events
}

func TestChannelReporterDeliversInOrder(t *testing.T) {
	r := NewChannelReporter(10)

	r.Report(Progress{Status: Starting, TotalBytes: 90, TotalKnown: true})
	r.Report(Progress{Status: Uploading, BytesSent: 30})
	r.Report(Progress{Status: Uploading, BytesSent: 60})
	r.Report(Progress{Status: Completed, BytesSent: 90})

	events := drain(r)
	require.Len(t, events, 4)
	assert.Equal(t, Starting, events[0].Status)
	assert.Equal(t, int64(60), events[2].BytesSent)
	assert.Equal(t, Completed, events[3].Status)
}

func TestChannelReporterFullBuffer(t *testing.T) {
	r := NewChannelReporter(2)

	r.Report(Progress{Status: Starting})
	r.Report(Progress{Status: Uploading, BytesSent: 1})
	r.Report(Progress{Status: Uploading, BytesSent: 2})
	r.Report(Progress{Status: Failed, BytesSent: 2})

	events := drain(r)
	require.Len(t, events, 2)
	assert.Equal(t, Uploading, events[0].Status)
	assert.Equal(t, int64(1), events[0].BytesSent, "the later progress event was dropped")
	assert.Equal(t, Failed, events[1].Status, "the terminal event evicted the oldest one")
}

func TestChannelReporterIgnoresEventsAfterClose(t *testing.T) {
	r := NewChannelReporter(0)

	r.Report(Progress{Status: Cancelled})
	r.Report(Progress{Status: Uploading})
	r.Report(Progress{Status: Completed})

	events := drain(r)
	require.Len(t, events, 1)
	assert.Equal(t, Cancelled, events[0].Status)
}
