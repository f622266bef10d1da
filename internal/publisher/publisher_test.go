package publisher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	got map[string]any
	err error
}

func (m *memorySink) Publish(channel string, v any) error {
	if m.err != nil {
		return m.err
	}
	if m.got == nil {
		m.got = map[string]any{}
	}
	m.got[channel] = v
	return nil
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "tracker.current-time", Subject("tracker", ChannelTime))
	assert.Equal(t, "events.io2016.bus-locations", Subject("events.io2016", ChannelBuses))
	assert.Equal(t, "panels", Subject("", ChannelPanels))
	assert.Equal(t, "a_b.c_d", Subject("a b", "c.d"))
	assert.Equal(t, "_", subjectToken("  "))
	assert.Equal(t, "x___y", subjectToken("x*>/y"))
}

func TestFanout(t *testing.T) {
	a, b := &memorySink{}, &memorySink{err: errors.New("down")}
	c := &memorySink{}

	err := Fanout{a, b, nil, c}.Publish(ChannelMap, 3)
	require.Error(t, err)
	assert.ErrorContains(t, err, "sink 1: down")
	assert.Equal(t, 3, a.got[ChannelMap])
	assert.Equal(t, 3, c.got[ChannelMap], "later sinks still receive")

	assert.NoError(t, Fanout{a}.Publish(ChannelTime, "x"))
	assert.NoError(t, Fanout{}.Publish(ChannelTime, "x"))
}
