package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_ConfigIDStable(t *testing.T) {
	a, err := AutoProfile().Compile()
	require.NoError(t, err)
	b, err := AutoProfile().Compile()
	require.NoError(t, err)
	assert.Equal(t, a.ConfigID, b.ConfigID)
	assert.Len(t, a.ConfigID, 64)
}

func TestCompile_ConfigIDSensitiveToEveryParameter(t *testing.T) {
	base, err := AutoProfile().Compile()
	require.NoError(t, err)

	altered := []StreamProfile{
		{Intent: IntentAuto, LatencyWeight: 51, ResilienceWeight: 50},
		{Intent: IntentAuto, LatencyWeight: 50, ResilienceWeight: 49},
		{Intent: IntentInstall, LatencyWeight: 50, ResilienceWeight: 50},
		{Intent: IntentRealtime, LatencyWeight: 50, ResilienceWeight: 50},
	}
	for _, p := range altered {
		c, err := p.Compile()
		require.NoError(t, err)
		assert.NotEqual(t, base.ConfigID, c.ConfigID)
	}
}

func TestCompile_RejectsInvalidWeights(t *testing.T) {
	cases := []StreamProfile{
		{Intent: IntentAuto, LatencyWeight: 101, ResilienceWeight: 50},
		{Intent: IntentAuto, LatencyWeight: 50, ResilienceWeight: 200},
		{Intent: IntentAuto, LatencyWeight: 0, ResilienceWeight: 0},
	}
	for _, p := range cases {
		_, err := p.Compile()
		assert.True(t, IsCode(err, ErrCodeProfileInvalid), "weights %d/%d", p.LatencyWeight, p.ResilienceWeight)
	}
}

func TestProfileBounds_PerIntent(t *testing.T) {
	realtime, err := RealtimeProfile().Compile()
	require.NoError(t, err)
	assert.Equal(t, uint8(8), realtime.Bounds.MinKeyframeInterval)
	assert.Equal(t, uint8(12), realtime.Bounds.BaseKeyframeInterval)
	assert.Equal(t, int16(0), realtime.Bounds.MaxDeadlineOffsetMs)

	install, err := InstallProfile().Compile()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), install.Bounds.MinDeltaDepth)
	assert.Equal(t, int16(25), install.Bounds.MaxDeadlineOffsetMs)

	auto, err := AutoProfile().Compile()
	require.NoError(t, err)
	assert.Equal(t, int16(30), auto.Bounds.DeadlineRangeMs())
}

func TestJitterStrategy_FollowsIntentAndWeights(t *testing.T) {
	realtime, _ := RealtimeProfile().Compile()
	assert.Equal(t, JitterDrop, realtime.JitterStrategy())

	auto, _ := AutoProfile().Compile()
	assert.Equal(t, JitterHoldLast, auto.JitterStrategy())

	install, _ := InstallProfile().Compile()
	assert.Equal(t, JitterLerp, install.JitterStrategy())
}
