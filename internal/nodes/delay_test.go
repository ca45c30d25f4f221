package nodes

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayHandler_Validate(t *testing.T) {
	h := &DelayHandler{}

	errs := h.Validate(map[string]any{})
	require.Len(t, errs, 1)
	assert.Equal(t, "A positive delay is required", errs[0])

	assert.Empty(t, h.Validate(map[string]any{"delayMs": 10}))
	assert.Empty(t, h.Validate(map[string]any{"value": 1, "unit": "seconds"}))

	errs = h.Validate(map[string]any{"delayMs": 10, "delayType": "fibonacci"})
	require.Len(t, errs, 1)
	assert.Equal(t, "Unsupported delay type: fibonacci", errs[0])
}

func TestDelayHandler_UnitConversion(t *testing.T) {
	assert.Equal(t, 5, plannedDelayMs(map[string]any{"value": 5}))
	assert.Equal(t, 5000, plannedDelayMs(map[string]any{"value": 5, "unit": "seconds"}))
	assert.Equal(t, 120000, plannedDelayMs(map[string]any{"value": 2, "unit": "minutes"}))
	assert.Equal(t, 3600000, plannedDelayMs(map[string]any{"value": 1, "unit": "hours"}))
	// delayMs takes precedence over value+unit.
	assert.Equal(t, 7, plannedDelayMs(map[string]any{"delayMs": 7, "value": 5, "unit": "hours"}))
}

func TestDelayHandler_Execute_Fixed(t *testing.T) {
	h := &DelayHandler{}

	res := h.Execute(context.Background(), Context{
		Config: map[string]any{"delayMs": 5},
		Input:  "upstream",
	})
	require.True(t, res.Success, res.Error)

	out := res.Output.(map[string]any)
	assert.Equal(t, delayFixed, out["delayType"])
	assert.Equal(t, 5, out["actualDelayMs"])
	assert.Equal(t, 5, out["plannedDelayMs"])
	assert.NotContains(t, out, "passthroughData")
}

func TestDelayHandler_Execute_Passthrough(t *testing.T) {
	h := &DelayHandler{}

	res := h.Execute(context.Background(), Context{
		Config: map[string]any{"delayMs": 1, "passthrough": true},
		Input:  map[string]any{"k": "v"},
	})
	require.True(t, res.Success, res.Error)

	out := res.Output.(map[string]any)
	assert.Equal(t, true, out["passthrough"])
	assert.Equal(t, map[string]any{"k": "v"}, out["passthroughData"])
}

func TestDelayHandler_DrawDelay_RandomStaysInBand(t *testing.T) {
	h := &DelayHandler{rand: rand.New(rand.NewSource(1))}

	for i := 0; i < 100; i++ {
		got := h.drawDelay(delayRandom, 100)
		assert.GreaterOrEqual(t, got, 50)
		assert.Less(t, got, 150)
	}
}

func TestDelayHandler_DrawDelay_ExponentialDoubles(t *testing.T) {
	h := &DelayHandler{rand: rand.New(rand.NewSource(1))}

	for i := 0; i < 100; i++ {
		got := h.drawDelay(delayExponential, 100)
		assert.Contains(t, []int{100, 200, 400}, got)
	}
}

func TestDelayHandler_Execute_CancelledMidWait(t *testing.T) {
	h := &DelayHandler{}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := h.Execute(ctx, Context{Config: map[string]any{"delayMs": 10000}})
	assert.False(t, res.Success)
	assert.Equal(t, CancelledMessage, res.Error)
	assert.Less(t, time.Since(start), 5*time.Second)
}
