package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/festats/internal/core"
)

func vector() *core.FeatureVector {
	return &core.FeatureVector{
		RunID:     "r",
		Timestamp: time.Date(2024, 1, 1, 10, 20, 30, 0, time.UTC),
		SrcIP:     netip.MustParseAddr("192.168.1.1"),
		DstIP:     netip.MustParseAddr("192.168.1.2"),
		SrcPort:   5060,
		DstPort:   5061,
		Protocol:  17,
		Length:    200,
		FlowHash:  -1,
		Values:    []float64{1, 2.5, 3},
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"nil config", nil, false},
		{"json", map[string]any{"format": "json"}, false},
		{"text with limit", map[string]any{"format": "text", "max_values": float64(10)}, false},
		{"invalid format", map[string]any{"format": "xml"}, true},
		{"negative limit", map[string]any{"max_values": -1}, true},
		{"unknown key", map[string]any{"colour": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newReporter(&bytes.Buffer{}).Init(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReportText(t *testing.T) {
	var buf bytes.Buffer
	r := newReporter(&buf)
	require.NoError(t, r.Init(map[string]any{"max_values": 2}))
	r.SetFeatureNames([]string{"a", "b", "c"})

	require.NoError(t, r.Report(context.Background(), vector()))
	require.NoError(t, r.Flush(context.Background()))

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "[10:20:30.000000] 192.168.1.1:5060 -> 192.168.1.2:5061 proto=17 len=200 hash=ffffffff"), line)
	assert.Contains(t, line, " a=1 b=2.5 ...(1 more)\n")
}

func TestReportJSON(t *testing.T) {
	var buf bytes.Buffer
	r := newReporter(&buf)
	require.NoError(t, r.Init(map[string]any{"format": "json"}))

	require.NoError(t, r.Report(context.Background(), vector()))
	require.NoError(t, r.Stop(context.Background()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	assert.Equal(t, "192.168.1.1", got["src_ip"])
	assert.Equal(t, []any{1.0, 2.5, 3.0}, got["features"])
	assert.Equal(t, uint64(1), r.reportedCount.Load())
}

func TestReportNil(t *testing.T) {
	r := newReporter(&bytes.Buffer{})
	assert.ErrorIs(t, r.Report(context.Background(), nil), core.ErrInvalidArgument)
}
