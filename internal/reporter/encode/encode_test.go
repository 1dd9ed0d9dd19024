package encode

import (
	"encoding/json"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/festats/internal/core"
)

func sampleVector() *core.FeatureVector {
	return &core.FeatureVector{
		RunID:     "run-1",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
		SrcIP:     netip.MustParseAddr("10.0.0.1"),
		DstIP:     netip.MustParseAddr("2001:db8::1"),
		SrcPort:   40000,
		DstPort:   443,
		Protocol:  6,
		Length:    1514,
		FlowHash:  -12345,
		Overflow:  true,
		Labels:    core.Labels{core.LabelWorker: "worker-0"},
		Values:    []float64{1.5, math.NaN(), math.Inf(1), -2},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": JSON, "json": JSON, "protobuf": Protobuf, "proto": Protobuf} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("avro")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestMarshalJSON(t *testing.T) {
	b, err := Marshal(JSON, sampleVector())
	require.NoError(t, err)

	var r Record
	require.NoError(t, json.Unmarshal(b, &r))
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, "2024-05-01T12:00:00.123456789Z", r.Timestamp)
	assert.Equal(t, "2001:db8::1", r.DstIP)
	assert.Equal(t, uint16(443), r.DstPort)
	assert.Equal(t, int32(-12345), r.FlowHash)
	assert.True(t, r.Overflow)
	assert.Equal(t, "worker-0", r.Labels[core.LabelWorker])
	assert.Equal(t, []float64{1.5, 0, 0, -2}, r.Features)
}

func TestMarshalProto(t *testing.T) {
	b, err := Marshal(Protobuf, sampleVector())
	require.NoError(t, err)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(b, &st))
	m := st.AsMap()
	assert.Equal(t, "10.0.0.1", m["src_ip"])
	assert.Equal(t, float64(40000), m["src_port"])
	assert.Equal(t, float64(-12345), m["flow_hash"])
	assert.Equal(t, true, m["overflow"])
	assert.Equal(t, []any{1.5, 0.0, 0.0, -2.0}, m["features"])
	assert.Equal(t, map[string]any{core.LabelWorker: "worker-0"}, m["labels"])
}

func TestMarshalNil(t *testing.T) {
	_, err := Marshal(JSON, nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestFiniteKeepsCleanSlice(t *testing.T) {
	in := []float64{1, 2, 3}
	out := Finite(in)
	assert.Equal(t, &in[0], &out[0])
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType(JSON))
	assert.Equal(t, "application/x-protobuf", ContentType(Protobuf))
}
