// Package encode serialises feature vectors for the message reporters.
package encode

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/festats/internal/core"
)

// Format is a wire encoding.
type Format string

const (
	JSON     Format = "json"
	Protobuf Format = "protobuf"
)

// ParseFormat accepts "json" (also the empty string) and "protobuf".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", string(JSON):
		return JSON, nil
	case string(Protobuf), "proto":
		return Protobuf, nil
	}
	return "", fmt.Errorf("%w: unknown format %q, must be json or protobuf", core.ErrConfigInvalid, s)
}

// Record is the JSON shape of a vector.
type Record struct {
	RunID     string            `json:"run_id"`
	Timestamp string            `json:"timestamp"`
	SrcIP     string            `json:"src_ip"`
	DstIP     string            `json:"dst_ip"`
	SrcPort   uint16            `json:"src_port"`
	DstPort   uint16            `json:"dst_port"`
	Protocol  uint8             `json:"protocol"`
	Length    uint32            `json:"length"`
	FlowHash  int32             `json:"flow_hash"`
	Overflow  bool              `json:"overflow"`
	Labels    map[string]string `json:"labels,omitempty"`
	Features  []float64         `json:"features"`
}

// TimeLayout is used for every textual timestamp.
const TimeLayout = time.RFC3339Nano

// NewRecord flattens vec. Non-finite values become 0 since JSON cannot
// carry them.
func NewRecord(vec *core.FeatureVector) Record {
	return Record{
		RunID:     vec.RunID,
		Timestamp: vec.Timestamp.UTC().Format(TimeLayout),
		SrcIP:     vec.SrcIP.String(),
		DstIP:     vec.DstIP.String(),
		SrcPort:   vec.SrcPort,
		DstPort:   vec.DstPort,
		Protocol:  vec.Protocol,
		Length:    vec.Length,
		FlowHash:  vec.FlowHash,
		Overflow:  vec.Overflow,
		Labels:    vec.Labels,
		Features:  Finite(vec.Values),
	}
}

// Finite returns values with NaN and infinities replaced by 0. values is
// returned as is when it is already finite.
func Finite(values []float64) []float64 {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out := make([]float64, len(values))
			copy(out, values[:i])
			for j := i; j < len(values); j++ {
				if w := values[j]; !math.IsNaN(w) && !math.IsInf(w, 0) {
					out[j] = w
				}
			}
			return out
		}
	}
	return values
}

// MarshalJSON encodes vec as a Record.
func MarshalJSON(vec *core.FeatureVector) ([]byte, error) {
	return json.Marshal(NewRecord(vec))
}

// ToStruct converts vec into a protobuf Struct with the same fields as
// Record.
func ToStruct(vec *core.FeatureVector) (*structpb.Struct, error) {
	r := NewRecord(vec)
	features := make([]any, len(r.Features))
	for i, v := range r.Features {
		features[i] = v
	}
	labels := make(map[string]any, len(r.Labels))
	for k, v := range r.Labels {
		labels[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"run_id":    r.RunID,
		"timestamp": r.Timestamp,
		"src_ip":    r.SrcIP,
		"dst_ip":    r.DstIP,
		"src_port":  uint32(r.SrcPort),
		"dst_port":  uint32(r.DstPort),
		"protocol":  uint32(r.Protocol),
		"length":    r.Length,
		"flow_hash": r.FlowHash,
		"overflow":  r.Overflow,
		"labels":    labels,
		"features":  features,
	})
}

// MarshalProto encodes vec as a serialised google.protobuf.Struct.
func MarshalProto(vec *core.FeatureVector) ([]byte, error) {
	st, err := ToStruct(vec)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

// Marshal encodes vec in format f.
func Marshal(f Format, vec *core.FeatureVector) ([]byte, error) {
	if vec == nil {
		return nil, fmt.Errorf("%w: nil vector", core.ErrInvalidArgument)
	}
	if f == Protobuf {
		return MarshalProto(vec)
	}
	return MarshalJSON(vec)
}

// ContentType is the MIME type of format f.
func ContentType(f Format) string {
	if f == Protobuf {
		return "application/x-protobuf"
	}
	return "application/json"
}
