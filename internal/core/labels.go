// Package core defines core types.
package core

// Labels represents key-value metadata attached to feature vectors.
type Labels map[string]string

// Label naming constants following {scope}.{field} convention.
const (
	LabelRunID     = "festats.run_id"
	LabelSource    = "festats.source"    // "pcap" or "afpacket"
	LabelInterface = "festats.interface" // capture interface or pcap path
	LabelWorker    = "festats.worker"
)

// Clone returns an independent copy of l.
func (l Labels) Clone() Labels {
	if l == nil {
		return nil
	}
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}
