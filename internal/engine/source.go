package engine

import (
	"context"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/flowhash"
)

// Source delivers raw frames to the engine.
//
// Read blocks until a frame is available. It returns io.EOF when the source
// is exhausted, and an error once the context given to Start is cancelled.
// The returned Data is only valid until the next Read.
type Source interface {
	Name() string
	Start(ctx context.Context) error
	Read() (core.RawPacket, error)
	Stop() error
	Stats() core.CaptureStats
}

// Extractor turns the keys of one packet into its feature vector.
// *netstat.Extractor implements it.
type Extractor interface {
	Process(ts uint64, size uint32, keys flowhash.Keys) (core.FeatureVector, error)
}
