package reporter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/festats/internal/core"
)

// sinkReporter records what it receives and fails while err is set.
type sinkReporter struct {
	mockReporter
	mu       sync.Mutex
	got      []int32
	err      error
	started  bool
	stopped  bool
	startErr error
	names    []string
}

func (s *sinkReporter) Start(context.Context) error { s.started = true; return s.startErr }
func (s *sinkReporter) Stop(context.Context) error  { s.stopped = true; return nil }

func (s *sinkReporter) Report(_ context.Context, vec *core.FeatureVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, vec.FlowHash)
	return nil
}

func (s *sinkReporter) SetFeatureNames(names []string) { s.names = names }

func TestFallbackReport(t *testing.T) {
	primary := &sinkReporter{mockReporter: mockReporter{name: "kafka"}}
	secondary := &sinkReporter{mockReporter: mockReporter{name: "csv"}}
	f := WithFallback(primary, secondary)
	ctx := context.Background()

	assert.Equal(t, "kafka", f.Name())
	require.NoError(t, f.Start(ctx))
	assert.True(t, primary.started)
	assert.True(t, secondary.started)

	require.NoError(t, f.Report(ctx, &core.FeatureVector{FlowHash: 1}))
	primary.err = errors.New("broker down")
	require.NoError(t, f.Report(ctx, &core.FeatureVector{FlowHash: 2}))

	secondary.err = errors.New("disk full")
	err := f.Report(ctx, &core.FeatureVector{FlowHash: 3})
	assert.ErrorContains(t, err, "broker down")
	assert.ErrorContains(t, err, "disk full")

	assert.Equal(t, []int32{1}, primary.got)
	assert.Equal(t, []int32{2}, secondary.got)
	assert.Equal(t, uint64(1), f.fallbackCount.Load())

	require.NoError(t, f.Flush(ctx))
	require.NoError(t, f.Stop(ctx))
	assert.True(t, primary.stopped)
	assert.True(t, secondary.stopped)
}

func TestFallbackStartFailureStopsSecondary(t *testing.T) {
	primary := &sinkReporter{mockReporter: mockReporter{name: "nats"}, startErr: errors.New("no servers")}
	secondary := &sinkReporter{mockReporter: mockReporter{name: "csv"}}
	f := WithFallback(primary, secondary)

	assert.ErrorContains(t, f.Start(context.Background()), "no servers")
	assert.True(t, secondary.stopped)
}

func TestFallbackForwardsFeatureNames(t *testing.T) {
	primary := &sinkReporter{mockReporter: mockReporter{name: "clickhouse"}}
	secondary := &mockReporter{name: "console"}
	var r Reporter = WithFallback(primary, secondary)

	fa, ok := r.(FeatureNamesAware)
	require.True(t, ok)
	fa.SetFeatureNames([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, primary.names)
}
