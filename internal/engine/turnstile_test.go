package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnstileAdmitsInSequence(t *testing.T) {
	const workers, n = 4, 400
	ts := newTurnstile()

	var order []uint64
	var wg sync.WaitGroup
	// started in reverse so arrival order does not follow the sequence
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for seq := uint64(w); seq < n; seq += workers {
				ts.enter(seq)
				order = append(order, seq)
				ts.leave()
			}
		}(workers - 1 - w)
	}
	wg.Wait()

	assert.Len(t, order, n)
	for i, seq := range order {
		assert.Equal(t, uint64(i), seq)
	}
}
