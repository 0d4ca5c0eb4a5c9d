package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccept(t *testing.T) {
	t.Parallel()

	d := New()
	require.True(t, d.Accept("url:https://example.org/first"))
	require.False(t, d.Accept("url:https://example.org/first"))
	require.True(t, d.Accept("url:https://example.org/second"))
	require.False(t, d.Accept(""))
	require.Equal(t, 2, d.SeenCount())
}

func TestAcceptConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	d := New()
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				if d.Accept(fmt.Sprintf("key-%d", k)) {
					wins.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 100, wins.Load())
	require.Equal(t, 100, d.SeenCount())
}
