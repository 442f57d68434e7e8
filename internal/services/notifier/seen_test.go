package notifier

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySeen(t *testing.T) {
	s := NewMemorySeen()
	require.False(t, s.Seen("t1-reminder"))
	s.Mark("t1-reminder")
	require.True(t, s.Seen("t1-reminder"))
	require.False(t, s.Seen("t2-reminder"))
}

func TestMemorySeen_Concurrent(t *testing.T) {
	s := NewMemorySeen()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Mark("shared")
			_ = s.Seen("shared")
		}()
	}
	wg.Wait()
	require.True(t, s.Seen("shared"))
}
