package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_Serializes(t *testing.T) {
	l := NewKeyedLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "order:1")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.entries)
}

func TestKeyedLocker_ContextCancel(t *testing.T) {
	l := NewKeyedLocker()
	unlock, err := l.Lock(context.Background(), "merchant:1")
	require.NoError(t, err)

	// Other keys are independent.
	other, err := l.Lock(context.Background(), "merchant:2")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "merchant:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Empty(t, l.entries)
}
