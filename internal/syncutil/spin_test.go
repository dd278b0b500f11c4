package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinMutexMutualExclusion(t *testing.T) {
	var m SpinMutex
	var wg sync.WaitGroup
	counter := 0

	const workers = 8
	const incsEach = 500
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incsEach; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*incsEach, counter)
}

func TestSpinOnceRunsExactlyOnce(t *testing.T) {
	var once SpinOnce
	var wg sync.WaitGroup
	runs := 0
	var mu sync.Mutex

	const callers = 16
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			once.Do(func() {
				mu.Lock()
				runs++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 1, runs)
}

func TestPanicOnceSecondCallPanics(t *testing.T) {
	var once PanicOnce
	once.Do(func() {})

	require.Panics(t, func() {
		once.Do(func() {})
	})
}

func TestPanicOnceFirstCallRunsOnce(t *testing.T) {
	var once PanicOnce
	runs := 0
	once.Do(func() { runs++ })
	require.Equal(t, 1, runs)
}
