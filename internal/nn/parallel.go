package nn

import (
	"runtime"
	"sync"
)

// workerCount returns how many goroutines to use for n independent items.
func workerCount(n int) int {
	w := runtime.GOMAXPROCS(0)
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// forEachChunk splits [0, n) into `workers` contiguous ranges and runs body
// on each range in its own goroutine.
func forEachChunk(n, workers int, body func(worker, start, end int)) {
	if n <= 0 {
		return
	}
	per := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * per
		if start >= n {
			break
		}
		end := start + per
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			body(w, start, end)
		}(w, start, end)
	}
	wg.Wait()
}
