package main

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/getsentry/memtrace/internal/frame"
	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/tracker"
)

// runWorkload drives the tracker the way a hooked interpreter would:
// each worker stands in for one interpreter thread, pushing and popping
// frames around bursts of allocation and deallocation events.
func runWorkload(tr *tracker.Tracker, workers, allocations int) {
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ctx := tr.RegisterContext(fmt.Sprintf("worker-%d", w))
			rng := rand.New(rand.NewSource(int64(w)))

			tr.PushFrame(ctx, frame.Frame{Function: "main", File: "app.py", Line: 1, IsEntry: true})
			live := make(map[uint64]uint64)
			for i := 0; i < allocations; i++ {
				depth := rng.Intn(4)
				for d := 0; d < depth; d++ {
					tr.PushFrame(ctx, frame.Frame{
						Function: fmt.Sprintf("handler_%d", d),
						File:     "app.py",
						Line:     uint32(10 + d),
					})
				}
				addr := uint64(w)<<32 | uint64(i)
				size := uint64(rng.Intn(4096) + 1)
				tr.TrackAllocation(ctx, addr, size, records.AllocatorMalloc)
				live[addr] = size

				// Free roughly half of what is live to keep churn going.
				if rng.Intn(2) == 0 {
					for a, sz := range live {
						tr.TrackDeallocation(ctx, a, sz, records.AllocatorFree)
						delete(live, a)
						break
					}
				}
				tr.PopFrames(ctx, uint32(depth))
			}
			for a, sz := range live {
				tr.TrackDeallocation(ctx, a, sz, records.AllocatorFree)
			}
			tr.PopFrames(ctx, 1)
		}(w)
	}
	wg.Wait()
}
