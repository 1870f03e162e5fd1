package modules

import (
	"sort"
	"sync"

	"github.com/prometheus/procfs"
)

type (
	region struct {
		start uint64
		end   uint64
		off   uint64
		path  string
	}

	// Map caches the executable regions of the process's address space
	// so native frame addresses can be attributed to the module that
	// owns them. The cache goes stale whenever code is loaded or
	// unloaded; the coordinator refreshes or invalidates it through
	// Update and Invalidate.
	Map struct {
		mu      sync.RWMutex
		regions []region
		valid   bool
	}
)

func New() *Map {
	return &Map{}
}

// Update refreshes the cache from the process map table.
func (m *Map) Update() error {
	p, err := procfs.Self()
	if err != nil {
		return err
	}
	maps, err := p.ProcMaps()
	if err != nil {
		return err
	}
	regions := make([]region, 0, len(maps))
	for _, pm := range maps {
		if pm.Pathname == "" || !pm.Perms.Execute {
			continue
		}
		regions = append(regions, region{
			start: uint64(pm.StartAddr),
			end:   uint64(pm.EndAddr),
			off:   uint64(pm.Offset),
			path:  pm.Pathname,
		})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].start < regions[j].start })

	m.mu.Lock()
	m.regions = regions
	m.valid = true
	m.mu.Unlock()
	return nil
}

// Invalidate drops the cache. Resolve misses until the next Update.
func (m *Map) Invalidate() {
	m.mu.Lock()
	m.regions = nil
	m.valid = false
	m.mu.Unlock()
}

// Valid reports whether the cache holds a current snapshot.
func (m *Map) Valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valid
}

// Resolve returns the module owning addr and the file offset of addr
// within it.
func (m *Map) Resolve(addr uint64) (path string, offset uint64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.valid {
		return "", 0, false
	}
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].end > addr })
	if i == len(m.regions) || addr < m.regions[i].start {
		return "", 0, false
	}
	r := m.regions[i]
	return r.path, addr - r.start + r.off, true
}
