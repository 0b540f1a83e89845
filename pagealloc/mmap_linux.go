//go:build linux

// File: pagealloc/mmap_linux.go
// License: Apache-2.0
//
// mmap-backed api.PageAllocator. Each CPU owns a growing set of
// anonymous mappings; arena blocks are carved out of them and recycled
// through per-CPU, per-class free lists on bulk release. Pinned threads
// therefore keep touching memory first-faulted on their own node.

package pagealloc

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/basicthinker/silo/api"
)

// Compile-time interface compliance.
var _ api.PageAllocator = (*mmapAlloc)(nil)

func newPlatform(cfg *Config) api.PageAllocator { return NewMmap(cfg) }

type memRange struct {
	start, end uintptr
	cpu        int
}

type mapping struct {
	buf []byte
	off int // carve offset; everything below is granted or recycled
}

type cpuRegion struct {
	maps []*mapping
	free [api.MaxArenas][][]byte // recycled blocks per size class
}

type mmapAlloc struct {
	cfg      Config
	hugepage int
	pagesize int

	mu      sync.Mutex // guards regions, carving, recycling
	regions map[int]*cpuRegion

	rmu    sync.RWMutex // ranges see lock-free reads from ManagesPointer
	ranges []memRange   // sorted by start
}

// NewMmap creates the Linux allocator.
func NewMmap(cfg *Config) api.PageAllocator {
	return &mmapAlloc{
		cfg:      cfg.withDefaults(),
		hugepage: probeHugepageSize(),
		pagesize: os.Getpagesize(),
		regions:  make(map[int]*cpuRegion),
	}
}

// AllocateArenas implements api.PageAllocator.
func (a *mmapAlloc) AllocateArenas(cpu, class int) ([][]byte, error) {
	if class < 0 || class >= api.MaxArenas {
		return nil, errors.Errorf("pagealloc: size class %d out of range", class)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	reg := a.region(cpu)
	if n := len(reg.free[class]); n > 0 {
		take := a.cfg.BatchBlocks
		if take > n {
			take = n
		}
		batch := make([][]byte, take)
		copy(batch, reg.free[class][n-take:])
		reg.free[class] = reg.free[class][:n-take]
		return batch, nil
	}

	size := (class + 1) * api.Alignment
	need := size * a.cfg.BatchBlocks
	m := reg.tail()
	if m == nil || len(m.buf)-m.off < need {
		var err error
		if m, err = a.grow(cpu, reg); err != nil {
			return nil, err
		}
	}
	batch := make([][]byte, 0, a.cfg.BatchBlocks)
	for i := 0; i < a.cfg.BatchBlocks; i++ {
		batch = append(batch, m.buf[m.off:m.off+size:m.off+size])
		m.off += size
	}
	return batch, nil
}

// ReleaseArenas implements api.PageAllocator. Blocks return to the free
// lists of the CPU whose mapping they came from.
func (a *mmapAlloc) ReleaseArenas(lists *api.FreeLists) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for class := range lists {
		for _, b := range lists[class] {
			cpu, ok := a.owner(base(b))
			if !ok {
				continue
			}
			reg := a.region(cpu)
			reg.free[class] = append(reg.free[class], b)
		}
	}
}

// ManagesPointer implements api.PageAllocator.
func (a *mmapAlloc) ManagesPointer(b []byte) bool {
	_, ok := a.owner(base(b))
	return ok
}

// AllocateUnmanaged implements api.PageAllocator. Tries an explicit
// hugepage mapping first and falls back to a madvised regular one.
func (a *mmapAlloc) AllocateUnmanaged(cpu, hugepages int) ([]byte, error) {
	if hugepages <= 0 {
		return nil, errors.Errorf("pagealloc: invalid hugepage count %d", hugepages)
	}
	sz := hugepages * a.hugepage
	const prot = unix.PROT_READ | unix.PROT_WRITE
	buf, err := unix.Mmap(-1, 0, sz, prot,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err == nil {
		return buf, nil
	}
	buf, err = unix.Mmap(-1, 0, sz, prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrapf(err, "pagealloc: mmap %d bytes", sz)
	}
	_ = unix.Madvise(buf, unix.MADV_HUGEPAGE)
	return buf, nil
}

// HugepageSize implements api.PageAllocator.
func (a *mmapAlloc) HugepageSize() int { return a.hugepage }

// FaultRegion implements api.PageAllocator. Touches the not-yet-carved
// tail of every mapping owned by cpu so later grants hit warm pages.
func (a *mmapAlloc) FaultRegion(cpu int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reg, ok := a.regions[cpu]
	if !ok {
		return
	}
	for _, m := range reg.maps {
		start := (m.off + a.pagesize - 1) &^ (a.pagesize - 1)
		for off := start; off < len(m.buf); off += a.pagesize {
			m.buf[off] = 0
		}
	}
}

func (reg *cpuRegion) tail() *mapping {
	if n := len(reg.maps); n > 0 {
		return reg.maps[n-1]
	}
	return nil
}

// region returns cpu's region, creating it on first use. Caller holds mu.
func (a *mmapAlloc) region(cpu int) *cpuRegion {
	reg, ok := a.regions[cpu]
	if !ok {
		reg = &cpuRegion{}
		a.regions[cpu] = reg
	}
	return reg
}

// grow maps another RegionBytes chunk for cpu. Caller holds mu.
func (a *mmapAlloc) grow(cpu int, reg *cpuRegion) (*mapping, error) {
	buf, err := unix.Mmap(-1, 0, a.cfg.RegionBytes,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrapf(err, "pagealloc: mmap region for cpu %d", cpu)
	}
	m := &mapping{buf: buf}
	reg.maps = append(reg.maps, m)
	a.addRange(memRange{start: base(buf), end: base(buf) + uintptr(len(buf)), cpu: cpu})
	return m, nil
}

func (a *mmapAlloc) addRange(r memRange) {
	a.rmu.Lock()
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].start > r.start })
	a.ranges = append(a.ranges, memRange{})
	copy(a.ranges[i+1:], a.ranges[i:])
	a.ranges[i] = r
	a.rmu.Unlock()
}

// owner returns the CPU whose mapping contains p.
func (a *mmapAlloc) owner(p uintptr) (int, bool) {
	a.rmu.RLock()
	defer a.rmu.RUnlock()
	i := sort.Search(len(a.ranges), func(i int) bool { return a.ranges[i].start > p })
	if i == 0 {
		return 0, false
	}
	r := a.ranges[i-1]
	if p >= r.end {
		return 0, false
	}
	return r.cpu, true
}

// probeHugepageSize reads the platform hugepage granularity from
// /proc/meminfo, defaulting to 2 MiB.
func probeHugepageSize() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return DefaultHugepageSize
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "Hugepagesize:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil || kb <= 0 {
			break
		}
		return kb << 10
	}
	return DefaultHugepageSize
}
