package platform

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
)

// Runtime exposes scheduler and host facts.
type Runtime struct{}

func (*Runtime) GetGoVersion() string { return runtime.Version() }
func (*Runtime) GetNumCPU() int       { return runtime.NumCPU() }
func (*Runtime) GetNumGoroutine() int { return runtime.NumGoroutine() }
func (*Runtime) GetGOOS() string      { return runtime.GOOS }
func (*Runtime) GetGOARCH() string    { return runtime.GOARCH }
func (*Runtime) GetMaxProcs() int     { return runtime.GOMAXPROCS(0) }
func (*Runtime) Gosched()             { runtime.Gosched() }
func (*Runtime) Description() string  { return "Go runtime scheduler and host information" }

// SetMaxProcs changes GOMAXPROCS.
func (*Runtime) SetMaxProcs(n int) error {
	if n < 1 {
		return fmt.Errorf("max procs must be at least 1, got %d", n)
	}
	runtime.GOMAXPROCS(n)
	return nil
}

// MemoryManagement is the surface Memory exposes.
type MemoryManagement interface {
	GetHeapAlloc() uint64
	GetHeapObjects() uint64
	GetSys() uint64
	GetNumGC() uint32
	GC()
	FreeOSMemory()
}

// Memory exposes heap statistics and collector controls.
type Memory struct{}

var _ MemoryManagement = (*Memory)(nil)

// Stats reads the current memory statistics. It is not part of the managed
// surface.
func (*Memory) Stats() runtime.MemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms
}

func (m *Memory) GetHeapAlloc() uint64   { return m.Stats().HeapAlloc }
func (m *Memory) GetHeapObjects() uint64 { return m.Stats().HeapObjects }
func (m *Memory) GetSys() uint64         { return m.Stats().Sys }
func (m *Memory) GetNumGC() uint32       { return m.Stats().NumGC }
func (*Memory) GC()                      { runtime.GC() }
func (*Memory) FreeOSMemory()            { debug.FreeOSMemory() }

func (*Memory) ManagementInterface() reflect.Type {
	return reflect.TypeOf((*MemoryManagement)(nil)).Elem()
}
