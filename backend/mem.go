// Package backend provides the byte-addressable backing stores disk
// driver units read and write sectors against.
package backend

import (
	"fmt"
	"sync"
)

// ShardSize is the size of each memory shard (64KB). Sharded locking keeps
// concurrent disk units (and, within a unit, reads racing the driver's own
// writes) from serializing on a single mutex while staying simple to
// reason about.
const ShardSize = 64 * 1024

// Memory is a RAM-based disk medium (interfaces.DiskMedium). It uses
// sharded locking so multiple disk units can be backed by independent
// Memory instances without any cross-unit contention.
type Memory struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemory creates a new memory-backed medium of the given size in bytes.
func NewMemory(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

// shardRange returns the range of shards that cover [off, off+len).
func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt implements interfaces.DiskMedium.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}

	n := copy(p, m.data[off:off+int64(len(p))])

	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}

	return n, nil
}

// WriteAt implements interfaces.DiskMedium.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, fmt.Errorf("backend: write beyond end of medium")
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	n := copy(m.data[off:off+int64(len(p))], p)

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	return n, nil
}

// Size implements interfaces.DiskMedium.
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements interfaces.DiskMedium.
func (m *Memory) Close() error {
	m.data = nil
	return nil
}
