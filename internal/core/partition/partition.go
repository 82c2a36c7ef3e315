package partition

import (
	"encoding/binary"
	"hash/fnv"
)

// Count is the fixed number of logical partitions for event-owned state.
// Fixed at deployment; changing it reshuffles every partition.
const Count = 256

// For returns the partition ID for a given user or event ID.
// Stable and deterministic: same id always maps to the same partition.
// Uses FNV-32a (stdlib, fast, well-distributed).
func For(id int64) int {
	return Of(id, Count)
}

// Of maps id onto [0, n). Used to spread users over a configurable number of workers.
func Of(id int64, n int) int {
	if n <= 1 {
		return 0
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	h := fnv.New32a()
	h.Write(buf[:])
	return int(h.Sum32() % uint32(n))
}
