package partition

import (
	"fmt"
	"hash/crc32"
	"strconv"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash"
)

// Partitioner assigns every key to one of a fixed number of persistence
// lanes. The same key must always land on the same lane.
type Partitioner interface {
	// Find the lane for key
	Lane(key string) int
	Lanes() int
}

const (
	KindModulo = "modulo"
	KindRing   = "ring"
)

// New builds the partitioner named by kind.
func New(kind string, lanes int) (Partitioner, error) {
	if lanes < 1 {
		return nil, fmt.Errorf("lanes must be positive, got %d", lanes)
	}
	switch kind {
	case KindModulo, "":
		return NewModulo(lanes), nil
	case KindRing:
		return NewRing(lanes, 71, 20), nil
	default:
		return nil, fmt.Errorf("unknown partitioner %q", kind)
	}
}

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

type member string

func (m member) String() string {
	return string(m)
}

// Ring spreads keys over lanes with a bounded-load consistent hash ring.
// Membership is fixed at construction, so lookups need no locking.
type Ring struct {
	lanes      int
	ring       *consistent.Consistent // The consistent hash ring from the library
	nameToLane map[string]int
}

func NewRing(lanes, partitionCount, replicationFactor int) *Ring {
	cfg := consistent.Config{
		PartitionCount:    partitionCount,    // Higher = better distribution
		ReplicationFactor: replicationFactor, // How many places each member appears
		Load:              1.25,              // Load balancing factor
		Hasher:            hasher{},          // Use xxhash for hashing
	}

	r := &Ring{
		lanes:      lanes,
		ring:       consistent.New(nil, cfg),
		nameToLane: make(map[string]int, lanes),
	}

	for lane := 0; lane < lanes; lane++ {
		name := "lane-" + strconv.Itoa(lane)
		r.nameToLane[name] = lane
		r.ring.Add(member(name))
	}

	return r
}

func (r *Ring) Lane(key string) int {
	m := r.ring.LocateKey([]byte(key))
	if m == nil {
		return 0
	}
	return r.nameToLane[m.String()]
}

func (r *Ring) Lanes() int {
	return r.lanes
}

// LoadDistribution returns how many ring partitions each lane owns (useful for debugging/stats)
func (r *Ring) LoadDistribution() map[int]float64 {
	stats := make(map[int]float64, r.lanes)
	for name, load := range r.ring.LoadDistribution() {
		stats[r.nameToLane[name]] = load
	}
	return stats
}

// Modulo hashes the key with crc32 and takes it modulo the lane count.
type Modulo struct {
	lanes uint32
}

func NewModulo(lanes int) *Modulo {
	return &Modulo{lanes: uint32(lanes)}
}

func (m *Modulo) Lane(key string) int {
	hash := crc32.ChecksumIEEE([]byte(key))
	return int(hash % m.lanes)
}

func (m *Modulo) Lanes() int {
	return int(m.lanes)
}
