package train

import (
	"fmt"
	"math/rand"
	"sync"

	"plumetrack/internal/policy"
)

// ReplayBuffer holds a bounded window of recent transitions. When full,
// the oldest transition is evicted first. Safe for concurrent Add.
type ReplayBuffer struct {
	mu       sync.Mutex
	capacity int
	samples  []policy.Sample
	next     int
	full     bool
}

func NewReplayBuffer(capacity int) (*ReplayBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("replay capacity must be > 0, got %d", capacity)
	}
	return &ReplayBuffer{
		capacity: capacity,
		samples:  make([]policy.Sample, 0, capacity),
	}, nil
}

func (b *ReplayBuffer) Add(samples ...policy.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range samples {
		if len(b.samples) < b.capacity {
			b.samples = append(b.samples, s)
			continue
		}
		b.samples[b.next] = s
		b.next = (b.next + 1) % b.capacity
		b.full = true
	}
}

func (b *ReplayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *ReplayBuffer) Capacity() int { return b.capacity }

// Sample draws n transitions uniformly with replacement.
func (b *ReplayBuffer) Sample(rng *rand.Rand, n int) ([]policy.Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return nil, fmt.Errorf("replay buffer is empty")
	}
	out := make([]policy.Sample, n)
	for i := range out {
		out[i] = b.samples[rng.Intn(len(b.samples))]
	}
	return out, nil
}
