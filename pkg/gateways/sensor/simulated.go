package sensor

import (
	"context"
	"math/rand"
	"sync"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
)

// Simulated returns configured values with a little jitter. A channel with no
// configured value behaves like an absent sensor and blocks until ctx ends.
type Simulated struct {
	mu     sync.Mutex
	values map[entities.Channel]float64
	jitter float64
	rng    *rand.Rand
}

// NewSimulated parses the channel names of values. Unknown names are skipped;
// the configuration validator rejects them earlier.
func NewSimulated(values map[string]float64, jitter float64, seed int64) *Simulated {
	parsed := make(map[entities.Channel]float64, len(values))
	for name, v := range values {
		if c, err := entities.ParseChannel(name); err == nil {
			parsed[c] = v
		}
	}
	return &Simulated{values: parsed, jitter: jitter, rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulated) Read(ctx context.Context, channel entities.Channel) (float64, error) {
	s.mu.Lock()
	v, ok := s.values[channel]
	noise := 0.0
	if ok && s.jitter > 0 {
		noise = (s.rng.Float64()*2 - 1) * s.jitter
	}
	s.mu.Unlock()

	if !ok {
		<-ctx.Done()
		return 0, ErrTimeout
	}
	return v + noise, nil
}
