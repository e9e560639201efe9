package generator

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"github.com/mpruesga/galen/internal/models"
)

// ErrPoolClosed is returned by Next once the prefetch pool has shut down
// and its buffer is drained.
var ErrPoolClosed = errors.New("prefetch pool is closed")

// splitmix increment used to derive independent worker seeds from the
// generator seed.
const seedStride = 0x9E3779B97F4A7C15

// Prefetcher produces batches ahead of consumption on a pool of worker
// goroutines. Each worker owns an independent random stream, so batches
// stay internally deterministic per worker while the pool as a whole
// overlaps synthesis with training.
type Prefetcher struct {
	batches chan *models.Batch
	errs    chan error
	done    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
}

// Prefetch starts workers goroutines filling a buffer of depth batches.
// The receiver generator is left untouched; every worker runs on its own
// clone seeded from the generator seed and the worker index.
func (g *Generator) Prefetch(workers, depth int) (*Prefetcher, error) {
	if workers < 1 {
		return nil, models.NewConfigurationError("prefetch_workers", "must be at least 1, got %d", workers)
	}
	if depth < 1 {
		depth = workers
	}
	p := &Prefetcher{
		batches: make(chan *models.Batch, depth),
		errs:    make(chan error, workers),
		done:    make(chan struct{}),
	}
	for w := 0; w < workers; w++ {
		clone := g.withSeed(g.opts.Seed + uint64(w+1)*seedStride)
		p.wg.Add(1)
		go p.run(clone)
	}
	logrus.WithFields(logrus.Fields{
		"workers": workers,
		"depth":   depth,
	}).Debug("prefetch pool started")
	return p, nil
}

// withSeed returns a generator sharing all frozen configuration but
// running its own random stream.
func (g *Generator) withSeed(seed uint64) *Generator {
	clone := *g
	clone.rng = rand.New(rand.NewSource(seed))
	return &clone
}

func (p *Prefetcher) run(g *Generator) {
	defer p.wg.Done()
	for {
		batch, err := g.Next()
		if err != nil {
			select {
			case p.errs <- err:
			case <-p.done:
			}
			return
		}
		select {
		case p.batches <- batch:
		case <-p.done:
			return
		}
	}
}

// Next returns the next prefetched batch, blocking until one is ready.
// A worker failure is returned once and terminates the pool; a closed
// pool reports ErrPoolClosed.
func (p *Prefetcher) Next() (*models.Batch, error) {
	select {
	case batch, ok := <-p.batches:
		if !ok {
			return nil, ErrPoolClosed
		}
		return batch, nil
	case err := <-p.errs:
		p.Close()
		return nil, err
	}
}

// Close stops the workers and waits for them to exit. Buffered batches
// are discarded. Close is idempotent.
func (p *Prefetcher) Close() {
	p.closed.Do(func() {
		close(p.done)
		go func() {
			// Drain so workers blocked on a full buffer can observe done.
			for range p.batches {
			}
		}()
		p.wg.Wait()
		close(p.batches)
	})
}
