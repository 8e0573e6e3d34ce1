package training

import (
	"context"
	"fmt"
	"sync"
)

// PrefetchLabeledLoader decouples batch preparation from the training loop:
// a background fetcher keeps up to depth batches buffered so the loop's
// batch-fetch wait shrinks to a channel receive. It implements
// LabeledProducer and can wrap any other producer.
type PrefetchLabeledLoader struct {
	source LabeledProducer
	depth  int

	batches chan *LabeledBatch
	errs    chan error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mutex   sync.Mutex
}

// NewPrefetchLabeledLoader wraps a producer with a prefetch buffer of the
// given depth.
func NewPrefetchLabeledLoader(source LabeledProducer, depth int) (*PrefetchLabeledLoader, error) {
	if source == nil {
		return nil, fmt.Errorf("no source producer provided")
	}
	if depth <= 0 {
		return nil, fmt.Errorf("prefetch depth must be positive: %d", depth)
	}
	return &PrefetchLabeledLoader{source: source, depth: depth}, nil
}

// Start launches the background fetcher
func (l *PrefetchLabeledLoader) Start() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.running {
		return fmt.Errorf("prefetch loader already running")
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.batches = make(chan *LabeledBatch, l.depth)
	l.errs = make(chan error, 1)
	l.running = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			batch, err := l.source.Next()
			if err != nil {
				select {
				case l.errs <- err:
				case <-l.ctx.Done():
				}
				return
			}
			if batch == nil {
				// Finite source drained
				close(l.batches)
				return
			}

			select {
			case l.batches <- batch:
			case <-l.ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Next returns the next buffered batch, blocking until one is ready. After
// a finite source drains it returns (nil, nil); after Stop it returns the
// cancellation error.
func (l *PrefetchLabeledLoader) Next() (*LabeledBatch, error) {
	l.mutex.Lock()
	running := l.running
	l.mutex.Unlock()
	if !running {
		return nil, fmt.Errorf("prefetch loader not started")
	}

	select {
	case batch, ok := <-l.batches:
		if !ok {
			return nil, nil
		}
		return batch, nil
	case err := <-l.errs:
		return nil, err
	case <-l.ctx.Done():
		return nil, l.ctx.Err()
	}
}

// Stop cancels the fetcher and waits for it to exit. Buffered batches are
// discarded.
func (l *PrefetchLabeledLoader) Stop() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.running {
		return
	}
	l.cancel()
	l.wg.Wait()
	l.running = false
}

// PrefetchUnlabeledLoader is the two-view counterpart of
// PrefetchLabeledLoader. It implements UnlabeledProducer.
type PrefetchUnlabeledLoader struct {
	source UnlabeledProducer
	depth  int

	batches chan *UnlabeledBatch
	errs    chan error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mutex   sync.Mutex
}

// NewPrefetchUnlabeledLoader wraps a two-view producer with a prefetch
// buffer of the given depth.
func NewPrefetchUnlabeledLoader(source UnlabeledProducer, depth int) (*PrefetchUnlabeledLoader, error) {
	if source == nil {
		return nil, fmt.Errorf("no source producer provided")
	}
	if depth <= 0 {
		return nil, fmt.Errorf("prefetch depth must be positive: %d", depth)
	}
	return &PrefetchUnlabeledLoader{source: source, depth: depth}, nil
}

// Start launches the background fetcher
func (l *PrefetchUnlabeledLoader) Start() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.running {
		return fmt.Errorf("prefetch loader already running")
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.batches = make(chan *UnlabeledBatch, l.depth)
	l.errs = make(chan error, 1)
	l.running = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			batch, err := l.source.Next()
			if err != nil {
				select {
				case l.errs <- err:
				case <-l.ctx.Done():
				}
				return
			}
			if batch == nil {
				close(l.batches)
				return
			}

			select {
			case l.batches <- batch:
			case <-l.ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Next returns the next buffered two-view batch, blocking until one is
// ready.
func (l *PrefetchUnlabeledLoader) Next() (*UnlabeledBatch, error) {
	l.mutex.Lock()
	running := l.running
	l.mutex.Unlock()
	if !running {
		return nil, fmt.Errorf("prefetch loader not started")
	}

	select {
	case batch, ok := <-l.batches:
		if !ok {
			return nil, nil
		}
		return batch, nil
	case err := <-l.errs:
		return nil, err
	case <-l.ctx.Done():
		return nil, l.ctx.Err()
	}
}

// Stop cancels the fetcher and waits for it to exit
func (l *PrefetchUnlabeledLoader) Stop() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.running {
		return
	}
	l.cancel()
	l.wg.Wait()
	l.running = false
}
