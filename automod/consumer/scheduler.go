package consumer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ro-community/robot/automod/event"

	"github.com/prometheus/client_golang/prometheus"
)

// Runs message handling on a fixed number of workers. Work is keyed (by author): items with the same key are handled one at a time, in the order added, while different keys run concurrently.
type Scheduler struct {
	maxConcurrency int

	do func(context.Context, *event.MessageEvent) error

	feeder chan *consumerTask
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*consumerTask

	ident string

	// metrics
	itemsAdded     prometheus.Counter
	itemsProcessed prometheus.Counter
	itemsActive    prometheus.Counter
	workersActive  prometheus.Gauge

	log *slog.Logger
}

func NewScheduler(maxC int, ident string, do func(context.Context, *event.MessageEvent) error) *Scheduler {
	if maxC <= 0 {
		maxC = 1
	}
	p := &Scheduler{
		maxConcurrency: maxC,

		do: do,

		feeder: make(chan *consumerTask),
		active: make(map[string][]*consumerTask),
		out:    make(chan struct{}),

		ident: ident,

		itemsAdded:     workItemsAdded.WithLabelValues(ident),
		itemsProcessed: workItemsProcessed.WithLabelValues(ident),
		itemsActive:    workItemsActive.WithLabelValues(ident),
		workersActive:  workersActive.WithLabelValues(ident),

		log: slog.Default().With("system", "parallel-scheduler"),
	}

	for i := 0; i < maxC; i++ {
		go p.worker()
	}

	p.workersActive.Set(float64(maxC))

	return p
}

// Waits for all added work to complete, then stops the workers.
func (p *Scheduler) Shutdown() {
	p.log.Info("shutting down parallel scheduler", "ident", p.ident)

	// each worker finishes its current key before it reads a stop marker
	for i := 0; i < p.maxConcurrency; i++ {
		p.feeder <- &consumerTask{stop: true}
	}
	close(p.feeder)

	for i := 0; i < p.maxConcurrency; i++ {
		<-p.out
	}

	p.workersActive.Set(0)
	p.log.Info("parallel scheduler shutdown complete")
}

type consumerTask struct {
	key  string
	val  *event.MessageEvent
	stop bool
}

// Queues work for the key. If ctx ends before a worker accepts it, this item is dropped and ctx.Err() returned; work queued behind it for the same key still runs.
func (p *Scheduler) AddWork(ctx context.Context, key string, val *event.MessageEvent) error {
	p.itemsAdded.Inc()
	t := &consumerTask{key: key, val: val}
	if !p.claim(t) {
		return nil
	}

	select {
	case p.feeder <- t:
		return nil
	case <-ctx.Done():
	}

	// this call owned the key but never reached a worker: pass ownership on to the oldest task queued behind it
	if next := p.release(key); next != nil {
		p.feeder <- next
	}
	return ctx.Err()
}

// Reports whether the caller now owns the task's key. Otherwise the task was queued behind the current owner.
func (p *Scheduler) claim(t *consumerTask) bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	if q, ok := p.active[t.key]; ok {
		p.active[t.key] = append(q, t)
		return false
	}
	p.active[t.key] = nil
	return true
}

// Pops the next queued task for the key, or drops the key when nothing is queued. The caller must own the key.
func (p *Scheduler) release(key string) *consumerTask {
	p.lk.Lock()
	defer p.lk.Unlock()
	rem, ok := p.active[key]
	if !ok {
		p.log.Error("released a key with no 'active' entry", "key", key)
	}
	if len(rem) == 0 {
		delete(p.active, key)
		return nil
	}
	p.active[key] = rem[1:]
	return rem[0]
}

func (p *Scheduler) worker() {
	for work := range p.feeder {
		if work.stop {
			p.out <- struct{}{}
			return
		}
		// drain everything queued behind this key before taking new work
		for work != nil {
			p.itemsActive.Inc()
			if err := p.do(context.Background(), work.val); err != nil {
				p.log.Error("message handler failed", "key", work.key, "err", err)
			}
			p.itemsProcessed.Inc()
			work = p.release(work.key)
		}
	}
}
