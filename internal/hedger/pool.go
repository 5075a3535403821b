package hedger

import "sync"

// workerPool runs hedge submissions on a fixed set of long-lived workers.
// The task channel is unbuffered, so submit blocks while every worker is
// busy and the number of submissions in flight never exceeds the pool size.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func newWorkerPool(size int) *workerPool {
	p := &workerPool{tasks: make(chan func())}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	for fn := range p.tasks {
		fn()
		p.wg.Done()
	}
}

// submit hands fn to the next free worker, blocking while all are busy.
func (p *workerPool) submit(fn func()) {
	p.wg.Add(1)
	p.tasks <- fn
}

// wait blocks until all submitted work has returned.
func (p *workerPool) wait() {
	p.wg.Wait()
}

// close releases the workers. No submits may follow.
func (p *workerPool) close() {
	p.once.Do(func() { close(p.tasks) })
}

// hedgeTask is one hedge submission awaiting reconciliation. symbol is the
// maker symbol the exposure came from; orderID is set when the submission
// returns and stays empty if the venue took nothing.
type hedgeTask struct {
	symbol  string
	done    chan struct{}
	orderID string
}

func newHedgeTask(symbol string) *hedgeTask {
	return &hedgeTask{symbol: symbol, done: make(chan struct{})}
}

// finish publishes the submission outcome. Must be called exactly once.
func (t *hedgeTask) finish(orderID string) {
	t.orderID = orderID
	close(t.done)
}

// finished reports whether the submission has returned.
func (t *hedgeTask) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
