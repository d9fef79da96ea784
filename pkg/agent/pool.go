package agent

import (
	"runtime"
	"sync"
)

// workerPool bounds how many async command handlers run at once: a fixed set
// of worker goroutines draining a task channel. Shutdown releases the
// workers without waiting for in-flight handlers.
type workerPool struct {
	tasks    chan func()
	stop     chan struct{}
	stopOnce sync.Once
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	p := &workerPool{
		tasks: make(chan func(), 64),
		stop:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func defaultPoolSize() int {
	size := runtime.NumCPU()
	if size > 8 {
		size = 8
	}
	if size < 1 {
		size = 1
	}
	return size
}

func (p *workerPool) worker() {
	for {
		select {
		case <-p.stop:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// submit enqueues a task without ever blocking the caller; a full queue
// spills into a goroutine that waits for room.
func (p *workerPool) submit(task func()) {
	select {
	case p.tasks <- task:
	case <-p.stop:
	default:
		go func() {
			select {
			case p.tasks <- task:
			case <-p.stop:
			}
		}()
	}
}

func (p *workerPool) shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
}
