package work

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Daskott/sentinel/server/models"
)

type workerPool struct {
	mu          sync.Mutex
	handlers    map[string]Handler
	workers     []*worker
	concurrency int
	started     bool
}

func newWorkerPool(concurrency int) *workerPool {
	wp := workerPool{handlers: make(map[string]Handler), concurrency: concurrency}

	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, newWorker(fmt.Sprint(i+1), []int64{0, 1, 5, 10}))
	}

	return &wp
}

// registerHandler binds a name to a job handler for all workers in pool
func (wp *workerPool) registerHandler(name string, handler Handler) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if _, ok := wp.handlers[name]; ok {
		return ErrDuplicateHandler
	}

	if wp.started {
		return fmt.Errorf("can't register handler %v after the pool has started", name)
	}

	wp.handlers[name] = handler
	for _, worker := range wp.workers {
		err := worker.registerHandler(name, handler)
		if err != nil {
			return err
		}
	}
	return nil
}

// enqueue adds a job to the queue(to be executed) by creating a DB record based on 'JobParams' provided
func (wp *workerPool) enqueue(job JobParams) error {
	if strings.TrimSpace(job.Name) == "" || strings.TrimSpace(job.Handler) == "" {
		return fmt.Errorf("both a name & handler is required for a job")
	}

	if job.Args == nil {
		job.Args = map[string]interface{}{}
	}

	argsAsJson, err := json.Marshal(job.Args)
	if err != nil {
		return err
	}

	if job.AllowWhileRunning {
		return models.CreateJobUnlessEnqueued(job.Name, job.Handler, string(argsAsJson))
	}

	return models.CreateUniqueJobByName(job.Name, job.Handler, string(argsAsJson))
}

// start starts all workers in pool i.e the workers can start processing jobs
func (wp *workerPool) start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true

	for _, worker := range wp.workers {
		worker.start()
	}
}

// stop stops all workers in pool i.e jobs will stop being processed
func (wp *workerPool) stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return
	}

	wg := sync.WaitGroup{}
	for _, w := range wp.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()
	wp.started = false
}
