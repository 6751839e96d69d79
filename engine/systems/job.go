package systems

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rt/engine/containers"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")

/**
 * @brief A pool of workers consuming jobs in submission order. With a single
 * worker, jobs also complete in submission order. A job failing with an
 * assertion stops the pool: the jobs still queued, and every later
 * submission, fail with core.ErrWorkerStopped.
 */
type JobSystem struct {
	name       string
	numWorkers int
	jobQueue   *containers.UnboundedQueue[metadata.JobTask]
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

func NewJobSystem(name string, numWorkers int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	js := &JobSystem{
		name:       name,
		numWorkers: numWorkers,
		jobQueue:   containers.NewUnboundedQueue[metadata.JobTask](),
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for {
				job, ok := js.jobQueue.Pop()
				if !ok {
					return
				}
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job metadata.JobTask) {
	if js.stopped.Load() {
		if job.OnFailure != nil {
			job.OnFailure(core.ErrWorkerStopped)
		}
		return
	}
	err := job.OnStart()
	if err == nil {
		if job.OnComplete != nil {
			job.OnComplete()
		}
		return
	}
	if core.IsFatal(err) {
		if js.stopped.CompareAndSwap(false, true) {
			core.LogError("job system %s stopped: job %s failed: %+v", js.name, job.Name, err)
		}
	} else {
		core.LogError("job %s failed: %s", job.Name, err.Error())
	}
	if job.OnFailure != nil {
		job.OnFailure(err)
	}
}

// Stopped reports whether a fatal failure stopped the workers.
func (js *JobSystem) Stopped() bool {
	return js.stopped.Load()
}

/**
 * @brief Submits the provided job to be queued for execution. Never blocks.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt metadata.JobTask) error {
	if jt.OnStart == nil {
		return core.Assertf("job %s without OnStart", jt.Name)
	}
	if js.stopped.Load() {
		return core.Wrapf(core.ErrWorkerStopped, "job system %s", js.name)
	}
	if err := js.jobQueue.Push(jt); err != nil {
		return core.Wrapf(core.ErrWorkerStopped, "job system %s: %v", js.name, err)
	}
	return nil
}

// Pending is the number of jobs waiting for a worker.
func (js *JobSystem) Pending() int {
	return js.jobQueue.Len()
}

/**
 * @brief Shuts the job system down. Jobs already queued still run.
 */
func (js *JobSystem) Shutdown() error {
	js.jobQueue.Close()
	js.wg.Wait()
	return nil
}
