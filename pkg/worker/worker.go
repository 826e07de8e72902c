package worker

import (
	"sync/atomic"

	"github.com/hbomb79/Lyre/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type (
	WorkerWakeupChan chan int
	WorkerStatus     int32

	// WorkerTaskMeta is the work a worker performs. Execute is expected to
	// loop, calling Sleep on the worker whenever there is nothing to do, and
	// return once Sleep reports that the worker is no longer alive.
	WorkerTaskMeta interface {
		Execute(Worker) error
	}

	Worker interface {
		Start()
		Status() WorkerStatus
		WakeupChan() WorkerWakeupChan
		Label() string
		Sleep() bool
		Close()
	}

	taskWorker struct {
		label         string
		task          WorkerTaskMeta
		wakeupChan    WorkerWakeupChan
		currentStatus atomic.Int32
	}
)

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

func (s WorkerStatus) String() string {
	switch s {
	case Sleeping:
		return "SLEEPING"
	case Working:
		return "WORKING"
	case Finished:
		return "FINISHED"
	}

	return "UNKNOWN"
}

func NewWorker(label string, task WorkerTaskMeta) *taskWorker {
	return &taskWorker{
		label:      label,
		task:       task,
		wakeupChan: make(WorkerWakeupChan, 1),
	}
}

func (worker *taskWorker) Start() {
	workerLogger.Emit(logger.NEW, "Starting worker %s\n", worker.label)
	worker.setStatus(Working)
	if err := worker.task.Execute(worker); err != nil {
		workerLogger.Emit(logger.ERROR, "Worker %s has reported an error(%T): %v\n", worker.label, err, err.Error())
	}

	worker.setStatus(Finished)
	workerLogger.Emit(logger.STOP, "Worker %s has stopped\n", worker.label)
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

// Close closes the Worker by closing the WakeChan.
// Note that this does not interupt currently running
// goroutines.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}

// Sleep puts a worker to sleep until it's wakeupChan is
// signalled from another goroutine. Returns a boolean that
// is 'false' if the wakeup channel was closed - indicating
// the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.setStatus(Sleeping)

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.setStatus(Working)
	} else {
		workerLogger.Emit(logger.STOP, "Wakeup channel for worker '%v' has been closed - worker is exiting\n", worker.label)
		worker.setStatus(Finished)
	}

	return isAlive
}

func (worker *taskWorker) setStatus(status WorkerStatus) {
	worker.currentStatus.Store(int32(status))
}
