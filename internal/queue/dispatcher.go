package queue

import (
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher runs submitted tasks one at a time, in submission order, on a
// dedicated goroutine.
type Dispatcher struct {
	tasks  *Queue[func()]
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// NewDispatcher starts a dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		tasks:  New[func()](64),
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Run schedules task. Tasks submitted after Stop are dropped.
func (d *Dispatcher) Run(task func()) {
	if !d.tasks.Push(task) {
		d.logger.Debug("dispatcher stopped, dropping task")
	}
}

// Stop lets queued tasks finish and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.once.Do(d.tasks.Close)
	<-d.done
}

// Pending returns the number of queued tasks.
func (d *Dispatcher) Pending() int {
	return d.tasks.Len()
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		task, ok := d.tasks.Pop()
		if !ok {
			return
		}
		d.safeRun(task)
	}
}

// safeRun keeps a panicking listener from killing the worker.
func (d *Dispatcher) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panic", "panic", fmt.Sprint(r))
		}
	}()
	task()
}
