package orchestration

// actuator runs speech controller calls in order on its own goroutine, so an
// engine blocked on its device or network never stalls the turn loop.
type actuator struct {
	actions *queue[func()]
	done    chan struct{}
}

func newActuator() *actuator {
	return &actuator{
		actions: newQueue[func()](),
		done:    make(chan struct{}),
	}
}

func (a *actuator) run() {
	defer close(a.done)
	for action := range a.actions.All {
		action()
	}
}

func (a *actuator) Do(action func()) {
	a.actions.Push(action)
}

// Close drops queued actions. When wait is set it also waits for the running
// action to return.
func (a *actuator) Close(wait bool) {
	a.actions.Close()
	if wait {
		<-a.done
	}
}
