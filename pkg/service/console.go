package service

// consoleArbiter grants exclusive ownership of the controlling
// terminal to at most one service at a time. Acquisition is
// non-blocking: the slot is granted synchronously when free, otherwise
// the service joins a FIFO queue and is granted the slot when the
// current holder releases it.
type consoleArbiter struct {
	holder Service
	queue  []Service
}

// acquire grants the console to svc if the slot is free, else enqueues
// it. The caller has already set the service's waiting flag.
func (ca *consoleArbiter) acquire(svc Service) {
	if ca.holder == nil {
		ca.holder = svc
		svc.Record().AcquiredConsole()
		return
	}
	ca.queue = append(ca.queue, svc)
}

// release returns the slot and hands it to the queue head, which may
// immediately hand it back if no longer needed.
func (ca *consoleArbiter) release(svc Service) {
	if ca.holder == svc {
		ca.holder = nil
	}
	if ca.holder != nil || len(ca.queue) == 0 {
		return
	}
	next := ca.queue[0]
	ca.queue = ca.queue[1:]
	ca.holder = next
	next.Record().AcquiredConsole()
}

// unqueue removes a waiter that no longer wants the console.
func (ca *consoleArbiter) unqueue(svc Service) {
	for i, s := range ca.queue {
		if s == svc {
			ca.queue = append(ca.queue[:i], ca.queue[i+1:]...)
			return
		}
	}
}

func (ca *consoleArbiter) queued(svc Service) bool {
	for _, s := range ca.queue {
		if s == svc {
			return true
		}
	}
	return false
}
