package service

// TriggeredService waits for an external trigger before completing
// startup. Like InternalService it has no external process; the
// trigger typically arrives over the control socket.
type TriggeredService struct {
	ServiceRecord
	isTriggered bool
}

// NewTriggeredService creates a new triggered service.
func NewTriggeredService(set *ServiceSet, name string) *TriggeredService {
	svc := &TriggeredService{}
	svc.ServiceRecord = *NewServiceRecord(svc, set, name, TypeTriggered)
	return svc
}

// BringUp completes startup immediately if already triggered,
// otherwise the service stays STARTING until the trigger arrives.
func (s *TriggeredService) BringUp() bool {
	if s.isTriggered {
		s.Started()
	}
	return true
}

// SetTrigger sets or clears the trigger. Setting it while STARTING
// with dependencies satisfied completes the startup.
func (s *TriggeredService) SetTrigger(triggered bool) {
	s.isTriggered = triggered
	if s.isTriggered && s.State() == StateStarting && !s.waitingForDeps {
		s.Started()
	}
}

// IsTriggered returns the current trigger state.
func (s *TriggeredService) IsTriggered() bool {
	return s.isTriggered
}
