package service

// InternalService has no external process. It starts as soon as its
// dependencies have started and stops as soon as its dependents have
// stopped; the record's default capabilities provide exactly that.
type InternalService struct {
	ServiceRecord
}

// NewInternalService creates a new internal service.
func NewInternalService(set *ServiceSet, name string) *InternalService {
	svc := &InternalService{}
	svc.ServiceRecord = *NewServiceRecord(svc, set, name, TypeInternal)
	return svc
}
