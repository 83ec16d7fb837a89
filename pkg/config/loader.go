package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cinderlinux/cinder/internal/util"
	"github.com/cinderlinux/cinder/pkg/service"
)

// DirLoader loads service descriptions from one or more directories.
// It implements service.ServiceLoader.
type DirLoader struct {
	dirs    []string
	set     *service.ServiceSet
	loading map[string]bool // cycle detection
}

// NewDirLoader creates a directory-based service loader.
func NewDirLoader(set *service.ServiceSet, dirs []string) *DirLoader {
	return &DirLoader{
		dirs:    dirs,
		set:     set,
		loading: make(map[string]bool),
	}
}

// ServiceDirs returns the configured service directories.
func (dl *DirLoader) ServiceDirs() []string {
	return dl.dirs
}

// LoadService loads a service and its dependencies by name.
func (dl *DirLoader) LoadService(name string) (service.Service, error) {
	// A service still being loaded is already registered in the set;
	// reaching it again means its dependencies lead back to it.
	if dl.loading[name] {
		return nil, &ServiceLoadError{ServiceName: name, Message: "circular dependency detected"}
	}
	if svc := dl.set.FindService(name); svc != nil {
		return svc, nil
	}
	return dl.loadServiceImpl(name)
}

func (dl *DirLoader) loadServiceImpl(name string) (service.Service, error) {
	if dl.loading[name] {
		return nil, &ServiceLoadError{ServiceName: name, Message: "circular dependency detected"}
	}
	dl.loading[name] = true
	defer delete(dl.loading, name)

	desc, filePath, err := dl.findAndParse(name)
	if err != nil {
		return nil, err
	}

	svc, err := dl.createService(name, desc)
	if err != nil {
		return nil, err
	}

	// Registered before dependencies load; a dependency leading back
	// here is caught by the loading check in LoadService.
	dl.set.AddService(svc)

	if err := dl.loadDependencies(svc, desc, filePath); err != nil {
		dl.set.RemoveService(svc)
		return nil, err
	}

	applyToRecord(svc, desc)

	return svc, nil
}

func (dl *DirLoader) findAndParse(name string) (*ServiceDescription, string, error) {
	for _, dir := range dl.dirs {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", &ServiceLoadError{
				ServiceName: name,
				Message:     fmt.Sprintf("error reading %s: %v", path, err),
			}
		}

		desc, perr := Parse(f, name, path)
		f.Close()
		if perr != nil {
			return nil, "", perr
		}
		return desc, path, nil
	}

	return nil, "", &ServiceLoadError{ServiceName: name, Message: "service description not found"}
}

func (dl *DirLoader) createService(name string, desc *ServiceDescription) (service.Service, error) {
	switch desc.Type {
	case service.TypeInternal:
		return service.NewInternalService(dl.set, name), nil

	case service.TypeTriggered:
		return service.NewTriggeredService(dl.set, name), nil

	case service.TypeProcess:
		svc := service.NewProcessService(dl.set, name, desc.Command)
		svc.SetReadyNotification(desc.ReadyNotification)
		if err := applyProcessSettings(svc, desc); err != nil {
			return nil, &ServiceLoadError{ServiceName: name, Message: err.Error()}
		}
		return svc, nil

	case service.TypeBGProcess:
		svc := service.NewBGProcessService(dl.set, name, desc.Command)
		svc.SetPIDFile(desc.PIDFile)
		if err := applyProcessSettings(svc, desc); err != nil {
			return nil, &ServiceLoadError{ServiceName: name, Message: err.Error()}
		}
		return svc, nil

	case service.TypeScripted:
		svc := service.NewScriptedService(dl.set, name, desc.Command)
		svc.SetStopCommand(desc.StopCommand)
		if err := applyProcessSettings(svc, desc); err != nil {
			return nil, &ServiceLoadError{ServiceName: name, Message: err.Error()}
		}
		return svc, nil

	default:
		return nil, &ServiceLoadError{ServiceName: name, Message: "unsupported service type"}
	}
}

// processSettings is the shared configuration surface of the
// process-backed service types.
type processSettings interface {
	SetWorkingDir(string)
	SetEnv([]string)
	SetStartTimeout(time.Duration)
	SetStopTimeout(time.Duration)
	SetRestartDelay(time.Duration)
	SetRestartLimits(time.Duration, int)
	SetLogType(service.LogType)
	SetLogFile(string)
	SetLogBufMax(int)
	SetRunAs(uint32, uint32)
}

// applyProcessSettings applies the shared process-backed settings.
func applyProcessSettings(b processSettings, desc *ServiceDescription) error {
	b.SetWorkingDir(desc.WorkingDir)
	b.SetEnv(desc.Env)
	if desc.StartTimeout > 0 {
		b.SetStartTimeout(desc.StartTimeout)
	}
	if desc.StopTimeout > 0 {
		b.SetStopTimeout(desc.StopTimeout)
	}
	if desc.RestartDelay > 0 {
		b.SetRestartDelay(desc.RestartDelay)
	}
	if desc.RestartInterval > 0 || desc.RestartLimitCount > 0 {
		b.SetRestartLimits(desc.RestartInterval, desc.RestartLimitCount)
	}
	b.SetLogType(desc.LogType)
	b.SetLogFile(desc.LogFile)
	b.SetLogBufMax(desc.LogBufMax)
	if desc.RunAs != "" {
		uid, gid, err := ParseRunAs(desc.RunAs)
		if err != nil {
			return err
		}
		b.SetRunAs(uid, gid)
	}
	return nil
}

func (dl *DirLoader) loadDependencies(svc service.Service, desc *ServiceDescription, filePath string) error {
	depSpecs := []struct {
		names   []string
		depType service.DependencyType
	}{
		{desc.DependsOn, service.DepRegular},
		{desc.DependsMS, service.DepMilestone},
		{desc.WaitsFor, service.DepWaitsFor},
		{desc.Before, service.DepBefore},
		{desc.After, service.DepAfter},
	}

	for _, spec := range depSpecs {
		for _, depName := range spec.names {
			depSvc, err := dl.LoadService(depName)
			if err != nil {
				return fmt.Errorf("loading dependency '%s' for service '%s': %w",
					depName, svc.Name(), err)
			}
			svc.Record().AddDep(depSvc, spec.depType)
		}
	}

	dirDepSpecs := []struct {
		dirs    []string
		depType service.DependencyType
	}{
		{desc.DependsOnD, service.DepRegular},
		{desc.DependsMSD, service.DepMilestone},
		{desc.WaitsForD, service.DepWaitsFor},
	}

	for _, spec := range dirDepSpecs {
		for _, dir := range spec.dirs {
			depDir := util.CombinePaths(filepath.Dir(filePath), dir)
			if err := dl.loadDepsFromDir(svc, depDir, spec.depType); err != nil {
				return err
			}
		}
	}

	return nil
}

func (dl *DirLoader) loadDepsFromDir(svc service.Service, dir string, depType service.DependencyType) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading dependency directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		depSvc, err := dl.LoadService(entry.Name())
		if err != nil {
			return fmt.Errorf("loading dependency '%s' from directory '%s': %w",
				entry.Name(), dir, err)
		}
		svc.Record().AddDep(depSvc, depType)
	}

	return nil
}

// applyToRecord applies the record-level settings.
func applyToRecord(svc service.Service, desc *ServiceDescription) {
	rec := svc.Record()
	rec.SetAutoRestart(desc.AutoRestart)
	rec.SetSmoothRecovery(desc.SmoothRecovery)
	rec.SetFlags(desc.Flags)
	rec.SetTermSignal(desc.TermSignal)
	if desc.ChainTo != "" {
		rec.SetChainTo(desc.ChainTo)
	}
}

// ServiceLoadError represents a service loading failure.
type ServiceLoadError struct {
	ServiceName string
	Message     string
}

func (e *ServiceLoadError) Error() string {
	return fmt.Sprintf("service '%s': %s", e.ServiceName, e.Message)
}
