package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cinderlinux/cinder/pkg/eventloop"
	"github.com/cinderlinux/cinder/pkg/logging"
	"github.com/cinderlinux/cinder/pkg/service"
)

func writeServiceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newLoaderFixture(t *testing.T) (*service.ServiceSet, string, *DirLoader) {
	t.Helper()
	logger := logging.New(logging.LevelError)
	loop := eventloop.New(logger)
	set := service.NewServiceSet(loop, nil, logger)
	loop.AttachServices(set)

	dir := t.TempDir()
	loader := NewDirLoader(set, []string{dir})
	set.SetLoader(loader)
	return set, dir, loader
}

func TestLoaderResolvesDependencies(t *testing.T) {
	_, dir, loader := newLoaderFixture(t)

	writeServiceFile(t, dir, "base", "type = internal\n")
	writeServiceFile(t, dir, "app", `
type = internal
depends-on: base
`)

	svc, err := loader.LoadService("app")
	require.NoError(t, err)
	require.Equal(t, "app", svc.Name())

	deps := svc.Dependencies()
	require.Len(t, deps, 1)
	require.Equal(t, "base", deps[0].To.Name())
	require.Equal(t, service.DepRegular, deps[0].DepType)
}

func TestLoaderDetectsDependencyCycle(t *testing.T) {
	_, dir, loader := newLoaderFixture(t)

	writeServiceFile(t, dir, "a", "type = internal\ndepends-on: b\n")
	writeServiceFile(t, dir, "b", "type = internal\ndepends-on: a\n")

	_, err := loader.LoadService("a")
	var lerr *ServiceLoadError
	require.ErrorAs(t, err, &lerr)
}

func TestLoaderMissingService(t *testing.T) {
	_, _, loader := newLoaderFixture(t)

	_, err := loader.LoadService("ghost")
	require.Error(t, err)
}

func TestLoaderBuildsProcessService(t *testing.T) {
	_, dir, loader := newLoaderFixture(t)

	writeServiceFile(t, dir, "daemon", `
type = process
command = /usr/bin/daemon -f
restart = yes
smooth-recovery = yes
ready-notification = yes
`)

	svc, err := loader.LoadService("daemon")
	require.NoError(t, err)
	require.Equal(t, service.TypeProcess, svc.Type())
	require.Equal(t, service.StateStopped, svc.State())
}

func TestLoaderOrderingEdges(t *testing.T) {
	set, dir, loader := newLoaderFixture(t)

	writeServiceFile(t, dir, "late", "type = internal\n")
	writeServiceFile(t, dir, "early", `
type = internal
before: late
`)

	svc, err := loader.LoadService("early")
	require.NoError(t, err)

	// "early before late" is stored as an after-edge on late.
	require.Empty(t, svc.Dependencies())
	late := set.FindService("late")
	require.NotNil(t, late)
	deps := late.Dependencies()
	require.Len(t, deps, 1)
	require.Equal(t, service.DepAfter, deps[0].DepType)
	require.Equal(t, "early", deps[0].To.Name())
}

func TestLoaderWaitsForDirectory(t *testing.T) {
	_, dir, loader := newLoaderFixture(t)

	waitsDir := filepath.Join(dir, "boot.d")
	require.NoError(t, os.Mkdir(waitsDir, 0o755))
	writeServiceFile(t, dir, "extra", "type = internal\n")
	require.NoError(t, os.WriteFile(filepath.Join(waitsDir, "extra"), nil, 0o644))

	writeServiceFile(t, dir, "boot", `
type = internal
waits-for.d: boot.d
`)

	svc, err := loader.LoadService("boot")
	require.NoError(t, err)
	deps := svc.Dependencies()
	require.Len(t, deps, 1)
	require.Equal(t, "extra", deps[0].To.Name())
	require.Equal(t, service.DepWaitsFor, deps[0].DepType)
}
