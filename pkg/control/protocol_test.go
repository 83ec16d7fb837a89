package control

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cinderlinux/cinder/pkg/eventloop"
	"github.com/cinderlinux/cinder/pkg/logging"
	"github.com/cinderlinux/cinder/pkg/service"
)

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte("payload-bytes")
	require.NoError(t, WritePacket(&buf, CmdFindService, payload))

	pktType, got, err := ReadPacket(&buf)
	require.NoError(t, err)
	require.Equal(t, CmdFindService, pktType)
	require.Equal(t, payload, got)
}

func TestPacketEmptyPayload(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WritePacket(&buf, RplyACK, nil))

	pktType, payload, err := ReadPacket(&buf)
	require.NoError(t, err)
	require.Equal(t, RplyACK, pktType)
	require.Empty(t, payload)
}

func TestServiceNameRoundTrip(t *testing.T) {
	enc := EncodeServiceName("network")
	name, n, err := DecodeServiceName(enc)
	require.NoError(t, err)
	require.Equal(t, "network", name)
	require.Equal(t, len(enc), n)

	_, _, err = DecodeServiceName([]byte{9})
	require.Error(t, err)
}

func newControlFixture(t *testing.T) *service.ServiceSet {
	t.Helper()
	logger := logging.New(logging.LevelError)
	loop := eventloop.New(logger)
	set := service.NewServiceSet(loop, nil, logger)
	loop.AttachServices(set)
	return set
}

func TestServiceStatusEncoding(t *testing.T) {
	set := newControlFixture(t)
	svc := service.NewInternalService(set, "status-svc")
	set.AddService(svc)
	set.StartService(svc)

	info, err := DecodeServiceStatus(EncodeServiceStatus(svc))
	require.NoError(t, err)
	require.Equal(t, service.StateStarted, info.State)
	require.Equal(t, service.StateStarted, info.TargetState)
	require.Equal(t, service.TypeInternal, info.SvcType)
	require.NotZero(t, info.Flags&StatusFlagMarkedActive)
	require.Zero(t, info.Flags&StatusFlagHasPID)
}

func TestSvcInfoEncoding(t *testing.T) {
	set := newControlFixture(t)
	svc := service.NewInternalService(set, "list-svc")
	set.AddService(svc)

	entry, n, err := DecodeSvcInfo(EncodeSvcInfo(svc))
	require.NoError(t, err)
	require.Equal(t, "list-svc", entry.Name)
	require.Equal(t, service.StateStopped, entry.State)
	require.Equal(t, 2+len("list-svc")+7, n)
}
