package control

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/cinderlinux/cinder/pkg/service"
)

// Connection represents a single control client connection. Service
// handles are per-connection.
type Connection struct {
	server     *Server
	conn       net.Conn
	id         string
	handles    map[uint32]service.Service
	nextHandle uint32
}

func newConnection(server *Server, conn net.Conn, id string) *Connection {
	return &Connection{
		server:     server,
		conn:       conn,
		id:         id,
		handles:    make(map[uint32]service.Service),
		nextHandle: 1,
	}
}

func (c *Connection) close() {
	c.conn.Close()
}

func (c *Connection) allocHandle(svc service.Service) uint32 {
	for h, s := range c.handles {
		if s == svc {
			return h
		}
	}
	h := c.nextHandle
	c.nextHandle++
	c.handles[h] = svc
	return h
}

func (c *Connection) getService(handle uint32) service.Service {
	return c.handles[handle]
}

func (c *Connection) serve() {
	defer c.close()

	c.server.logger.Debug("Control connection %s opened", c.id)

	for {
		select {
		case <-c.server.ctx.Done():
			return
		default:
		}

		cmd, payload, err := ReadPacket(c.conn)
		if err != nil {
			if err != io.EOF {
				c.server.logger.Debug("Control connection %s read error: %v", c.id, err)
			}
			return
		}

		if err := c.dispatch(cmd, payload); err != nil {
			c.server.logger.Debug("Control connection %s dispatch error: %v", c.id, err)
			return
		}
	}
}

func (c *Connection) dispatch(cmd uint8, payload []byte) error {
	switch cmd {
	case CmdQueryVersion:
		return c.handleQueryVersion()
	case CmdFindService:
		return c.handleFindService(payload)
	case CmdLoadService:
		return c.handleLoadService(payload)
	case CmdStartService:
		return c.handleStartService(payload)
	case CmdStopService:
		return c.handleStopService(payload)
	case CmdRestartService:
		return c.handleRestartService(payload)
	case CmdUnpinService:
		return c.handleUnpinService(payload)
	case CmdListServices:
		return c.handleListServices()
	case CmdServiceStatus:
		return c.handleServiceStatus(payload)
	case CmdShutdown:
		return c.handleShutdown(payload)
	case CmdCloseHandle:
		return c.handleCloseHandle(payload)
	case CmdSetTrigger:
		return c.handleSetTrigger(payload)
	case CmdSignal:
		return c.handleSignal(payload)
	case CmdCatLog:
		return c.handleCatLog(payload)
	default:
		return WritePacket(c.conn, RplyBadReq, nil)
	}
}

func (c *Connection) serviceRecordReply(svc service.Service) error {
	handle := c.allocHandle(svc)
	reply := make([]byte, 6)
	reply[0] = uint8(svc.State())
	binary.LittleEndian.PutUint32(reply[1:], handle)
	reply[5] = uint8(svc.TargetState())
	return WritePacket(c.conn, RplyServiceRecord, reply)
}

// --- Command handlers ---

func (c *Connection) handleQueryVersion() error {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, ProtocolVersion)
	return WritePacket(c.conn, RplyCPVersion, payload)
}

func (c *Connection) handleFindService(payload []byte) error {
	name, _, err := DecodeServiceName(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	var svc service.Service
	c.server.runOnLoop(func() {
		svc = c.server.services.FindService(name)
	})
	if svc == nil {
		return WritePacket(c.conn, RplyNoService, nil)
	}
	return c.serviceRecordReply(svc)
}

func (c *Connection) handleLoadService(payload []byte) error {
	name, _, err := DecodeServiceName(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	var svc service.Service
	var loadErr error
	c.server.runOnLoop(func() {
		svc, loadErr = c.server.services.LoadService(name)
	})
	if loadErr != nil {
		return WritePacket(c.conn, RplyNoService, nil)
	}
	return c.serviceRecordReply(svc)
}

func (c *Connection) handleStartService(payload []byte) error {
	handle, err := DecodeHandle(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}
	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	var reply uint8 = RplyACK
	c.server.runOnLoop(func() {
		switch {
		case c.server.services.IsShuttingDown():
			reply = RplyShuttingDown
		case svc.State() == service.StateStarted:
			reply = RplyAlreadySS
		default:
			c.server.services.StartService(svc)
		}
	})
	return WritePacket(c.conn, reply, nil)
}

func (c *Connection) handleStopService(payload []byte) error {
	handle, err := DecodeHandle(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}
	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	var reply uint8 = RplyACK
	c.server.runOnLoop(func() {
		if svc.State() == service.StateStopped {
			reply = RplyAlreadySS
		} else {
			c.server.services.StopService(svc)
		}
	})
	return WritePacket(c.conn, reply, nil)
}

func (c *Connection) handleRestartService(payload []byte) error {
	handle, err := DecodeHandle(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}
	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	var reply uint8 = RplyACK
	c.server.runOnLoop(func() {
		if !svc.Restart() {
			reply = RplyNAK
			return
		}
		c.server.services.ProcessQueues()
	})
	return WritePacket(c.conn, reply, nil)
}

func (c *Connection) handleUnpinService(payload []byte) error {
	handle, err := DecodeHandle(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}
	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	c.server.runOnLoop(func() {
		svc.Unpin()
		c.server.services.ProcessQueues()
	})
	return WritePacket(c.conn, RplyACK, nil)
}

func (c *Connection) handleListServices() error {
	var infos [][]byte
	c.server.runOnLoop(func() {
		for _, svc := range c.server.services.ListServices() {
			infos = append(infos, EncodeSvcInfo(svc))
		}
	})
	for _, info := range infos {
		if err := WritePacket(c.conn, RplySvcInfo, info); err != nil {
			return err
		}
	}
	return WritePacket(c.conn, RplyListDone, nil)
}

func (c *Connection) handleServiceStatus(payload []byte) error {
	handle, err := DecodeHandle(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}
	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	var status []byte
	c.server.runOnLoop(func() {
		status = EncodeServiceStatus(svc)
	})
	return WritePacket(c.conn, RplyServiceStatus, status)
}

func (c *Connection) handleShutdown(payload []byte) error {
	if len(payload) < 1 {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	shutType := service.ShutdownType(payload[0])
	if c.server.ShutdownFunc != nil {
		c.server.ShutdownFunc(shutType)
	}
	return WritePacket(c.conn, RplyACK, nil)
}

func (c *Connection) handleCloseHandle(payload []byte) error {
	handle, err := DecodeHandle(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}
	delete(c.handles, handle)
	return WritePacket(c.conn, RplyACK, nil)
}

func (c *Connection) handleSetTrigger(payload []byte) error {
	// Format: handle(4) + triggerValue(1).
	if len(payload) < 5 {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	handle := binary.LittleEndian.Uint32(payload)
	triggerVal := payload[4] != 0

	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	triggered, ok := svc.(*service.TriggeredService)
	if !ok {
		return WritePacket(c.conn, RplyNAK, nil)
	}

	c.server.runOnLoop(func() {
		triggered.SetTrigger(triggerVal)
		c.server.services.ProcessQueues()
	})
	return WritePacket(c.conn, RplyACK, nil)
}

func (c *Connection) handleSignal(payload []byte) error {
	// Format: handle(4) + signal(4).
	if len(payload) < 8 {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	handle := binary.LittleEndian.Uint32(payload)
	sigNum := int(binary.LittleEndian.Uint32(payload[4:]))

	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	pid := svc.PID()
	if pid <= 0 {
		return WritePacket(c.conn, RplySignalNoPID, nil)
	}

	if err := syscall.Kill(pid, syscall.Signal(sigNum)); err != nil {
		return WritePacket(c.conn, RplySignalErr, []byte(fmt.Sprintf("%v", err)))
	}
	return WritePacket(c.conn, RplyACK, nil)
}

func (c *Connection) handleCatLog(payload []byte) error {
	handle, err := DecodeHandle(payload)
	if err != nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}
	svc := c.getService(handle)
	if svc == nil {
		return WritePacket(c.conn, RplyBadReq, nil)
	}

	if svc.GetLogType() != service.LogMemory {
		return WritePacket(c.conn, RplyNAK, nil)
	}

	var data []byte
	if lb := svc.GetLogBuffer(); lb != nil {
		data = lb.Contents()
	}
	return WritePacket(c.conn, RplyCatLogData, data)
}
