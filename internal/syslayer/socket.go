package syslayer

import (
	"github.com/maceip/friscy-sub000/internal/bridge"
)

// socketHandle is the fd-table entry a socket syscall installs: it
// tracks the remote fd the foreground's proxy adaptor assigned, since
// that namespace is disjoint from this process's guest fd numbers.
type socketHandle struct {
	remoteFd int32
}

func (c *Context) call(op bridge.RPCOp, fd int32, arg1, arg2 int64, payload []byte) bridge.RPCResponse {
	if c.Net == nil {
		return bridge.RPCResponse{Result: int32(-ENOSYS)}
	}
	return c.Net.Call(bridge.RPCRequest{Op: op, Fd: fd, Arg1: arg1, Arg2: arg2, Payload: payload})
}

func (c *Context) socketOf(fd int32) (*socketHandle, bool) {
	entry, ok := c.Fds.Get(int(fd))
	if !ok {
		return nil, false
	}
	s, ok := entry.(*socketHandle)
	return s, ok
}

func (c *Context) sysSocket(domain, typ, protocol int64) (int64, error) {
	resp := c.call(bridge.RPCCreate, -1, domain, typ, nil)
	if resp.Result < 0 {
		return int64(resp.Result), nil
	}
	fd := c.Fds.Install(&socketHandle{remoteFd: resp.Result})
	return int64(fd), nil
}

func (c *Context) sysConnect(fd int32, addr, addrlen uint64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	payload, err := c.Arena.Bytes(addr, addrlen)
	if err != nil {
		return -int64(EFAULT), nil
	}
	resp := c.call(bridge.RPCConnect, sock.remoteFd, 0, 0, payload)
	return int64(resp.Result), nil
}

func (c *Context) sysBind(fd int32, addr, addrlen uint64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	payload, err := c.Arena.Bytes(addr, addrlen)
	if err != nil {
		return -int64(EFAULT), nil
	}
	resp := c.call(bridge.RPCBind, sock.remoteFd, 0, 0, payload)
	return int64(resp.Result), nil
}

func (c *Context) sysListen(fd int32, backlog int64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	resp := c.call(bridge.RPCListen, sock.remoteFd, backlog, 0, nil)
	return int64(resp.Result), nil
}

func (c *Context) sysAccept(fd int32) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	resp := c.call(bridge.RPCAccept, sock.remoteFd, 0, 0, nil)
	if resp.Result < 0 {
		return int64(resp.Result), nil
	}
	newFd := c.Fds.Install(&socketHandle{remoteFd: resp.Result})
	return int64(newFd), nil
}

func (c *Context) sysSendto(fd int32, buf, count uint64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	data, err := c.Arena.Bytes(buf, count)
	if err != nil {
		return -int64(EFAULT), nil
	}
	resp := c.call(bridge.RPCSend, sock.remoteFd, 0, 0, data)
	return int64(resp.Result), nil
}

func (c *Context) sysRecvfrom(fd int32, buf, count uint64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	resp := c.call(bridge.RPCRecv, sock.remoteFd, int64(count), 0, nil)
	if resp.Result < 0 {
		return int64(resp.Result), nil
	}
	if err := c.Arena.CopyIn(buf, resp.Payload); err != nil {
		return -int64(EFAULT), nil
	}
	return int64(resp.Result), nil
}

func (c *Context) sysShutdown(fd int32, how int64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	resp := c.call(bridge.RPCShutdown, sock.remoteFd, how, 0, nil)
	return int64(resp.Result), nil
}

func (c *Context) sysSetsockopt(fd int32, level, name int64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	resp := c.call(bridge.RPCSetSockopt, sock.remoteFd, level, name, nil)
	return int64(resp.Result), nil
}

func (c *Context) sysGetsockopt(fd int32, level, name int64) (int64, error) {
	sock, ok := c.socketOf(fd)
	if !ok {
		return -int64(EBADF), nil
	}
	resp := c.call(bridge.RPCGetSockopt, sock.remoteFd, level, name, nil)
	return int64(resp.Result), nil
}
