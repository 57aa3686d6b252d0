// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/maphash"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/aristanetworks/kvloop/ae"
	"github.com/aristanetworks/kvloop/dict"
	"github.com/aristanetworks/kvloop/internal/config"
)

const (
	readChunk = 16 * 1024
	// listenFDReserve keeps descriptors free for the listener and
	// the backend itself.
	listenFDReserve = 32
	// minSlotsToShrink is the table size below which the client
	// table is never shrunk.
	minSlotsToShrink = 4
	// shrinkFillPercent is the load factor, in percent, under which
	// the client table is shrunk.
	shrinkFillPercent = 10
)

type client struct {
	fd      int
	addr    string
	out     []byte // pending reply
	pending bool   // queued for a write before sleeping
	closed  bool
}

type server struct {
	cfg    *config.Config
	logger *zap.Logger
	loop   *ae.Loop
	lfd    int

	clients *dict.Dict[int, *client]
	// pending holds clients with output to flush before the loop
	// sleeps again.
	pending []*client

	shutdown  atomic.Bool
	cronLoops int
	accepted  int
}

func fdHash(seed maphash.Seed, fd int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(fd))
	return maphash.Bytes(seed, buf[:])
}

func newServer(cfg *config.Config, logger *zap.Logger) (*server, error) {
	loop, err := ae.New(cfg.SetSize+listenFDReserve,
		ae.WithBackendName(cfg.Backend),
		ae.WithLogger(logger.Named("ae")))
	if err != nil {
		return nil, err
	}
	s := &server{cfg: cfg, logger: logger, loop: loop, lfd: -1}
	s.clients = dict.New[int, *client](dict.Funcs[int, *client]{
		HashFunc:  fdHash,
		EqualFunc: func(a, b int) bool { return a == b },
		ValueDestructor: func(c *client) {
			c.closed = true
			if err := unix.Close(c.fd); err != nil {
				s.logger.Warn("close client", zap.Int("fd", c.fd), zap.Error(err))
			}
		},
	}, dict.WithLogger(logger.Named("clients")))

	if s.lfd, err = listenTCP(cfg.Listen); err != nil {
		loop.Close()
		return nil, err
	}
	if err := loop.CreateFileEvent(s.lfd, ae.Readable, s.acceptHandler, nil); err != nil {
		unix.Close(s.lfd)
		loop.Close()
		return nil, err
	}
	period := int64(1000 / cfg.Hz)
	loop.CreateTimeEvent(period, s.serverCron, nil, nil)
	loop.SetBeforeSleepProc(s.beforeSleep)
	return s, nil
}

func listenTCP(addr string) (int, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, err
	}
	var (
		family = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := ta.IP.To4(); ip4 != nil || ta.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: ta.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa6.Addr[:], ta.IP.To16())
		sa = sa6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	if err := listenFD(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}
	return fd, nil
}

func listenFD(fd int, sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	return os.NewSyscallError("listen", unix.Listen(fd, 511))
}

// addr returns the address the server listens on.
func (s *server) addr() (string, error) {
	sa, err := unix.Getsockname(s.lfd)
	if err != nil {
		return "", os.NewSyscallError("getsockname", err)
	}
	return sockaddrString(sa), nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), fmt.Sprint(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), fmt.Sprint(sa.Port))
	}
	return "unknown"
}

func (s *server) requestShutdown() {
	s.shutdown.Store(true)
}

func (s *server) serve() {
	if addr, err := s.addr(); err == nil {
		s.logger.Info("accepting connections", zap.String("addr", addr),
			zap.String("backend", s.loop.APIName()))
	}
	s.loop.Main()

	s.loop.DeleteFileEvent(s.lfd, ae.Readable)
	unix.Close(s.lfd)
	n := s.clients.Len()
	s.clients.Clear()
	if err := s.loop.Close(); err != nil {
		s.logger.Warn("close event loop", zap.Error(err))
	}
	s.logger.Info("server stopped", zap.Int("clients_closed", n), zap.Int("accepted", s.accepted))
}

func (s *server) acceptHandler(l *ae.Loop, fd int, _ any, _ ae.Mask) {
	// Accept in a loop so a burst of connections costs one wakeup.
	for {
		nfd, sa, err := unix.Accept(fd)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				s.logger.Warn("accept", zap.Error(err))
			}
			return
		}
		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			s.logger.Warn("setnonblock", zap.Int("fd", nfd), zap.Error(err))
			unix.Close(nfd)
			continue
		}
		c := &client{fd: nfd, addr: sockaddrString(sa)}
		if err := s.clients.Add(nfd, c); err != nil {
			// A stale entry for a reused fd is a bug; do not leak it.
			s.logger.Error("client table", zap.Int("fd", nfd), zap.Error(err))
			unix.Close(nfd)
			continue
		}
		if err := l.CreateFileEvent(nfd, ae.Readable, s.readFromClient, c); err != nil {
			s.logger.Warn("rejecting client", zap.String("addr", c.addr), zap.Error(err))
			_ = s.clients.Delete(nfd)
			continue
		}
		s.accepted++
		s.logger.Debug("client connected", zap.String("addr", c.addr), zap.Int("fd", nfd))
	}
}

func (s *server) readFromClient(l *ae.Loop, fd int, clientData any, _ ae.Mask) {
	c := clientData.(*client)
	var buf [readChunk]byte
	n, err := unix.Read(fd, buf[:])
	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return
	case err != nil:
		s.logger.Debug("read", zap.String("addr", c.addr), zap.Error(err))
		s.freeClient(c)
		return
	case n == 0:
		s.logger.Debug("client closed connection", zap.String("addr", c.addr))
		s.freeClient(c)
		return
	}
	c.out = append(c.out, buf[:n]...)
	if !c.pending {
		c.pending = true
		s.pending = append(s.pending, c)
	}
}

// writeToClient writes as much pending output as the socket accepts.
// It returns false if the client was freed.
func (s *server) writeToClient(c *client) bool {
	for len(c.out) > 0 {
		n, err := unix.Write(c.fd, c.out)
		if errors.Is(err, unix.EAGAIN) {
			return true
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			s.logger.Debug("write", zap.String("addr", c.addr), zap.Error(err))
			s.freeClient(c)
			return false
		}
		c.out = c.out[n:]
	}
	c.out = nil
	return true
}

func (s *server) sendReply(l *ae.Loop, fd int, clientData any, _ ae.Mask) {
	c := clientData.(*client)
	if s.writeToClient(c) && len(c.out) == 0 {
		l.DeleteFileEvent(fd, ae.Writable)
	}
}

// beforeSleep flushes replies directly, installing a write handler
// only for clients whose socket buffer is full.
func (s *server) beforeSleep(l *ae.Loop) {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		c.pending = false
		if c.closed || !s.writeToClient(c) || len(c.out) == 0 {
			continue
		}
		if l.FileEvents(c.fd)&ae.Writable != 0 {
			continue
		}
		if err := l.CreateFileEvent(c.fd, ae.Writable, s.sendReply, c); err != nil {
			s.logger.Warn("install write handler", zap.String("addr", c.addr), zap.Error(err))
			s.freeClient(c)
		}
	}
}

func (s *server) freeClient(c *client) {
	if c.closed {
		return
	}
	s.loop.DeleteFileEvent(c.fd, ae.Readable|ae.Writable)
	if err := s.clients.Delete(c.fd); err != nil {
		s.logger.Error("client table", zap.Int("fd", c.fd), zap.Error(err))
	}
}

func (s *server) serverCron(l *ae.Loop, _ int64, _ any) int {
	s.cronLoops++
	if s.shutdown.Load() {
		l.Stop()
		return ae.NoMore
	}

	if s.clients.IsRehashing() {
		s.clients.RehashFor(time.Duration(s.cfg.RehashBudgetMS) * time.Millisecond)
	} else if slots := s.clients.Slots(); slots > minSlotsToShrink &&
		s.clients.Len()*100/slots < shrinkFillPercent {
		if err := s.clients.Resize(); err != nil && !errors.Is(err, dict.ErrResizeDisabled) {
			s.logger.Warn("shrink client table", zap.Error(err))
		}
	}

	if s.cfg.StatsEvery > 0 && s.cronLoops%s.cfg.StatsEvery == 0 {
		s.logger.Info("clients",
			zap.Int("connected", s.clients.Len()),
			zap.Int("slots", s.clients.Slots()),
			zap.Bool("rehashing", s.clients.IsRehashing()))
		if ce := s.logger.Check(zap.DebugLevel, "client table stats"); ce != nil {
			ce.Write(zap.String("stats", s.clients.Stats()))
		}
	}
	return 1000 / s.cfg.Hz
}
