// thwack.go - Trivial text based management protocol.
// Copyright (C) 2026  The epochd Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package thwack provides a trivial text based management protocol.
//
// Each command is a single line consisting of a case insensitive verb,
// optionally followed by space separated arguments.  Each reply is a single
// line starting with a three digit status code.
package thwack

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"
)

const cmdQuit = "QUIT"

// StatusCode is a thwack status code.
type StatusCode int

const (
	// StatusServiceReady is the status code that is always sent on a new
	// connection to signify that the management interface is ready.
	StatusServiceReady StatusCode = 220

	// StatusOk is the status code returned to signal successful completion
	// of a command.
	StatusOk StatusCode = 250

	// StatusUnknownCommand is the status code returned when a command is
	// unknown.
	StatusUnknownCommand StatusCode = 500

	// StatusSyntaxError is the status code returned when the syntax of a
	// command or it's argument(s) is invalid.
	StatusSyntaxError StatusCode = 501

	// StatusTransactionFailed is the status code returned when the command
	// has failed.
	StatusTransactionFailed StatusCode = 554
)

var statusToString = map[StatusCode]string{
	StatusServiceReady:      "Service ready",
	StatusOk:                "Requested action ok, completed",
	StatusUnknownCommand:    "Syntax error, command unrecognised",
	StatusSyntaxError:       "Syntax error in parameters or arguments",
	StatusTransactionFailed: "Transaction failed",
}

// CommandHandlerFn is a command handler hook function, called with the
// command's arguments.  Each handler is responsible for sending a reply, and
// MUST NOT return an error unless the connection is to be closed.
type CommandHandlerFn func(c *Conn, args []string) error

// Config is a thwack Server configuration.
type Config struct {
	// Net and Addr specify the network and address of the server instance.
	Net, Addr string

	// ServiceName is the service name to be displayed in the greeting banner.
	ServiceName string

	// LogModule is the module for the Server's Logger.
	LogModule string

	// NewLoggerFn is the function to call to construct per-connection Loggers.
	NewLoggerFn func(string) *logging.Logger
}

// Server is a thwack server instance.
type Server struct {
	sync.WaitGroup

	cfg      *Config
	l        net.Listener
	log      *logging.Logger
	handlers map[string]CommandHandlerFn

	closeAllCh chan interface{}
	closeOnce  sync.Once

	connID uint64
}

// Start starts the Server's listener and starts accepting connections.
func (s *Server) Start() error {
	var err error
	if s.l, err = net.Listen(s.cfg.Net, s.cfg.Addr); err != nil {
		return err
	}
	s.log.Debugf("Listening on: %v", s.cfg.Addr)

	s.Add(1)
	go s.acceptWorker()
	return nil
}

// Addr returns the listener address, or nil if the Server is not started.
func (s *Server) Addr() net.Addr {
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

func (s *Server) acceptWorker() {
	defer s.Done()
	for {
		conn, err := s.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debugf("Transient accept failure: %v", err)
			continue
		}
		s.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		c := newConn(s, conn)
		s.Add(1)
		go c.worker()
	}
}

// RegisterCommand sets the handler function for the specified command.
// This MUST NOT be called after the Server has been started with Start().
func (s *Server) RegisterCommand(cmd string, fn CommandHandlerFn) {
	s.handlers[strings.ToUpper(cmd)] = fn
}

func (s *Server) onCommand(c *Conn, l string) error {
	fields := strings.Fields(textproto.TrimString(l))
	if len(fields) == 0 {
		return c.WriteReply(StatusSyntaxError)
	}
	cmd := strings.ToUpper(fields[0])

	fn, ok := s.handlers[cmd]
	if !ok {
		c.Log().Debugf("Unknown command: %v", cmd)
		return c.WriteReply(StatusUnknownCommand)
	}
	c.Log().Debugf("Received command: %v", cmd)
	return fn(c, fields[1:])
}

// Halt halts the Server, closing all connections.
func (s *Server) Halt() {
	s.closeOnce.Do(func() {
		if s.l != nil {
			s.l.Close()
		}
		close(s.closeAllCh)
	})
	s.Wait()
}

func cmdQuitImpl(c *Conn, args []string) error {
	// Ignore the error writing the reply since we're disconnecting anyway.
	c.WriteReply(StatusOk)
	return errors.New("peer requested disconnection")
}

// New constructs a new Server, but does not start the listener.
func New(cfg *Config) *Server {
	s := &Server{
		cfg:        cfg,
		log:        cfg.NewLoggerFn(cfg.LogModule),
		handlers:   make(map[string]CommandHandlerFn),
		closeAllCh: make(chan interface{}),
	}
	s.RegisterCommand(cmdQuit, cmdQuitImpl)
	return s
}

// Conn is a thwack connection instance.
type Conn struct {
	s   *Server
	c   *textproto.Conn
	log *logging.Logger

	id uint64
}

// Log returns the per-connection logging.Logger.
func (c *Conn) Log() *logging.Logger {
	return c.log
}

// WriteReply sends a StatusCode and its human readable reason to the peer.
func (c *Conn) WriteReply(status StatusCode) error {
	reason, ok := statusToString[status]
	if !ok {
		return fmt.Errorf("BUG: thwack: Unknown status code: %v", status)
	}
	return c.c.PrintfLine("%v %v", status, reason)
}

// WriteReplyf sends a StatusCode followed by a formatted message to the
// peer.
func (c *Conn) WriteReplyf(status StatusCode, format string, args ...interface{}) error {
	return c.c.PrintfLine("%v %v", status, fmt.Sprintf(format, args...))
}

func (c *Conn) worker() {
	closedCh := make(chan interface{})
	defer func() {
		c.log.Debugf("Closing")
		c.c.Close()
		c.s.Done()
	}()

	msg := statusToString[StatusServiceReady]
	if c.s.cfg.ServiceName != "" {
		msg = c.s.cfg.ServiceName + " " + msg
	}
	if err := c.c.PrintfLine("%v %v", StatusServiceReady, msg); err != nil {
		c.log.Debugf("Failed to send banner: %v", err)
		return
	}

	go func() {
		defer close(closedCh)
		for {
			l, err := c.c.ReadLine()
			if err != nil {
				c.log.Debugf("Failed to receive command: %v", err)
				return
			}
			if err = c.s.onCommand(c, l); err != nil {
				c.log.Debugf("Failed to process command: %v", err)
				return
			}
		}
	}()

	// Wait till Server teardown, or the command processing goroutine
	// returns for whatever reason.
	select {
	case <-c.s.closeAllCh:
		c.c.Close()
		<-closedCh
	case <-closedCh:
	}
}

func newConn(s *Server, conn net.Conn) *Conn {
	c := &Conn{
		s:  s,
		c:  textproto.NewConn(conn),
		id: atomic.AddUint64(&s.connID, 1),
	}
	c.log = s.cfg.NewLoggerFn(fmt.Sprintf("%s:%d", s.cfg.LogModule, c.id))
	return c
}
