// server.go - epochd server.
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

// Package server provides the epochd server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/epochd/core/log"
	"github.com/katzenpost/epochd/server/config"
	"github.com/katzenpost/epochd/server/internal/epochmgr"
	"github.com/katzenpost/epochd/server/internal/instrument"
	"github.com/katzenpost/epochd/server/internal/profiling"
	"github.com/katzenpost/epochd/thwack"
)

// Server is an epochd server instance.
type Server struct {
	cfg   *config.Config
	clock clockwork.Clock

	logBackend *log.Backend
	log        *logging.Logger

	epochs        *epochmgr.Manager
	announcer     *announcer
	periodic      *periodicTimer
	management    *thwack.Server
	metrics       *http.Server
	stopProfiling func() error

	fatalErrCh chan error
	haltCh     chan interface{}
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Server.DataDir

	// Initialize the data directory, by ensuring that it exists (or can be
	// created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		// Directory doesn't exist, create one.
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("server: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("server: DataDir '%v' has invalid permissions '%v'", d, fi.Mode())
		}
	}

	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Server.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

// Epochs returns the server's epoch manager.
func (s *Server) Epochs() *epochmgr.Manager {
	return s.epochs
}

// RotateLog rotates the log file, if logging to a file.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.fatalErr(fmt.Errorf("failed to rotate log file, shutting down server: %v", err))
		return
	}
	s.log.Notice("Log rotated.")
}

// fatalErr requests a shutdown due to err.  It is a no-op once the shutdown
// has started.
func (s *Server) fatalErr(err error) {
	select {
	case s.fatalErrCh <- err:
	case <-s.haltCh:
	}
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

func (s *Server) halt() {
	// WARNING: The ordering of operations here is deliberate.  The
	// management interface calls into the epoch manager, and the epoch
	// manager delivers into the announcer.

	s.log.Noticef("Starting graceful shutdown.")
	close(s.haltCh)

	if s.management != nil {
		s.management.Halt()
		s.management = nil
	}

	if s.periodic != nil {
		s.periodic.halt()
		s.periodic = nil
	}

	if s.epochs != nil {
		s.epochs.Halt()
		s.epochs = nil
	}

	if s.announcer != nil {
		s.announcer.halt()
		s.announcer = nil
	}

	if s.metrics != nil {
		if err := s.metrics.Shutdown(context.Background()); err != nil {
			s.log.Warningf("Failed to stop the metrics listener: %v", err)
		}
		s.metrics = nil
	}

	if s.stopProfiling != nil {
		if err := s.stopProfiling(); err != nil {
			s.log.Warningf("Failed to stop the profiler: %v", err)
		}
		s.stopProfiling = nil
	}

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	return newServer(cfg, clockwork.NewRealClock())
}

func newServer(cfg *config.Config, clock clockwork.Clock) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: nil config")
	}

	s := new(Server)
	s.cfg = cfg
	s.clock = clock
	s.fatalErrCh = make(chan error)
	s.haltCh = make(chan interface{})
	s.haltedCh = make(chan interface{})

	// Do the early initialization and bring up logging.
	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	s.log.Noticef("Server identifier is: '%v'", s.cfg.Server.Identifier)

	snapshot := filepath.Join(s.cfg.Server.DataDir, config.SnapshotFile)
	if err := config.Store(s.cfg, snapshot); err != nil {
		s.log.Errorf("Failed to write the configuration snapshot: %v", err)
		return nil, err
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	// Start the fatal error watcher.
	go func() {
		var err error
		select {
		case err = <-s.fatalErrCh:
		case <-s.haltCh:
			// Graceful termination.
			return
		}
		s.log.Warningf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	if s.cfg.Debug.EnableProfiling {
		stop, err := profiling.Start(s.logBackend.GetLogger("profiling"), s.cfg.Server.Identifier)
		if err != nil {
			s.log.Errorf("Failed to start the profiler: %v", err)
			return nil, err
		}
		s.stopProfiling = stop
	}

	if s.cfg.Server.MetricsAddress != "" {
		s.metrics = instrument.StartPrometheusListener(s.cfg.Server.MetricsAddress, s.logBackend.GetGoLogger("metrics", "ERROR"))
		s.log.Noticef("Serving metrics on: %v", s.cfg.Server.MetricsAddress)
	}

	// Bring up the epoch manager, and hand it the consensus constants.
	s.epochs = epochmgr.New(s.logBackend, s.clock)
	if err := s.epochs.SetEpochConstants(s.cfg.Consensus.CheckpointZeroTimestamp, s.cfg.Consensus.CheckpointsPeriod); err != nil {
		s.log.Errorf("Failed to set the epoch constants: %v", err)
		return nil, err
	}

	if !s.cfg.Debug.DisableAnnouncer {
		var err error
		if s.announcer, err = newAnnouncer(s); err != nil {
			s.log.Errorf("Failed to initialize the epoch announcer: %v", err)
			return nil, err
		}
	}

	// Start the periodic 1 Hz civil time sanity check.
	s.periodic = newPeriodicTimer(s)

	if s.cfg.Management.Enable {
		if err := s.initManagement(); err != nil {
			s.log.Errorf("Failed to initialize management interface: %v", err)
			return nil, err
		}
	}

	isOk = true
	return s, nil
}
