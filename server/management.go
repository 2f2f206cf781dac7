// management.go - Management interface commands.
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

package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/katzenpost/epochd/core/epochtime"
	"github.com/katzenpost/epochd/thwack"
)

const (
	cmdEpoch          = "EPOCH"
	cmdEpochTimestamp = "EPOCH_TIMESTAMP"
	cmdNextCheckpoint = "NEXT_CHECKPOINT"
	cmdStatus         = "STATUS"
	cmdShutdown       = "SHUTDOWN"
)

func (s *Server) initManagement() error {
	mgmtCfg := &thwack.Config{
		Net:         "unix",
		Addr:        s.cfg.Management.Path,
		ServiceName: s.cfg.Server.Identifier + " epochd Management Interface",
		LogModule:   "mgmt",
		NewLoggerFn: s.logBackend.GetLogger,
	}
	s.management = thwack.New(mgmtCfg)
	s.management.RegisterCommand(cmdEpoch, s.onEpoch)
	s.management.RegisterCommand(cmdEpochTimestamp, s.onEpochTimestamp)
	s.management.RegisterCommand(cmdNextCheckpoint, s.onNextCheckpoint)
	s.management.RegisterCommand(cmdStatus, s.onStatus)
	s.management.RegisterCommand(cmdShutdown, func(c *thwack.Conn, args []string) error {
		s.fatalErr(fmt.Errorf("user requested shutdown via mgmt interface"))
		return nil
	})
	return s.management.Start()
}

func (s *Server) onEpoch(c *thwack.Conn, args []string) error {
	if len(args) != 0 {
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	epoch, err := s.epochs.GetCurrentEpoch()
	if err != nil {
		c.Log().Errorf("%v failed: %v", cmdEpoch, err)
		return c.WriteReply(thwack.StatusTransactionFailed)
	}
	return c.WriteReplyf(thwack.StatusOk, "%d", uint64(epoch))
}

func (s *Server) onEpochTimestamp(c *thwack.Conn, args []string) error {
	if len(args) != 1 {
		c.Log().Debugf("%v invalid syntax: '%v'", cmdEpochTimestamp, args)
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	e, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		c.Log().Debugf("%v invalid epoch: %v", cmdEpochTimestamp, err)
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	ts, err := s.epochs.GetEpochTimestamp(epochtime.Epoch(e))
	if err != nil {
		c.Log().Errorf("%v failed: %v", cmdEpochTimestamp, err)
		return c.WriteReply(thwack.StatusTransactionFailed)
	}
	return c.WriteReplyf(thwack.StatusOk, "%d", ts)
}

func (s *Server) onNextCheckpoint(c *thwack.Conn, args []string) error {
	if len(args) != 0 {
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	d, err := s.epochs.TimeToNextCheckpoint()
	if err != nil {
		c.Log().Errorf("%v failed: %v", cmdNextCheckpoint, err)
		return c.WriteReply(thwack.StatusTransactionFailed)
	}
	return c.WriteReplyf(thwack.StatusOk, "%v", d)
}

func (s *Server) onStatus(c *thwack.Conn, args []string) error {
	if len(args) != 0 {
		return c.WriteReply(thwack.StatusSyntaxError)
	}
	st, err := s.epochs.Status()
	if err != nil {
		c.Log().Errorf("%v failed: %v", cmdStatus, err)
		return c.WriteReply(thwack.StatusTransactionFailed)
	}

	fields := []string{
		fmt.Sprintf("running=%v", st.Running),
		fmt.Sprintf("zero=%d", st.Constants.CheckpointZeroTimestamp),
		fmt.Sprintf("period=%d", st.Constants.CheckpointsPeriod),
		"last_checked=" + optionalEpoch(st.LastChecked),
		"next_target=" + optionalEpoch(st.NextTarget),
		fmt.Sprintf("pending=%d", st.Pending),
		fmt.Sprintf("persistent=%d", st.Persistent),
	}
	if s.announcer != nil {
		if e, ok := s.announcer.lastEpoch(); ok {
			fields = append(fields, fmt.Sprintf("announced=%d", uint64(e)))
		}
	}
	return c.WriteReplyf(thwack.StatusOk, "%s", strings.Join(fields, " "))
}

func optionalEpoch(e *epochtime.Epoch) string {
	if e == nil {
		return "none"
	}
	return strconv.FormatUint(uint64(*e), 10)
}
