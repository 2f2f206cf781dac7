// log.go - Logging backend.
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

// Package log provides the epochd logging backend, built on go-logging.
package log

import (
	"fmt"
	"io"
	goLog "log"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFileMode = 0600

var logFormat = logging.MustStringFormatter("%{time:15:04:05.000} %{level:.4s} %{module}: %{message}")

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

// Backend is a log backend.  It implements logging.LeveledBackend and may be
// rotated at runtime.
type Backend struct {
	sync.RWMutex

	backend logging.LeveledBackend
	w       io.WriteCloser

	file    string
	level   logging.Level
	disable bool
}

// Log implements the logging.Backend interface.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b.backend.Log(level, calldepth, record)
}

// GetLevel implements the logging.Leveled interface.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b.backend.GetLevel(module)
}

// SetLevel implements the logging.Leveled interface.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b.backend.SetLevel(level, module)
}

// IsEnabledFor implements the logging.Leveled interface.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// GetGoLogger returns a per-module Go runtime *log.Logger that writes to
// the backend at a single level, for consumers like net/http that only
// accept the standard logger.
func (b *Backend) GetGoLogger(module string, level string) *goLog.Logger {
	lvl, err := logLevelFromString(level)
	if err != nil {
		panic("log: GetGoLogger(): Invalid level: " + err.Error())
	}

	w := &logWriter{
		m:   b.GetLogger(module),
		lvl: lvl,
	}
	return goLog.New(w, "", 0)
}

// Rotate reopens the log file, and should be invoked after the file has been
// moved out of the way (eg: on SIGHUP).
func (b *Backend) Rotate() error {
	b.Lock()
	defer b.Unlock()

	if err := b.w.Close(); err != nil {
		return err
	}
	return b.newBackend()
}

func (b *Backend) newBackend() error {
	switch {
	case b.disable:
		b.w = nopCloser{io.Discard}
	case b.file == "":
		b.w = nopCloser{os.Stdout}
	default:
		f, err := os.OpenFile(b.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode)
		if err != nil {
			return fmt.Errorf("log: failed to create log file: %v", err)
		}
		b.w = f
	}

	base := logging.NewLogBackend(b.w, "", 0)
	formatted := logging.NewBackendFormatter(base, logFormat)
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(b.level, "")
	return nil
}

// New initializes a logging backend writing to the file f, or stdout if f is
// empty.
func New(f string, level string, disable bool) (*Backend, error) {
	lvl, err := logLevelFromString(level)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		file:    f,
		level:   lvl,
		disable: disable,
	}
	if err := b.newBackend(); err != nil {
		return nil, err
	}
	return b, nil
}

func logLevelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}

type logWriter struct {
	m   *logging.Logger
	lvl logging.Level
}

func (w *logWriter) Write(p []byte) (int, error) {
	// The standard logger always terminates records with a newline.
	s := strings.TrimSpace(string(p))
	if len(s) == 0 {
		return len(p), nil
	}

	switch w.lvl {
	case logging.ERROR:
		w.m.Error(s)
	case logging.WARNING:
		w.m.Warning(s)
	case logging.NOTICE:
		w.m.Notice(s)
	case logging.INFO:
		w.m.Info(s)
	case logging.DEBUG:
		w.m.Debug(s)
	default:
		w.m.Critical(s)
	}
	return len(p), nil
}
