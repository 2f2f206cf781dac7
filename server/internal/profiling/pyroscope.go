//go:build pyroscope

// pyroscope.go - Continuous profiling.
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

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start starts the pyroscope profiler, tagging every profile with the
// server identifier.  The returned function stops the profiler.
func Start(log *logging.Logger, identifier string) (func() error, error) {
	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return nil, errors.New("profiling: PYROSCOPE_SERVER_ADDRESS is not set")
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = "epochd"
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          log,
		Tags: map[string]string{
			"service": identifier,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Noticef("Pyroscope started: %v (app: %v, service: %v)", serverAddress, appName, identifier)
	return p.Stop, nil
}
