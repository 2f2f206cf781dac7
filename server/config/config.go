// config.go - epochd configuration.
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

// Package config provides the epochd configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/idna"
)

const (
	defaultLogLevel         = "NOTICE"
	defaultManagementSocket = "management_sock"
	defaultCheckpointPeriod = 60

	// SnapshotFile is the name of the CBOR snapshot of the effective
	// configuration written under the DataDir.
	SnapshotFile = "config.cbor"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the epochd server configuration.
type Server struct {
	// Identifier is the human readable identifier for the node (eg: FQDN).
	Identifier string

	// DataDir is the absolute path to the server's state files.
	DataDir string

	// MetricsAddress is the address/port to bind the prometheus metrics
	// endpoint to.  If left empty metrics are not served.
	MetricsAddress string
}

func (sCfg *Server) validate() error {
	var result *multierror.Error

	if sCfg.Identifier == "" {
		result = multierror.Append(result, errors.New("config: Server: Identifier is not set"))
	} else {
		id, err := idna.Lookup.ToASCII(sCfg.Identifier)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("config: Server: Identifier '%v' is invalid: %v", sCfg.Identifier, err))
		} else {
			sCfg.Identifier = id
		}
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		result = multierror.Append(result, fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir))
	}
	if sCfg.MetricsAddress != "" {
		if _, err := netip.ParseAddrPort(sCfg.MetricsAddress); err != nil {
			result = multierror.Append(result, fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err))
		}
	}
	return result.ErrorOrNil()
}

// Consensus is the epoch schedule shared by every participant.
type Consensus struct {
	// CheckpointZeroTimestamp is the unix time in seconds at which epoch 0
	// begins.
	CheckpointZeroTimestamp int64

	// CheckpointsPeriod is the epoch length in seconds.  If omitted from the
	// config file the default is used, an explicit 0 is treated as 1.
	CheckpointsPeriod uint16
}

func (cCfg *Consensus) validate() error {
	if cCfg.CheckpointZeroTimestamp < 0 {
		return fmt.Errorf("config: Consensus: CheckpointZeroTimestamp '%v' is negative", cCfg.CheckpointZeroTimestamp)
	}
	return nil
}

// Period returns the epoch length as a time.Duration.
func (cCfg *Consensus) Period() time.Duration {
	return time.Duration(cCfg.CheckpointsPeriod) * time.Second
}

// Logging is the epochd logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Management is the epochd management interface configuration.
type Management struct {
	// Enable enables the management interface.
	Enable bool

	// Path specifies the path to the management interface socket.  If left
	// empty it will use `management_sock` under the DataDir.
	Path string
}

func (mCfg *Management) applyDefaults(sCfg *Server) {
	if mCfg.Path == "" {
		mCfg.Path = filepath.Join(sCfg.DataDir, defaultManagementSocket)
	}
}

func (mCfg *Management) validate() error {
	if !mCfg.Enable {
		return nil
	}
	if !filepath.IsAbs(mCfg.Path) {
		return fmt.Errorf("config: Management: Path '%v' is not an absolute path", mCfg.Path)
	}
	return nil
}

// Debug is the epochd debug configuration.
type Debug struct {
	// EnableProfiling starts the pyroscope profiler, when built with the
	// `pyroscope` tag.
	EnableProfiling bool

	// DisableAnnouncer stops the server from subscribing itself to every
	// epoch.
	DisableAnnouncer bool
}

// Config is the top level epochd configuration.
type Config struct {
	Server     *Server
	Consensus  *Consensus
	Logging    *Logging
	Management *Management

	Debug *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Server and Consensus sections are mandatory, everything else is
	// optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Consensus == nil {
		return errors.New("config: No Consensus block was present")
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Management == nil {
		cfg.Management = &Management{}
	}
	cfg.Management.applyDefaults(cfg.Server)

	var result *multierror.Error
	for _, fn := range []func() error{
		cfg.Server.validate,
		cfg.Consensus.validate,
		cfg.Logging.validate,
		cfg.Management.validate,
	} {
		if err := fn(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Store writes a CBOR snapshot of cfg to fileName on disk.
func Store(cfg *Config, fileName string) error {
	serialized, err := cbor.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, serialized, 0600)
}

// LoadSnapshot reads a CBOR snapshot written by Store.
func LoadSnapshot(fileName string) (*Config, error) {
	b, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	cfg := new(Config)
	if err = cbor.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if cfg.Consensus != nil && !md.IsDefined("Consensus", "CheckpointsPeriod") {
		cfg.Consensus.CheckpointsPeriod = defaultCheckpointPeriod
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
