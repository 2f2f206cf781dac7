// main.go - epochd binary.
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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/epochd/common"
	"github.com/katzenpost/epochd/server"
	"github.com/katzenpost/epochd/server/config"
)

// Config holds the command line configuration.
type Config struct {
	ConfigFile   string
	ValidateOnly bool
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "epochd",
		Short: "Epoch and checkpoint time service",
		Long: `epochd converts wall clock time into a monotonically increasing epoch
counter, starting at the configured checkpoint zero timestamp and advancing
once every checkpoint period.

Every epoch is announced in the log and exported as a prometheus metric, and
the current epoch, epoch start times and the time till the next checkpoint can
be queried over the management socket.`,
		Example: `  # Start epochd with the default configuration file
  epochd

  # Start epochd with a custom configuration file
  epochd -f /etc/epochd/epochd.toml

  # Validate a configuration file without starting the service
  epochd -f /etc/epochd/epochd.toml --validate-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "epochd.toml",
		"path to the configuration file (TOML format)")
	cmd.Flags().BoolVar(&cfg.ValidateOnly, "validate-only", false,
		"validate the configuration file and exit")

	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func run(cmd *cobra.Command, cfg Config) error {
	serverCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	if cfg.ValidateOnly {
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file '%v' is valid.\n", cfg.ConfigFile)
		return nil
	}

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	svr, err := server.New(serverCfg)
	if err != nil {
		return fmt.Errorf("failed to spawn server instance: %v", err)
	}
	defer svr.Shutdown()

	// Halt the server gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		svr.Shutdown()
	}()

	// Rotate server logs upon SIGHUP.
	go func() {
		for range rotateCh {
			svr.RotateLog()
		}
	}()

	// Wait for the server to explode or be terminated.
	svr.Wait()
	return nil
}
