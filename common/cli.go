// cli.go - Command line helpers.
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

// Package common provides helpers shared by the epochd commands.
package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// ExecuteWithFang runs cmd with fang, exiting the process with a non-zero
// status on failure.
func ExecuteWithFang(cmd *cobra.Command) {
	if err := fang.Execute(
		context.Background(),
		cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(ErrorHandlerWithUsage(cmd)),
	); err != nil {
		os.Exit(1)
	}
}

// ErrorHandlerWithUsage renders errors, and prints the usage for errors
// caused by the command line itself.
func ErrorHandlerWithUsage(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if IsUsageError(err) {
			cmd.SetOut(colorprofile.NewWriter(w, os.Environ()))
			cmd.HelpFunc()(cmd, []string{})
			return
		}

		_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
			lipgloss.Left,
			styles.ErrorText.UnsetWidth().Render("Try"),
			styles.Program.Flag.Render("--help"),
			styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
		))
		_, _ = fmt.Fprintln(w)
	}
}

// IsUsageError returns true iff err was caused by invalid command line
// usage, as opposed to a runtime failure.
func IsUsageError(err error) bool {
	s := err.Error()
	for _, prefix := range []string{
		"flag needs an argument:",
		"unknown flag:",
		"unknown shorthand flag:",
		"unknown command",
		"invalid argument",
		"required flag",
		"accepts",
		"arg(s), received",
		"failed to load config file",
	} {
		if strings.Contains(s, prefix) {
			return true
		}
	}
	return false
}
