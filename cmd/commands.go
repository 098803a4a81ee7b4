// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package cmd assembles the saplcore-pdp command-line tool, grounded on
// the teacher's cmd/commands.go composition shape: one root *cobra.Command
// built up by a sequence of init* functions, each adding one subcommand.
package cmd

import (
	"github.com/spf13/cobra"
)

// Command returns the saplcore-pdp root command, composing every
// subcommand the way the teacher's Command(rootCommand, brand) does.
func Command(rootCommand *cobra.Command) *cobra.Command {
	if rootCommand == nil {
		rootCommand = &cobra.Command{
			Use:   "pdp",
			Short: "saplcore policy decision point",
			Long:  "A standalone Policy Decision Point: evaluate authorization subscriptions against ABAC policies, or serve them over HTTP.",
		}
	}

	initEval(rootCommand)
	initServe(rootCommand)
	initVersion(rootCommand)
	return rootCommand
}
