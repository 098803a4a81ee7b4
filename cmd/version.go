// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags, following the teacher's own
// version-stamping convention (internal/version).
var Version = "dev"

func initVersion(root *cobra.Command) {
	c := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(*cobra.Command, []string) error {
			fmt.Println(Version)
			return nil
		},
	}
	root.AddCommand(c)
}
