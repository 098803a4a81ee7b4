// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/saplcore/pdp/cmd"
)

func main() {
	if err := cmd.Command(nil).Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
