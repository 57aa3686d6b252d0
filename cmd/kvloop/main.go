// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

// kvloop is a single-threaded TCP echo server built on the ae event
// loop, tracking its clients in a dict.Dict.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}
