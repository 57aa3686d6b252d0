// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package main

import "flag"

// Options holds CLI options.
type Options struct {
	ConfigPath string
	Listen     string
	Backend    string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("kvloop", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Listen, "listen", "", "Override the listen address")
	fs.StringVar(&opts.Backend, "backend", "", "Override the readiness backend")
	_ = fs.Parse(args)
	return opts
}
