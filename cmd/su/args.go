// Copyright (c) 2021, AT&T Intellectual Property.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package main

import (
	"fmt"
	"io"
	"os/user"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/danos/sud/rpc"
)

const defaultShell = "/bin/sh"

//Options is the resolved invocation: the request to transmit plus the
//short-circuit flags that never reach the daemon.
type Options struct {
	Req         rpc.Request
	Help        bool
	Version     bool
	VersionCode bool
}

//rewriteLegacyArgs replaces the option spellings the getopt-style grammar
//cannot express: -cn becomes -z and -mm becomes -M.
func rewriteLegacyArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch a {
		case "-cn":
			a = "-z"
		case "-mm":
			a = "-M"
		}
		out[i] = a
	}
	return out
}

//splitCommand carves off -c/--command and everything after it. The tail is
//the command argument list: option parsing never sees it, and no identity
//positional is consumed from it. A c ending a combined cluster of boolean
//shorts (-lc, -pc) starts the tail too; the rest of the cluster stays with
//the options.
func splitCommand(args []string) (opts, cmdArgs []string, found bool) {
	for i, a := range args {
		if a == "-c" || a == "--command" {
			return args[:i], args[i+1:], true
		}
		if boolCluster(a) && a[len(a)-1] == 'c' {
			opts = append(append(opts, args[:i]...), a[:len(a)-1])
			return opts, args[i+1:], true
		}
	}
	return args, nil, false
}

//boolCluster reports whether a is a combined short-option token made of
//flags that take no value, plus at most a trailing c. Value-taking shorts
//(-s, -z) absorb the rest of the token themselves and never start a
//command tail.
func boolCluster(a string) bool {
	if len(a) < 3 || a[0] != '-' || a[1] == '-' {
		return false
	}
	for _, r := range a[1 : len(a)-1] {
		if !strings.ContainsRune("lpmMhvV", r) {
			return false
		}
	}
	return true
}

//parseArgs resolves the invocation arguments into an Options. Any error is
//a usage error; the caller prints usage and exits 2.
func parseArgs(args []string) (*Options, error) {
	opts := &Options{Req: rpc.Request{Shell: defaultShell}}

	args = rewriteLegacyArgs(args)
	args, cmdArgs, hasCommand := splitCommand(args)

	var login, keepenv, keepenvLegacy, mountMaster bool
	var context string

	fs := flag.NewFlagSet("su", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVarP(&opts.Help, "help", "h", false, "display help and exit")
	fs.BoolVarP(&login, "login", "l", false, "pretend the shell to be a login shell")
	fs.BoolVarP(&keepenv, "preserve-environment", "p", false, "preserve the entire environment")
	fs.BoolVarP(&keepenvLegacy, "m", "m", false, "preserve the entire environment")
	fs.StringVarP(&opts.Req.Shell, "shell", "s", defaultShell, "use SHELL instead of the default")
	fs.BoolVarP(&opts.Version, "version", "v", false, "display version number and exit")
	fs.BoolVarP(&opts.VersionCode, "V", "V", false, "display version code and exit")
	fs.StringVarP(&context, "context", "z", "", "accepted and ignored")
	fs.BoolVarP(&mountMaster, "mount-master", "M", false, "force run in the global mount namespace")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	_ = context //legacy option, accepted and discarded

	if hasCommand {
		if len(cmdArgs) == 0 {
			return nil, fmt.Errorf("option requires an argument: -c")
		}
		//Single-space joined, no added quoting; the daemon's shell sees
		//the bytes exactly as typed.
		opts.Req.Command = strings.Join(cmdArgs, " ")
	}

	rest := fs.Args()
	if len(rest) > 0 && rest[0] == "-" {
		login = true
		rest = rest[1:]
	}
	if len(rest) > 0 {
		opts.Req.Uid = resolveUid(rest[0])
	}

	if login {
		opts.Req.Login = 1
	}
	if keepenv || keepenvLegacy {
		opts.Req.KeepEnv = 1
	}
	if mountMaster {
		opts.Req.MountMaster = 1
	}
	return opts, nil
}

//resolveUid turns the identity positional into a numeric id: passwd lookup
//by name first, then a plain numeric parse. Historical behavior, preserved:
//an unresolvable non-numeric name degrades to 0.
func resolveUid(name string) uint32 {
	if u, err := user.Lookup(name); err == nil {
		if id, err := strconv.ParseUint(u.Uid, 10, 32); err == nil {
			return uint32(id)
		}
	}
	id, _ := strconv.ParseUint(name, 10, 32)
	return uint32(id)
}
