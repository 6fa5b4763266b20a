// Copyright (c) 2021, AT&T Intellectual Property.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
Su is the client half of the sud privilege escalation service. It resolves
the invocation into a session request, negotiates execution with the
already-running sud daemon over the daemon's main socket, and forwards the
caller's terminal (or redirected standard streams) to the remotely executing
command until it exits.

Usage:
	su [options] [-] [user [argument...]]

The daemon makes the authorization decision and runs the command; this
program's own exit status is the remote command's exit status, 2 on a usage
error, or 1 when the daemon denies the request or the session fails.
*/
package main

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/danos/sud/client"
	"github.com/danos/sud/pty"
	"github.com/danos/sud/rpc"
)

const (
	version     = "1.2"
	versionCode = 120

	defaultSocket = "/var/run/sud/main.sock"

	exitDenied = 1
	exitUsage  = 2
)

func usage(w io.Writer) {
	fmt.Fprintf(w,
		"sud v%s(%d)\n\n"+
			"Usage: su [options] [-] [user [argument...]]\n\n"+
			"Options:\n"+
			"  -c, --command COMMAND         pass COMMAND to the invoked shell\n"+
			"  -h, --help                    display this help message and exit\n"+
			"  -, -l, --login                pretend the shell to be a login shell\n"+
			"  -m, -p,\n"+
			"  --preserve-environment        preserve the entire environment\n"+
			"  -s, --shell SHELL             use SHELL instead of the default %s\n"+
			"  -v, --version                 display version number and exit\n"+
			"  -V                            display version code and exit\n"+
			"  -mm, -M,\n"+
			"  --mount-master                force run in the global mount namespace\n",
		version, versionCode, defaultShell)
}

func main() {
	var exit int

	/*Setup exit handling magic so defers will be run*/
	defer func() { os.Exit(exit) }()

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "su: %s\n", err)
		usage(os.Stderr)
		exit = exitUsage
		return
	}

	switch {
	case opts.Help:
		usage(os.Stdout)
		return
	case opts.Version:
		fmt.Printf("%s:SUD\n", version)
		return
	case opts.VersionCode:
		fmt.Printf("%d\n", versionCode)
		return
	}

	exit, err = Run(opts, defaultSocket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "su: %s\n", err)
	}
}

//Run drives one session against the daemon at the supplied socket:
//connect and tag, allocate a pty if any standard stream is a terminal,
//transmit the request and descriptors, block for the decision, forward the
//terminal for the session's duration, and reap the remote exit status.
func Run(opts *Options, socket string) (int, error) {
	attach := client.DetectTermAttach()

	c, err := client.Dial(socket, rpc.KindSuperuser)
	if err != nil {
		return 1, err
	}
	defer c.Close()

	//A local pty allocation failure aborts here, before the daemon has
	//seen a request it would otherwise be left waiting to service.
	var master *os.File
	var pts string
	if attach.Any() {
		master, pts, err = pty.Open()
		if err != nil {
			return 1, err
		}
		defer master.Close()
	}

	if err := c.SendRequest(&opts.Req); err != nil {
		return 1, err
	}
	if err := c.SendPts(pts); err != nil {
		return 1, err
	}
	if err := sendStream(c, os.Stdin, attach.In); err != nil {
		return 1, err
	}
	if err := sendStream(c, os.Stdout, attach.Out); err != nil {
		return 1, err
	}
	if err := sendStream(c, os.Stderr, attach.Err); err != nil {
		return 1, err
	}

	ok, err := c.Decision()
	if err != nil {
		return 1, err
	}
	if !ok {
		/*Fast fail: nothing further is sent on a denied session*/
		fmt.Fprintf(os.Stderr, "%s\n", syscall.EACCES.Error())
		return exitDenied, nil
	}

	if attach.Any() {
		sess := client.NewSession(master, attach)
		defer sess.Restore()
		sess.Forward()
	}

	code, err := c.ExitCode()
	if err != nil {
		return 1, err
	}
	return code, nil
}

//sendStream transfers a standard stream: terminal-attached streams are
//replaced by the pty sentinel, everything else goes across as the real
//descriptor so ordinary redirection keeps working.
func sendStream(c *client.Client, f *os.File, tty bool) error {
	if tty {
		return c.SendTty()
	}
	return c.SendFd(f)
}
