// Copyright (c) 2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

//Package pty allocates the client half of a pseudo-terminal pair: the
//master descriptor stays local, the slave is identified by device path
//only. The daemon opens the slave itself, so the two processes never share
//an open file description for the terminal, and the master reliably reports
//end-of-stream once the daemon's side is closed.
package pty

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

//Open allocates a pseudo-terminal and returns the master along with the
//slave's device path. The slave is unlocked but deliberately not opened;
//holding a local slave descriptor would keep the master readable forever
//and mask the session-end EOF.
func Open() (*os.File, string, error) {
	master, err := os.OpenFile("/dev/ptmx",
		os.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, "", err
	}

	sname, err := ptsname(master)
	if err != nil {
		master.Close()
		return nil, "", err
	}

	if err := unlockpt(master); err != nil {
		master.Close()
		return nil, "", err
	}
	return master, sname, nil
}

func ptsname(f *os.File) (string, error) {
	n, err := unix.IoctlGetInt(int(f.Fd()), unix.TIOCGPTN)
	if err != nil {
		return "", err
	}
	return "/dev/pts/" + strconv.Itoa(n), nil
}

func unlockpt(f *os.File) error {
	return unix.IoctlSetPointerInt(int(f.Fd()), unix.TIOCSPTLCK, 0)
}
