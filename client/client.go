// Copyright (c) 2021, AT&T Intellectual Property.
// All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/danos/sud/rpc"
	"golang.org/x/sys/unix"
)

//Client represents one superuser session against the sud daemon. The
//connection is owned exclusively by the client for the session's lifetime;
//it carries the request, the transferred descriptors, the daemon's decision
//and finally the remote exit status. It is not safe for concurrent use,
//which the protocol's fixed sequence makes pointless anyway.
type Client struct {
	conn *net.UnixConn
}

//Dial connects to the daemon at the supplied socket path and writes the
//session tag selecting the sub-protocol. Only unix sockets are supported
//since the daemon uses SO_PEERCRED to identify the caller. There is no
//retry: without the daemon the invocation cannot proceed.
func Dial(sockpath string, kind rpc.Kind) (*Client, error) {
	addr, err := net.ResolveUnixAddr("unix", sockpath)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	if err := rpc.WriteUint32(conn, uint32(kind)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session tag: %w", err)
	}
	return &Client{conn: conn}, nil
}

//Close the client's connection
func (c *Client) Close() {
	c.conn.Close()
}

//SendRequest transmits the fixed request header and the shell and command
//strings.
func (c *Client) SendRequest(req *rpc.Request) error {
	if err := req.Encode(c.conn); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	return nil
}

//SendPts transmits the pty slave device path. The daemon opens the slave
//itself; passing the path instead of a descriptor keeps the two processes
//from sharing an open file description for the terminal. An empty path
//means the session is fully redirected and no pty exists.
func (c *Client) SendPts(path string) error {
	if err := rpc.WriteString(c.conn, path); err != nil {
		return fmt.Errorf("pts path: %w", err)
	}
	return nil
}

//SendFd transfers a standard stream's descriptor to the daemon. The
//receiver gets an independent capability to the same open file; closing it
//there does not affect the descriptor here.
func (c *Client) SendFd(f *os.File) error {
	return c.sendStream(1, f)
}

//SendTty sends the sentinel telling the daemon to wire the stream to its
//own opening of the pty slave instead of a transferred descriptor.
func (c *Client) SendTty() error {
	return c.sendStream(0, nil)
}

//sendStream writes the u32 transfer flag, with the descriptor riding the
//same message as SCM_RIGHTS ancillary data when one is being passed.
func (c *Client) sendStream(flag uint32, f *os.File) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], flag)

	var oob []byte
	if f != nil {
		oob = unix.UnixRights(int(f.Fd()))
	}
	n, _, err := c.conn.WriteMsgUnix(b[:], oob, nil)
	if err != nil {
		return fmt.Errorf("descriptor transfer: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("descriptor transfer: %w", io.ErrShortWrite)
	}
	return nil
}

//Decision blocks for the daemon's accept/deny reply. Nothing may be
//forwarded before this returns true.
func (c *Client) Decision() (bool, error) {
	v, err := rpc.ReadUint32(c.conn)
	if err != nil {
		return false, fmt.Errorf("decision: %w", err)
	}
	return v == rpc.Accepted, nil
}

//ExitCode blocks for the remote command's exit status. For accepted
//sessions this is the last integer on the wire.
func (c *Client) ExitCode() (int, error) {
	v, err := rpc.ReadUint32(c.conn)
	if err != nil {
		return -1, fmt.Errorf("exit code: %w", err)
	}
	return int(v), nil
}

//RecvFd reads one descriptor transfer from the receiving end of the
//protocol. It returns a nil file for the pty sentinel. The client never
//calls it; it exists for the daemon side and for tests standing in for one.
func RecvFd(conn *net.UnixConn) (*os.File, error) {
	var b [4]byte
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(b[:], oob)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, io.ErrUnexpectedEOF
	}
	if binary.LittleEndian.Uint32(b[:]) == 0 {
		return nil, nil
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, err
	}
	if len(scms) != 1 {
		return nil, fmt.Errorf("descriptor transfer: %d control messages", len(scms))
	}
	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return nil, err
	}
	if len(fds) != 1 {
		return nil, fmt.Errorf("descriptor transfer: %d descriptors", len(fds))
	}
	return os.NewFile(uintptr(fds[0]), "stream"), nil
}
