// Copyright (c) 2021, AT&T Intellectual Property.
// All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/danos/sud/rpc"
)

//listen sets up a daemon-side listener on a throwaway socket path.
func listen(t *testing.T) (string, *net.UnixListener) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "main.sock")
	addr, err := net.ResolveUnixAddr("unix", sock)
	if err != nil {
		t.Fatalf("resolve: %s", err)
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	t.Cleanup(func() { l.Close() })
	return sock, l
}

//accept runs the supplied stub daemon against the next connection.
func accept(t *testing.T, l *net.UnixListener, stub func(*net.UnixConn)) {
	t.Helper()
	go func() {
		conn, err := l.AcceptUnix()
		if err != nil {
			return
		}
		defer conn.Close()
		stub(conn)
	}()
}

func TestDialSendsSessionTag(t *testing.T) {
	sock, l := listen(t)
	tag := make(chan uint32, 1)
	accept(t, l, func(conn *net.UnixConn) {
		v, err := rpc.ReadUint32(conn)
		if err != nil {
			t.Errorf("read tag: %s", err)
		}
		tag <- v
	})

	c, err := Dial(sock, rpc.KindSuperuser)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer c.Close()

	if v := <-tag; v != uint32(rpc.KindSuperuser) {
		t.Fatalf("expected tag %d, got %d", rpc.KindSuperuser, v)
	}
}

func TestDialUnreachableDaemon(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "nobody-home.sock")
	if _, err := Dial(sock, rpc.KindSuperuser); err == nil {
		t.Fatalf("expected connection error for missing daemon")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	sock, l := listen(t)

	type seen struct {
		req *rpc.Request
		pts string
	}
	got := make(chan seen, 1)
	accept(t, l, func(conn *net.UnixConn) {
		if _, err := rpc.ReadUint32(conn); err != nil {
			t.Errorf("tag: %s", err)
			return
		}
		req, err := rpc.DecodeRequest(conn)
		if err != nil {
			t.Errorf("request: %s", err)
			return
		}
		pts, err := rpc.ReadString(conn)
		if err != nil {
			t.Errorf("pts: %s", err)
			return
		}
		for i := 0; i < 3; i++ {
			f, err := RecvFd(conn)
			if err != nil {
				t.Errorf("stream %d: %s", i, err)
				return
			}
			if f != nil {
				t.Errorf("stream %d: expected sentinel, got descriptor", i)
				f.Close()
			}
		}
		rpc.WriteUint32(conn, rpc.Accepted)
		rpc.WriteUint32(conn, 7)
		got <- seen{req: req, pts: pts}
	})

	c, err := Dial(sock, rpc.KindSuperuser)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer c.Close()

	req := &rpc.Request{Uid: 0, Login: 1, Shell: "/bin/sh", Command: "id"}
	if err := c.SendRequest(req); err != nil {
		t.Fatalf("send request: %s", err)
	}
	if err := c.SendPts("/dev/pts/3"); err != nil {
		t.Fatalf("send pts: %s", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.SendTty(); err != nil {
			t.Fatalf("send stream %d: %s", i, err)
		}
	}

	ok, err := c.Decision()
	if err != nil {
		t.Fatalf("decision: %s", err)
	}
	if !ok {
		t.Fatalf("expected accepted session")
	}
	code, err := c.ExitCode()
	if err != nil {
		t.Fatalf("exit code: %s", err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}

	s := <-got
	if *s.req != *req {
		t.Fatalf("daemon saw %+v, expected %+v", s.req, req)
	}
	if s.pts != "/dev/pts/3" {
		t.Fatalf("daemon saw pts %q, expected /dev/pts/3", s.pts)
	}
}

func TestDeniedSession(t *testing.T) {
	sock, l := listen(t)
	accept(t, l, func(conn *net.UnixConn) {
		rpc.ReadUint32(conn) //tag
		rpc.DecodeRequest(conn)
		rpc.ReadString(conn) //pts
		for i := 0; i < 3; i++ {
			RecvFd(conn)
		}
		rpc.WriteUint32(conn, 1) //deny
	})

	c, err := Dial(sock, rpc.KindSuperuser)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer c.Close()

	if err := c.SendRequest(&rpc.Request{Shell: "/bin/sh"}); err != nil {
		t.Fatalf("send request: %s", err)
	}
	if err := c.SendPts(""); err != nil {
		t.Fatalf("send pts: %s", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.SendTty(); err != nil {
			t.Fatalf("send stream %d: %s", i, err)
		}
	}

	ok, err := c.Decision()
	if err != nil {
		t.Fatalf("decision: %s", err)
	}
	if ok {
		t.Fatalf("expected denied session")
	}
}

//TestDescriptorTransfer passes a live pipe descriptor and has the stub
//daemon write through it: the receiver holds an independent capability to
//the same open file.
func TestDescriptorTransfer(t *testing.T) {
	sock, l := listen(t)
	accept(t, l, func(conn *net.UnixConn) {
		rpc.ReadUint32(conn) //tag
		f, err := RecvFd(conn)
		if err != nil {
			t.Errorf("recv fd: %s", err)
			return
		}
		if f == nil {
			t.Errorf("expected a descriptor, got sentinel")
			return
		}
		f.Write([]byte("from daemon"))
		f.Close()
	})

	c, err := Dial(sock, rpc.KindSuperuser)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer c.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %s", err)
	}
	defer r.Close()

	if err := c.SendFd(w); err != nil {
		t.Fatalf("send fd: %s", err)
	}
	//The daemon's close must not affect the local copy, and vice versa.
	w.Close()

	buf, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read pipe: %s", err)
	}
	if string(buf) != "from daemon" {
		t.Fatalf("expected %q, got %q", "from daemon", buf)
	}
}

func TestSentinelCarriesNoDescriptor(t *testing.T) {
	sock, l := listen(t)
	got := make(chan *os.File, 1)
	accept(t, l, func(conn *net.UnixConn) {
		rpc.ReadUint32(conn) //tag
		f, err := RecvFd(conn)
		if err != nil {
			t.Errorf("recv fd: %s", err)
		}
		got <- f
	})

	c, err := Dial(sock, rpc.KindSuperuser)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer c.Close()

	if err := c.SendTty(); err != nil {
		t.Fatalf("send tty: %s", err)
	}
	if f := <-got; f != nil {
		f.Close()
		t.Fatalf("sentinel transfer delivered a descriptor")
	}
}
