// Copyright (c) 2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package client

import (
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

//quitSignals is the fixed termination set intercepted while a raw-mode
//input pump exists. One occurrence unwinds the session; dispositions are
//then reset so a second occurrence terminates the process normally.
var quitSignals = []os.Signal{
	unix.SIGALRM,
	unix.SIGABRT,
	unix.SIGHUP,
	unix.SIGPIPE,
	unix.SIGQUIT,
	unix.SIGTERM,
	unix.SIGINT,
}

//TermAttach records which of the process's standard streams are attached
//to a terminal. It is computed once at startup and drives both pty
//allocation and per-stream descriptor transfer.
type TermAttach struct {
	In  bool
	Out bool
	Err bool
}

//DetectTermAttach inspects the process's own standard streams.
func DetectTermAttach() TermAttach {
	return termAttach(os.Stdin, os.Stdout, os.Stderr)
}

func termAttach(in, out, errf *os.File) TermAttach {
	return TermAttach{
		In:  isatty.IsTerminal(in.Fd()),
		Out: isatty.IsTerminal(out.Fd()),
		Err: isatty.IsTerminal(errf.Fd()),
	}
}

//Any reports whether any stream is terminal-attached; exactly one pty pair
//exists for the invocation iff this is true.
func (a TermAttach) Any() bool {
	return a.In || a.Out || a.Err
}

//Session owns the local half of an accepted superuser session: the pty
//master, the standard streams being forwarded, and the saved terminal
//attributes the signal handler must restore. The handler closes over the
//session value; there is no file-scope terminal state.
type Session struct {
	Master *os.File
	Attach TermAttach

	in  *os.File
	out *os.File
	ef  *os.File

	mu    sync.Mutex
	saved *term.State //stdin attributes before raw mode, nil when not raw
}

//NewSession wraps the pty master and attachment flags for forwarding on
//the process's standard streams.
func NewSession(master *os.File, attach TermAttach) *Session {
	return &Session{
		Master: master,
		Attach: attach,
		in:     os.Stdin,
		out:    os.Stdout,
		ef:     os.Stderr,
	}
}

//Forward runs the forwarding phase. The input pump gets its own goroutine;
//the output pump blocks the caller until the daemon side closes the pty,
//which is the session-end signal. With no terminal-attached output stream
//there is nothing to block on and Forward returns once any input pump is
//started; with no attachment at all it is a no-op.
func (s *Session) Forward() {
	if s.Attach.In {
		s.makeRaw()
		s.watchSignals()
		go s.pumpInput()
	}
	if s.Attach.Out {
		done := make(chan struct{})
		s.watchWinch(done)
		s.pumpOutput()
		close(done)
	}
}

//pumpInput copies terminal input to the pty master until the input stream
//is closed or the master goes away.
func (s *Session) pumpInput() {
	io.Copy(s.Master, s.in)
}

//pumpOutput copies pty master output to the terminal. The copy ends with
//EIO once the daemon closes the last slave descriptor; that is the normal
//end of session, not an error.
func (s *Session) pumpOutput() {
	io.Copy(s.out, s.Master)
}

//makeRaw switches the input terminal to raw mode so keystrokes reach the
//pty unmodified. Failure leaves the terminal cooked; the pump still runs.
func (s *Session) makeRaw() {
	st, err := term.MakeRaw(int(s.in.Fd()))
	if err != nil {
		return
	}
	s.mu.Lock()
	s.saved = st
	s.mu.Unlock()
}

//Restore puts the input terminal back into its pre-invocation state. It is
//idempotent; every exit path, signal-triggered or not, goes through here
//before the process exits.
func (s *Session) Restore() {
	s.mu.Lock()
	st := s.saved
	s.saved = nil
	s.mu.Unlock()
	if st != nil {
		term.Restore(int(s.in.Fd()), st)
	}
}

//watchSignals intercepts the termination set for the lifetime of the raw
//input pump. On the first signal: restore the terminal, close the three
//standard streams and the pty master, then put the default dispositions
//back. Closing the master is what releases the output pump's blocked
//read; control then returns to the normal completion path, which reads
//the exit code and exits. An input pump stuck in a terminal read that
//never returns is reaped by process exit.
func (s *Session) watchSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, quitSignals...)
	go func() {
		<-ch
		s.Restore()
		s.in.Close()
		s.out.Close()
		s.ef.Close()
		if s.Master != nil {
			s.Master.Close()
		}
		signal.Reset(quitSignals...)
	}()
}

//watchWinch applies the local terminal's size to the pty master and keeps
//it applied on every SIGWINCH until the output pump finishes, so the
//remote command observes correct dimensions.
func (s *Session) watchWinch(done chan struct{}) {
	pty.InheritSize(s.out, s.Master)
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, unix.SIGWINCH)
	go func() {
		defer signal.Stop(sigwinch)
		for {
			select {
			case <-sigwinch:
				pty.InheritSize(s.out, s.Master)
			case <-done:
				return
			}
		}
	}()
}
