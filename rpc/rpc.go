// Copyright (c) 2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

//Kind is an enumeration used to identify the sub-protocols multiplexed on
//the daemon's main socket. It is the first integer written on a connection.
type Kind uint32

const (
	KindNothing Kind = iota
	KindSuperuser
	KindVersion
	KindVersionCode
)

//kindMap allows pretty printing of Kind values
var kindMap = map[Kind]string{
	KindNothing:     "Nothing",
	KindSuperuser:   "Superuser",
	KindVersion:     "Version",
	KindVersionCode: "VersionCode",
}

func (k Kind) String() string {
	if s, ok := kindMap[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

//Decision values returned by the daemon after it has seen the full request.
const (
	Accepted uint32 = 0
)

//maxStringLen bounds decoded strings; it matches the kernel's argument
//size limit, which also bounds everything the client can legitimately send.
const maxStringLen = 128 * 1024

//Request represents a superuser session request. The four integer fields
//travel as one contiguous 16 byte block, in declaration order; Shell and
//Command follow as length-prefixed strings. It is built once per invocation
//and not modified afterwards.
type Request struct {
	//Uid is the target identity for the escalated command
	Uid uint32
	//Login is nonzero when the shell should behave as a login shell
	Login uint32
	//KeepEnv is nonzero when the caller's environment is preserved
	KeepEnv uint32
	//MountMaster is nonzero to force the global mount namespace
	MountMaster uint32
	//Shell is the shell the daemon invokes for the session
	Shell string
	//Command is handed to the shell verbatim; "" means interactive shell
	Command string
}

//WriteUint32 writes a single little-endian u32.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

//ReadUint32 reads a single little-endian u32. A short read is fatal to the
//session and is returned as-is; the caller does not resynchronize.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

//WriteString writes a length-prefixed string: u32 byte count, raw bytes,
//no terminator. The bytes are transmitted verbatim, no quoting or escaping.
func WriteString(w io.Writer, s string) error {
	if err := WriteUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

//ReadString reads a length-prefixed string.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds protocol limit", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

//Encode writes the request header block followed by the shell and command
//strings. The header is a single write so a conforming daemon may read it
//with one fixed-size read.
func (req *Request) Encode(w io.Writer) error {
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:], req.Uid)
	binary.LittleEndian.PutUint32(hdr[4:], req.Login)
	binary.LittleEndian.PutUint32(hdr[8:], req.KeepEnv)
	binary.LittleEndian.PutUint32(hdr[12:], req.MountMaster)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if err := WriteString(w, req.Shell); err != nil {
		return err
	}
	return WriteString(w, req.Command)
}

//DecodeRequest is Encode's inverse. The client never calls it; it exists
//for the daemon side of the protocol and for tests standing in for one.
func DecodeRequest(r io.Reader) (*Request, error) {
	var req Request
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	req.Uid = binary.LittleEndian.Uint32(hdr[0:])
	req.Login = binary.LittleEndian.Uint32(hdr[4:])
	req.KeepEnv = binary.LittleEndian.Uint32(hdr[8:])
	req.MountMaster = binary.LittleEndian.Uint32(hdr[12:])

	var err error
	req.Shell, err = ReadString(r)
	if err != nil {
		return nil, err
	}
	req.Command, err = ReadString(r)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
