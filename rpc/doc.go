// Copyright (c) 2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
	Package rpc defines the wire protocol spoken between the su client and
	the sud daemon over the daemon's main socket.

	A connection begins with a session tag (Kind) selecting the sub-protocol;
	everything after the tag belongs to that sub-protocol. For KindSuperuser
	the sequence is fixed and carries no framing beyond its own field order:

		u32 tag
		u32[4] request header {uid, login, keepenv, mountmaster}
		string shell
		string command
		string pty slave path ("" when no pty)
		3 x descriptor transfer (stdin, stdout, stderr)
		u32 decision (0 accepted, nonzero denied)
		u32 exit status (accepted sessions only, after forwarding ends)

	Integers are little-endian. A string is a u32 byte count followed by the
	raw bytes. There is no resynchronization: a short read or write anywhere
	in the sequence ends the session.

	This package holds the types and the integer/string codec. Descriptor
	transfer needs the socket's ancillary channel and lives with the
	connection in the client package.
*/
package rpc
