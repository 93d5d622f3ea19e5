//go:build linux

// Package xdpprog holds the packet classifier: a bounds-checked,
// allocation-free parser that mirrors the shape an in-kernel XDP
// verifier requires, plus the cilium/ebpf wiring that loads and
// attaches the compiled program to a real interface.
package xdpprog

import (
	"github.com/fusetim/ipcanvas/internal/prefix"
)

const (
	ethHeaderLen  = 14
	ethTypeOffset = 12
	etherTypeIPv6 = 0x86DD

	ipv6HeaderLen     = 40
	ipv6NextHeaderOff = 6
	ipv6SrcOff        = 8
	ipv6DstOff        = 24
	nextHeaderICMPv6  = 58

	icmpv6TypeOff     = 0
	icmpv6EchoRequest = 128
)

// RecordSize is the width, in bytes, of one emitted PingRecord.
const RecordSize = 32

// Verdict is the classifier's decision for one frame.
type Verdict int

const (
	// VerdictPass means the frame did not match and must continue
	// unmodified through the normal stack.
	VerdictPass Verdict = iota
	// VerdictMatch means the frame matched; Classify also returns the
	// Record to enqueue. The frame still passes through unmodified —
	// matching never drops or rewrites the packet itself.
	VerdictMatch
	// VerdictAbort means a bounds check failed or the classifier's
	// prefix cell was never populated: a configuration or
	// verifier-discipline failure, never a normal parse outcome.
	VerdictAbort
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictMatch:
		return "match"
	case VerdictAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Record is the 32-byte source+destination pair emitted on a match.
type Record struct {
	Source      [16]byte
	Destination [16]byte
}

// Bytes packs the record into the exact wire layout consumed by the
// kernel/user queue: 16 bytes source followed by 16 bytes destination,
// both already in network byte order as read from the IPv6 header.
func (r Record) Bytes() [RecordSize]byte {
	var out [RecordSize]byte
	copy(out[0:16], r.Source[:])
	copy(out[16:32], r.Destination[:])
	return out
}

// Classify runs the classifier's fixed pipeline against one frame:
// Ethernet -> IPv6 -> ICMPv6 -> prefix match. It never allocates,
// blocks, or panics; every access is bounds-checked against len(frame)
// first, standing in for the per-packet end pointer an XDP verifier
// enforces.
//
// configured reports whether the prefix cell has been populated; the
// loader, standing in for the classifier's process-wide single-slot
// cell, must supply it on every call.
func Classify(frame []byte, configured bool, p prefix.Prefix) (Verdict, Record) {
	if len(frame) < ethHeaderLen {
		return VerdictAbort, Record{}
	}
	etherType := uint16(frame[ethTypeOffset])<<8 | uint16(frame[ethTypeOffset+1])
	if etherType != etherTypeIPv6 {
		return VerdictPass, Record{}
	}

	ipStart := ethHeaderLen
	if len(frame) < ipStart+ipv6HeaderLen {
		return VerdictAbort, Record{}
	}
	nextHeader := frame[ipStart+ipv6NextHeaderOff]
	if nextHeader != nextHeaderICMPv6 {
		return VerdictPass, Record{}
	}

	icmpStart := ipStart + ipv6HeaderLen
	if len(frame) < icmpStart+1 {
		return VerdictAbort, Record{}
	}
	if frame[icmpStart+icmpv6TypeOff] != icmpv6EchoRequest {
		return VerdictPass, Record{}
	}

	var rec Record
	copy(rec.Source[:], frame[ipStart+ipv6SrcOff:ipStart+ipv6SrcOff+16])
	copy(rec.Destination[:], frame[ipStart+ipv6DstOff:ipStart+ipv6DstOff+16])

	if !configured {
		return VerdictAbort, Record{}
	}

	if !prefix.Matches(p, rec.Destination) {
		return VerdictPass, Record{}
	}

	return VerdictMatch, rec
}
