//go:build linux

package xdpprog

import (
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/fusetim/ipcanvas/internal/prefix"
)

// Loader attaches the compiled classifier object to one network
// interface and keeps the handles needed to read its ring buffer and
// repopulate its prefix cell. The classifier's own parsing logic
// (Classify, above) is expressed here as the pure-Go reference the
// compiled C program must match bit-for-bit; this type only owns the
// kernel-side wiring, not the parsing.
//
// Building the actual SEC("xdp") object requires clang/llvm and is
// outside what this module compiles; Loader expects objPath to point
// at an already-compiled ELF (see cmd/ipcanvas-ping).
type Loader struct {
	coll    *ebpf.Collection
	link    link.Link
	prefix  *ebpf.Map
	records *ebpf.Map
}

// LoaderConfig names the compiled object and the interface to attach
// it to.
type LoaderConfig struct {
	ObjectPath     string
	Interface      string
	PrefixMapName  string
	RecordMapName  string
	ProgramSection string
}

// DefaultLoaderConfig fills in the map/program names the classifier's
// compiled object is expected to export.
func DefaultLoaderConfig(objPath, iface string) LoaderConfig {
	return LoaderConfig{
		ObjectPath:     objPath,
		Interface:      iface,
		PrefixMapName:  "prefix_cell",
		RecordMapName:  "ping_records",
		ProgramSection: "xdp",
	}
}

// Load reads the compiled object, loads it into the kernel, and
// attaches its xdp program to cfg.Interface. It removes the process
// memlock limit first, since the eBPF verifier accounts pinned map
// memory against it on older kernels.
func Load(cfg LoaderConfig) (*Loader, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("ipcanvas: remove memlock rlimit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("ipcanvas: load classifier object %q: %w", cfg.ObjectPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("ipcanvas: instantiate classifier collection: %w", err)
	}

	prog, ok := coll.Programs[cfg.ProgramSection]
	if !ok {
		coll.Close()
		return nil, fmt.Errorf("ipcanvas: classifier object has no %q program", cfg.ProgramSection)
	}

	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("ipcanvas: lookup interface %q: %w", cfg.Interface, err)
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: ifi.Index,
	})
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("ipcanvas: attach xdp program to %q: %w", cfg.Interface, err)
	}

	prefixMap, ok := coll.Maps[cfg.PrefixMapName]
	if !ok {
		l.Close()
		coll.Close()
		return nil, fmt.Errorf("ipcanvas: classifier object has no %q map", cfg.PrefixMapName)
	}
	recordMap, ok := coll.Maps[cfg.RecordMapName]
	if !ok {
		l.Close()
		coll.Close()
		return nil, fmt.Errorf("ipcanvas: classifier object has no %q map", cfg.RecordMapName)
	}

	return &Loader{coll: coll, link: l, prefix: prefixMap, records: recordMap}, nil
}

// SetPrefix writes p into the classifier's single-slot prefix cell
// using the exact 17-byte wire layout spec.md §4.1 defines, so the
// compiled program and this Go loader agree on layout without sharing
// a struct definition.
func (ld *Loader) SetPrefix(p prefix.Prefix) error {
	key := uint32(0)
	wire := p.Bytes()
	if err := ld.prefix.Update(&key, &wire, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("ipcanvas: populate prefix cell: %w", err)
	}
	return nil
}

// RecordMap returns the ring buffer map the classifier emits matches
// to, for use with queue.NewRingbufReader.
func (ld *Loader) RecordMap() *ebpf.Map { return ld.records }

// Close detaches the program and releases the collection's maps and
// programs.
func (ld *Loader) Close() error {
	linkErr := ld.link.Close()
	ld.coll.Close()
	return linkErr
}
