// Package bpffilter compiles tcpdump filter expressions for the sources.
package bpffilter

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/festats/internal/core"
)

// Compile compiles expr for Ethernet frames captured with snapLen bytes.
func Compile(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: compile BPF filter %q: %v", core.ErrConfigInvalid, expr, err)
	}

	// Code->Op, Jt, Jf, K map one to one.
	raw := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		raw[i] = bpf.RawInstruction{
			Op: insn.Code,
			Jt: insn.Jt,
			Jf: insn.Jf,
			K:  insn.K,
		}
	}
	return raw, nil
}

// Matcher runs a compiled filter in user space, for sources the kernel
// does not filter.
type Matcher struct {
	vm *bpf.VM
}

// NewMatcher compiles expr into a Matcher.
func NewMatcher(expr string, snapLen int) (*Matcher, error) {
	raw, err := Compile(expr, snapLen)
	if err != nil {
		return nil, err
	}
	insns := make([]bpf.Instruction, len(raw))
	for i, r := range raw {
		insns[i] = r.Disassemble()
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("%w: load BPF program %q: %v", core.ErrConfigInvalid, expr, err)
	}
	return &Matcher{vm: vm}, nil
}

// Match reports whether the filter accepts frame.
func (m *Matcher) Match(frame []byte) bool {
	n, err := m.vm.Run(frame)
	return err == nil && n > 0
}
