package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decoder"
	"firestige.xyz/festats/internal/core/flowhash"
)

var hashHex string

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Parse one Ethernet frame and print its hash bundle",
	Long: `Parse one hex-encoded Ethernet frame and print the address hashes at
every wildcard level, the ports, the combined hash and the parse status.

Examples:
  festats hash --hex 0011223344550a0b0c0d0e0f0800450000...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHash(cmd.OutOrStdout(), hashHex)
	},
}

func init() {
	hashCmd.Flags().StringVar(&hashHex, "hex", "", "frame bytes in hex, spaces and colons ignored (required)")
	hashCmd.MarkFlagRequired("hex")
}

func runHash(out io.Writer, in string) error {
	data, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(in))
	if err != nil {
		return fmt.Errorf("decode hex frame: %w", err)
	}

	pkt, err := decoder.Decode(data)
	if err != nil {
		fmt.Fprintf(out, "status: %s (%d)\n", core.StatusOf(err), core.StatusOf(err))
		return err
	}
	b := flowhash.Generate(&pkt)

	fmt.Fprintf(out, "src: %s port %d\n", pkt.IP.SrcIP, pkt.Transport.SrcPort)
	fmt.Fprintf(out, "dst: %s port %d\n", pkt.IP.DstIP, pkt.Transport.DstPort)
	fmt.Fprintf(out, "protocol: %d\n", pkt.IP.Protocol)
	for l := flowhash.LevelExact; l < flowhash.Levels; l++ {
		fmt.Fprintf(out, "%-8s src=%016x dst=%016x\n", l, b.Src[l], b.Dst[l])
	}
	fmt.Fprintf(out, "combined: %d (%08x)\n", b.Combined, uint32(b.Combined))
	fmt.Fprintf(out, "status: %s (%d)\n", core.StatusOK, core.StatusOK)
	return nil
}
