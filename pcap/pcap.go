// Package pcap replays MAPI traffic from a packet capture. Conversations
// are reassembled from TCP segments and played through the same event
// handler the live proxy uses, so both modes render identically.
package pcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	slog "github.com/vearne/simplelog"

	"github.com/mapitools/mapiproxy/event"
)

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Run reads a capture stream to the end and replays it through handler.
// Both classic pcap and pcapng are accepted; the format is sniffed from
// the magic number so the input can be a pipe. Cancelling ctx stops the
// packet loop; the caller unblocks a pending read by closing r. The
// conversations decoded so far still drain through Finish.
func Run(ctx context.Context, r io.Reader, handler event.Handler) error {
	br := bufio.NewReaderSize(r, 1<<16)
	src, err := openSource(br)
	if err != nil {
		return err
	}
	if lt := src.LinkType(); lt != layers.LinkTypeEthernet {
		return fmt.Errorf("unsupported link type %v, only Ethernet captures are supported", lt)
	}

	replayer := NewReplayer(handler)
	for ctx.Err() == nil {
		data, ci, err := src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			// Keep what was decoded so far.
			slog.Warn("capture read: %v", err)
			break
		}

		pkg, err := decodePacket(data, ci, src.LinkType())
		if err != nil {
			if errors.Is(err, errFragmented) {
				slog.Warn("skipping fragmented IP packet at %v", ci.Timestamp)
			}
			continue
		}
		replayer.HandlePacket(pkg)
	}
	return replayer.Finish()
}

const (
	magicNg         = 0x0A0D0D0A
	magicMicros     = 0xA1B2C3D4
	magicMicrosSwap = 0xD4C3B2A1
	magicNanos      = 0xA1B23C4D
	magicNanosSwap  = 0x4D3CB2A1
)

func openSource(br *bufio.Reader) (packetSource, error) {
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	switch binary.BigEndian.Uint32(head) {
	case magicNg:
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng stream: %w", err)
		}
		return ng, nil
	case magicMicros, magicMicrosSwap, magicNanos, magicNanosSwap:
		r, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open pcap stream: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unrecognized capture format (magic %02x%02x%02x%02x)",
			head[0], head[1], head[2], head[3])
	}
}
