package pcap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// DirectConn identifies one direction of a captured connection. The
// reverse direction belongs to the same conversation.
type DirectConn struct {
	SrcAddr psnet.Addr
	DstAddr psnet.Addr
}

func (d DirectConn) String() string {
	return fmt.Sprintf("%v:%v -> %v:%v", d.SrcAddr.IP,
		d.SrcAddr.Port, d.DstAddr.IP, d.DstAddr.Port)
}

func (d DirectConn) Reverse() DirectConn {
	return DirectConn{SrcAddr: d.DstAddr, DstAddr: d.SrcAddr}
}

func (d DirectConn) srcString() string {
	return fmt.Sprintf("%v:%v", d.SrcAddr.IP, d.SrcAddr.Port)
}

func (d DirectConn) dstString() string {
	return fmt.Sprintf("%v:%v", d.DstAddr.IP, d.DstAddr.Port)
}

var (
	errNotTCP     = errors.New("not an IP/TCP packet")
	errFragmented = errors.New("fragmented IP packet")
)

type netPkg struct {
	SrcIP string
	DstIP string

	IPv4 *layers.IPv4
	IPv6 *layers.IPv6
	TCP  *layers.TCP

	Timestamp time.Time
}

// decodePacket extracts the IP and TCP layers from one captured frame.
// Anything that is not TCP over IP comes back as errNotTCP and is
// skipped by the caller. IPv4 fragments come back as errFragmented so
// the caller can warn about them.
func decodePacket(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType) (*netPkg, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.Default)

	var p netPkg
	p.Timestamp = ci.Timestamp

	if layer := packet.Layer(layers.LayerTypeIPv4); layer != nil {
		p.IPv4 = layer.(*layers.IPv4)
		if p.IPv4.Flags&layers.IPv4MoreFragments != 0 || p.IPv4.FragOffset != 0 {
			return nil, errFragmented
		}
		p.SrcIP = p.IPv4.SrcIP.String()
		p.DstIP = p.IPv4.DstIP.String()
	} else if layer := packet.Layer(layers.LayerTypeIPv6); layer != nil {
		p.IPv6 = layer.(*layers.IPv6)
		p.SrcIP = p.IPv6.SrcIP.String()
		p.DstIP = p.IPv6.DstIP.String()
	} else {
		return nil, errNotTCP
	}

	layer := packet.Layer(layers.LayerTypeTCP)
	if layer == nil {
		return nil, errNotTCP
	}
	p.TCP = layer.(*layers.TCP)
	return &p, nil
}

func (p *netPkg) conn() DirectConn {
	var c DirectConn
	c.SrcAddr.IP = p.SrcIP
	c.DstAddr.IP = p.DstIP
	c.SrcAddr.Port = uint32(p.TCP.SrcPort)
	c.DstAddr.Port = uint32(p.TCP.DstPort)
	return c
}

func (p *netPkg) tcpFlags() string {
	flags := make([]string, 0, 6)
	if p.TCP.FIN {
		flags = append(flags, "FIN")
	}
	if p.TCP.SYN {
		flags = append(flags, "SYN")
	}
	if p.TCP.RST {
		flags = append(flags, "RST")
	}
	if p.TCP.PSH {
		flags = append(flags, "PSH")
	}
	if p.TCP.ACK {
		flags = append(flags, "ACK")
	}
	if p.TCP.URG {
		flags = append(flags, "URG")
	}
	return strings.Join(flags, ",")
}
