package dnscap

import (
	"encoding/binary"
	"fmt"
	"time"

	"Go2NetMonitor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DefaultPort is the resolver port DNS traffic is filtered on.
const DefaultPort = 53

// Decoder turns captured packets into DNS records.
type Decoder struct {
	port uint16
}

// NewDecoder creates a decoder that recognises DNS over UDP and TCP on the
// given resolver port.
func NewDecoder(port int) *Decoder {
	if port <= 0 {
		port = DefaultPort
	}
	return &Decoder{port: uint16(port)}
}

// Decode extracts a DNS record from packet, stamped with now. It reports
// false when the packet carries no DNS message or the message has no question.
func (d *Decoder) Decode(packet gopacket.Packet, now time.Time) (model.DNSRecord, bool) {
	msg := d.dnsLayer(packet)
	if msg == nil || len(msg.Questions) == 0 {
		return model.DNSRecord{}, false
	}

	q := msg.Questions[0]
	rec := model.DNSRecord{
		Timestamp:     now,
		TransactionID: msg.ID,
		QueryDomain:   string(q.Name),
		QueryType:     QueryTypeName(q.Type),
	}

	var src, dst string
	if nl := packet.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()
		src, dst = flow.Src().String(), flow.Dst().String()
	}

	if !msg.QR {
		rec.Direction = model.DirectionRequest
		rec.ResolverIP = dst
		return rec, true
	}

	rec.Direction = model.DirectionResponse
	rec.ResponseCode = ResponseCodeName(uint8(msg.ResponseCode))
	rec.ResolverIP = src
	for _, rr := range msg.Answers {
		if v, ok := answerValue(rr); ok {
			rec.ResponseData = append(rec.ResponseData, v)
		}
	}
	return rec, true
}

// dnsLayer returns the DNS message of a packet. TCP payloads on the resolver
// port carry a two byte length prefix. gopacket only maps UDP port 53 to DNS,
// so UDP payloads on any other resolver port are decoded here.
func (d *Decoder) dnsLayer(packet gopacket.Packet) *layers.DNS {
	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		if uint16(tcp.SrcPort) != d.port && uint16(tcp.DstPort) != d.port {
			return nil
		}
		return decodeTCPMessage(tcp.LayerPayload())
	}

	if l := packet.Layer(layers.LayerTypeDNS); l != nil {
		if msg, ok := l.(*layers.DNS); ok {
			return msg
		}
	}

	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		if uint16(udp.SrcPort) != d.port && uint16(udp.DstPort) != d.port {
			return nil
		}
		return decodeMessage(udp.LayerPayload())
	}
	return nil
}

func decodeMessage(payload []byte) *layers.DNS {
	if len(payload) == 0 {
		return nil
	}
	msg := &layers.DNS{}
	if err := msg.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return nil
	}
	return msg
}

func decodeTCPMessage(payload []byte) *layers.DNS {
	if len(payload) < 2 {
		return nil
	}
	size := int(binary.BigEndian.Uint16(payload))
	if size == 0 || len(payload) < 2+size {
		return nil
	}

	return decodeMessage(payload[2 : 2+size])
}

// answerValue renders the answer types the monitor keeps; every other
// record type is skipped.
func answerValue(rr layers.DNSResourceRecord) (string, bool) {
	switch rr.Type {
	case layers.DNSTypeA, layers.DNSTypeAAAA:
		if rr.IP == nil {
			return "", false
		}
		return rr.IP.String(), true
	case layers.DNSTypeCNAME:
		return string(rr.CNAME), true
	case layers.DNSTypeNS:
		return string(rr.NS), true
	case layers.DNSTypePTR:
		return string(rr.PTR), true
	default:
		return "", false
	}
}

// QueryTypeName returns the mnemonic for common record types and "Type <n>" otherwise.
func QueryTypeName(t layers.DNSType) string {
	switch t {
	case layers.DNSTypeA:
		return "A"
	case layers.DNSTypeAAAA:
		return "AAAA"
	case layers.DNSTypeNS:
		return "NS"
	case layers.DNSTypeCNAME:
		return "CNAME"
	case layers.DNSTypePTR:
		return "PTR"
	case layers.DNSTypeMX:
		return "MX"
	case layers.DNSTypeSRV:
		return "SRV"
	case layers.DNSTypeTXT:
		return "TXT"
	default:
		return fmt.Sprintf("Type %d", uint16(t))
	}
}

// ResponseCodeName returns the symbolic RCODE name, or "Code <n>" for codes above 5.
func ResponseCodeName(code uint8) string {
	switch code {
	case 0:
		return "NoError"
	case 1:
		return "FormErr"
	case 2:
		return "ServFail"
	case 3:
		return "NXDomain"
	case 4:
		return "NotImp"
	case 5:
		return "Refused"
	default:
		return fmt.Sprintf("Code %d", code)
	}
}
