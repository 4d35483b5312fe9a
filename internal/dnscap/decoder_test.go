package dnscap

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"Go2NetMonitor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	clientIP   = net.IPv4(192, 168, 1, 10)
	resolverIP = net.IPv4(8, 8, 8, 8)
	clientMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	gatewayMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

func question(name string, t layers.DNSType) layers.DNSQuestion {
	return layers.DNSQuestion{Name: []byte(name), Type: t, Class: layers.DNSClassIN}
}

func exampleRequest() *layers.DNS {
	return &layers.DNS{
		ID:        0x1a2b,
		RD:        true,
		Questions: []layers.DNSQuestion{question("example.com", layers.DNSTypeA)},
	}
}

func exampleResponse() *layers.DNS {
	return &layers.DNS{
		ID:        0x1a2b,
		QR:        true,
		RD:        true,
		RA:        true,
		Questions: []layers.DNSQuestion{question("example.com", layers.DNSTypeA)},
		Answers: []layers.DNSResourceRecord{{
			Name:  []byte("example.com"),
			Type:  layers.DNSTypeA,
			Class: layers.DNSClassIN,
			TTL:   300,
			IP:    net.IPv4(93, 184, 216, 34),
		}},
	}
}

// udpPacket serializes an Ethernet/IPv4/UDP frame around payload and decodes it back.
func udpPacket(t *testing.T, src, dst net.IP, srcPort, dstPort layers.UDPPort, payload gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: gatewayMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
	udp := &layers.UDP{SrcPort: srcPort, DstPort: dstPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("Failed to set checksum layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, eth, ip, udp, payload); err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

// tcpPacket carries msg over TCP with the two byte length prefix.
func tcpPacket(t *testing.T, src, dst net.IP, srcPort, dstPort layers.TCPPort, msg *layers.DNS) gopacket.Packet {
	t.Helper()
	body := gopacket.NewSerializeBuffer()
	if err := msg.SerializeTo(body, serializeOpts); err != nil {
		t.Fatalf("Failed to serialize DNS message: %v", err)
	}
	framed := make([]byte, 2+len(body.Bytes()))
	binary.BigEndian.PutUint16(framed, uint16(len(body.Bytes())))
	copy(framed[2:], body.Bytes())

	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: gatewayMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{SrcPort: srcPort, DstPort: dstPort, Seq: 1, ACK: true, PSH: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("Failed to set checksum layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, eth, ip, tcp, gopacket.Payload(framed)); err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestDecode_Request(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	packet := udpPacket(t, clientIP, resolverIP, 53001, 53, exampleRequest())

	rec, ok := NewDecoder(53).Decode(packet, now)
	if !ok {
		t.Fatal("Expected a DNS record from the request packet")
	}
	if rec.Direction != model.DirectionRequest {
		t.Errorf("Expected request direction, got %s", rec.Direction)
	}
	if rec.TransactionID != 0x1a2b {
		t.Errorf("Expected transaction id 0x1a2b, got %#x", rec.TransactionID)
	}
	if rec.QueryDomain != "example.com" || rec.QueryType != "A" {
		t.Errorf("Expected example.com/A, got %s/%s", rec.QueryDomain, rec.QueryType)
	}
	if rec.ResolverIP != "8.8.8.8" {
		t.Errorf("Expected resolver to be the destination 8.8.8.8, got %s", rec.ResolverIP)
	}
	if rec.ResponseCode != "" || len(rec.ResponseData) != 0 {
		t.Errorf("Expected empty response fields on a request, got %q %v", rec.ResponseCode, rec.ResponseData)
	}
	if !rec.Timestamp.Equal(now) {
		t.Errorf("Expected decode time %v, got %v", now, rec.Timestamp)
	}
}

func TestDecode_Response(t *testing.T) {
	packet := udpPacket(t, resolverIP, clientIP, 53, 53001, exampleResponse())

	rec, ok := NewDecoder(53).Decode(packet, time.Now())
	if !ok {
		t.Fatal("Expected a DNS record from the response packet")
	}
	if rec.Direction != model.DirectionResponse {
		t.Errorf("Expected response direction, got %s", rec.Direction)
	}
	if rec.ResponseCode != "NoError" {
		t.Errorf("Expected NoError, got %q", rec.ResponseCode)
	}
	if len(rec.ResponseData) != 1 || rec.ResponseData[0] != "93.184.216.34" {
		t.Errorf("Expected [93.184.216.34], got %v", rec.ResponseData)
	}
	if rec.ResolverIP != "8.8.8.8" {
		t.Errorf("Expected resolver to be the source 8.8.8.8, got %s", rec.ResolverIP)
	}
	if rec.QueryDomain != "example.com" {
		t.Errorf("Expected domain from the question, got %q", rec.QueryDomain)
	}
}

func TestDecode_ResponseAnswerTypes(t *testing.T) {
	msg := &layers.DNS{
		ID:           7,
		QR:           true,
		ResponseCode: layers.DNSResponseCodeNXDomain,
		Questions:    []layers.DNSQuestion{question("www.example.com", layers.DNSTypeAAAA)},
		Answers: []layers.DNSResourceRecord{
			{Name: []byte("www.example.com"), Type: layers.DNSTypeCNAME, Class: layers.DNSClassIN, TTL: 60, CNAME: []byte("example.com")},
			{Name: []byte("example.com"), Type: layers.DNSTypeAAAA, Class: layers.DNSClassIN, TTL: 60, IP: net.ParseIP("2606:2800:220:1::1")},
		},
	}
	packet := udpPacket(t, resolverIP, clientIP, 53, 53002, msg)

	rec, ok := NewDecoder(53).Decode(packet, time.Now())
	if !ok {
		t.Fatal("Expected a DNS record")
	}
	if rec.QueryType != "AAAA" {
		t.Errorf("Expected AAAA query type, got %q", rec.QueryType)
	}
	if rec.ResponseCode != "NXDomain" {
		t.Errorf("Expected NXDomain, got %q", rec.ResponseCode)
	}
	want := []string{"example.com", "2606:2800:220:1::1"}
	if len(rec.ResponseData) != len(want) {
		t.Fatalf("Expected %v, got %v", want, rec.ResponseData)
	}
	for i := range want {
		if rec.ResponseData[i] != want[i] {
			t.Errorf("Answer %d: expected %q, got %q", i, want[i], rec.ResponseData[i])
		}
	}
}

func TestDecode_TCP(t *testing.T) {
	packet := tcpPacket(t, clientIP, resolverIP, 40000, 53, exampleRequest())

	rec, ok := NewDecoder(53).Decode(packet, time.Now())
	if !ok {
		t.Fatal("Expected a DNS record from the TCP packet")
	}
	if rec.QueryDomain != "example.com" || rec.TransactionID != 0x1a2b {
		t.Errorf("Unexpected record decoded from TCP: %+v", rec)
	}
	if rec.ResolverIP != "8.8.8.8" {
		t.Errorf("Expected resolver 8.8.8.8, got %s", rec.ResolverIP)
	}

	// A TCP segment on another port is not DNS.
	other := tcpPacket(t, clientIP, resolverIP, 40000, 8080, exampleRequest())
	if _, ok := NewDecoder(53).Decode(other, time.Now()); ok {
		t.Error("Expected TCP traffic off the resolver port to be ignored")
	}
}

func TestDecode_UDPCustomPort(t *testing.T) {
	// 1. A request and its response on a resolver listening on 5300
	decoder := NewDecoder(5300)
	rec, ok := decoder.Decode(udpPacket(t, clientIP, resolverIP, 53001, 5300, exampleRequest()), time.Now())
	if !ok {
		t.Fatal("Expected a DNS record from the request on port 5300")
	}
	if rec.Direction != model.DirectionRequest || rec.QueryDomain != "example.com" || rec.ResolverIP != "8.8.8.8" {
		t.Errorf("Unexpected request record: %+v", rec)
	}

	rec, ok = decoder.Decode(udpPacket(t, resolverIP, clientIP, 5300, 53001, exampleResponse()), time.Now())
	if !ok {
		t.Fatal("Expected a DNS record from the response on port 5300")
	}
	if rec.Direction != model.DirectionResponse || len(rec.ResponseData) != 1 || rec.ResponseData[0] != "93.184.216.34" {
		t.Errorf("Unexpected response record: %+v", rec)
	}

	// 2. Other UDP ports are still ignored
	if _, ok := decoder.Decode(udpPacket(t, clientIP, resolverIP, 53001, 5301, exampleRequest()), time.Now()); ok {
		t.Error("Expected UDP traffic off the resolver port to be ignored")
	}
}

func TestDecode_NotDNS(t *testing.T) {
	packet := udpPacket(t, clientIP, resolverIP, 40000, 9999, gopacket.Payload([]byte("hello")))
	if _, ok := NewDecoder(53).Decode(packet, time.Now()); ok {
		t.Error("Expected a non-DNS packet to be rejected")
	}

	empty := &layers.DNS{ID: 1}
	packet = udpPacket(t, clientIP, resolverIP, 40000, 53, empty)
	if _, ok := NewDecoder(53).Decode(packet, time.Now()); ok {
		t.Error("Expected a message without questions to be rejected")
	}
}

func TestNames(t *testing.T) {
	types := map[layers.DNSType]string{
		layers.DNSTypeA:     "A",
		layers.DNSTypeMX:    "MX",
		layers.DNSTypeSRV:   "SRV",
		layers.DNSTypeTXT:   "TXT",
		layers.DNSTypePTR:   "PTR",
		layers.DNSTypeSOA:   "Type 6",
		layers.DNSType(255): "Type 255",
	}
	for in, want := range types {
		if got := QueryTypeName(in); got != want {
			t.Errorf("QueryTypeName(%d) = %q, want %q", uint16(in), got, want)
		}
	}

	codes := map[uint8]string{0: "NoError", 1: "FormErr", 2: "ServFail", 3: "NXDomain", 4: "NotImp", 5: "Refused", 9: "Code 9"}
	for in, want := range codes {
		if got := ResponseCodeName(in); got != want {
			t.Errorf("ResponseCodeName(%d) = %q, want %q", in, got, want)
		}
	}
}
