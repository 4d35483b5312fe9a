package correlator

// Stream names a logical query stream. Each stream has its own request ids, so
// a newer request on one stream never invalidates another stream's reply.
type Stream int

const (
	StreamTraffic Stream = iota
	StreamQPS
	StreamTopDomains
	StreamDomains
	StreamDomainDetails
	streamCount
)

func (s Stream) String() string {
	switch s {
	case StreamTraffic:
		return "traffic"
	case StreamQPS:
		return "qps"
	case StreamTopDomains:
		return "top_domains"
	case StreamDomains:
		return "domains"
	case StreamDomainDetails:
		return "domain_details"
	default:
		return "unknown"
	}
}

// Generations tracks the current request id of every stream. The zero value
// is ready to use; ids start at 1. It is not safe for concurrent use.
type Generations struct {
	current [streamCount]uint64
}

// Next issues a new id for stream, superseding every earlier one.
func (g *Generations) Next(s Stream) uint64 {
	g.current[s]++
	return g.current[s]
}

// Current reports whether id is the latest id issued on stream.
func (g *Generations) Current(s Stream, id uint64) bool {
	return id != 0 && g.current[s] == id
}

// Latest returns the last id issued on stream, or 0 if none.
func (g *Generations) Latest(s Stream) uint64 {
	return g.current[s]
}
