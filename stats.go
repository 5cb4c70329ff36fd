package mqtt5

import "go.uber.org/atomic"

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	ConnectAttempts   uint64
	Connects          uint64
	ConnectionsLost   uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	BytesSent         uint64
	BytesReceived     uint64
	MessagesPublished uint64
	MessagesReceived  uint64
	MessagesQueued    uint64
	MessagesReplayed  uint64
}

type stats struct {
	connectAttempts   atomic.Uint64
	connects          atomic.Uint64
	connectionsLost   atomic.Uint64
	packetsSent       atomic.Uint64
	packetsReceived   atomic.Uint64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	messagesPublished atomic.Uint64
	messagesReceived  atomic.Uint64
	messagesQueued    atomic.Uint64
	messagesReplayed  atomic.Uint64
}

func (s *stats) sent(n int) {
	s.packetsSent.Inc()
	s.bytesSent.Add(uint64(n))
}

func (s *stats) received(n int) {
	s.packetsReceived.Inc()
	s.bytesReceived.Add(uint64(n))
}

func (s *stats) snapshot() Stats {
	return Stats{
		ConnectAttempts:   s.connectAttempts.Load(),
		Connects:          s.connects.Load(),
		ConnectionsLost:   s.connectionsLost.Load(),
		PacketsSent:       s.packetsSent.Load(),
		PacketsReceived:   s.packetsReceived.Load(),
		BytesSent:         s.bytesSent.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		MessagesPublished: s.messagesPublished.Load(),
		MessagesReceived:  s.messagesReceived.Load(),
		MessagesQueued:    s.messagesQueued.Load(),
		MessagesReplayed:  s.messagesReplayed.Load(),
	}
}
