package mqtt5

import "sync"

// packetIDs hands out packet identifiers in 1..65535, skipping ones still
// in flight.
type packetIDs struct {
	mu   sync.Mutex
	used map[uint16]struct{}
	next uint16
}

func newPacketIDs() *packetIDs {
	return &packetIDs{used: make(map[uint16]struct{}), next: 1}
}

// acquire returns a free identifier or ErrNoPacketIDs.
func (p *packetIDs) acquire() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.used) >= maxUint16 {
		return 0, ErrNoPacketIDs
	}
	for {
		id := p.next
		p.next++
		if p.next == 0 {
			p.next = 1
		}
		if _, busy := p.used[id]; !busy {
			p.used[id] = struct{}{}
			return id, nil
		}
	}
}

// release frees id. It reports whether id was in use.
func (p *packetIDs) release(id uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.used[id]; !ok {
		return false
	}
	delete(p.used, id)
	return true
}

func (p *packetIDs) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
