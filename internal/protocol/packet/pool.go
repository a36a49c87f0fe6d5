package packet

import "sync"

// Pool is a fixed-capacity packet allocator. Alloc fails once every
// packet is checked out; callers must Free what they Alloc.
type Pool struct {
	mu   sync.Mutex
	free []*Packet
	size int
}

func NewPool(size int) *Pool {
	p := &Pool{free: make([]*Packet, 0, size), size: size}
	for i := 0; i < size; i++ {
		p.free = append(p.free, &Packet{
			Path:    make([]byte, 0, MaxPathSize),
			Payload: make([]byte, 0, MaxPacketPayload),
		})
	}
	return p
}

func (p *Pool) Alloc() (*Packet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	pkt := p.free[n-1]
	p.free = p.free[:n-1]
	return pkt, true
}

func (p *Pool) Free(pkt *Packet) {
	if pkt == nil {
		return
	}
	pkt.reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.size {
		p.free = append(p.free, pkt)
	}
}

// Available reports how many packets can still be allocated.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *Pool) Size() int {
	return p.size
}
