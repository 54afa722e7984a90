package media

// PacketQueue is a FIFO of packets. It is not safe for concurrent use.
type PacketQueue struct {
	items []*Packet
	head  int
}

// Push appends pkts to the tail of the queue.
func (q *PacketQueue) Push(pkts ...*Packet) {
	q.items = append(q.items, pkts...)
}

// Pop removes and returns the packet at the head, or nil when empty.
func (q *PacketQueue) Pop() *Packet {
	if q.head >= len(q.items) {
		return nil
	}
	p := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return p
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	return len(q.items) - q.head
}

// Drain removes every queued packet and returns them in order.
func (q *PacketQueue) Drain() []*Packet {
	out := make([]*Packet, q.Len())
	copy(out, q.items[q.head:])
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return out
}

// Clear releases and drops every queued packet.
func (q *PacketQueue) Clear() {
	for _, p := range q.items[q.head:] {
		p.Release()
	}
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
