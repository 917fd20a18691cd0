package mixer

// pendingQueue holds audio that arrived from one source but has not been
// paired yet. Buffers are appended at the tail and consumed from the head.
type pendingQueue struct {
	bufs [][]byte
	size int
}

func (q *pendingQueue) push(b []byte) {
	if len(b) == 0 {
		return
	}
	q.bufs = append(q.bufs, b)
	q.size += len(b)
}

// len returns the number of buffered bytes.
func (q *pendingQueue) len() int {
	return q.size
}

// take removes exactly n bytes from the head, splitting the head buffer when
// it is only partly consumed. n must not exceed len().
func (q *pendingQueue) take(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > q.size {
		n = q.size
	}
	// Common case: the head buffer is exactly what was asked for.
	if len(q.bufs[0]) == n {
		out := q.bufs[0]
		q.pop()
		q.size -= n
		return out
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		head := q.bufs[0]
		need := n - len(out)
		if len(head) <= need {
			out = append(out, head...)
			q.pop()
			continue
		}
		out = append(out, head[:need]...)
		q.bufs[0] = head[need:]
	}
	q.size -= n
	return out
}

// takeAll drains the queue.
func (q *pendingQueue) takeAll() []byte {
	return q.take(q.size)
}

func (q *pendingQueue) pop() {
	q.bufs[0] = nil
	q.bufs = q.bufs[1:]
}
