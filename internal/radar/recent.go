package radar

import "github.com/helixir/paper-radar-service/internal/domain"

// recentBuffer keeps the last n admitted discoveries, oldest overwritten first.
type recentBuffer struct {
	items []domain.Discovery
	next  int
	full  bool
}

func newRecentBuffer(n int) *recentBuffer {
	if n <= 0 {
		n = 1
	}
	return &recentBuffer{items: make([]domain.Discovery, n)}
}

func (b *recentBuffer) push(d domain.Discovery) {
	b.items[b.next] = d
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// snapshot returns the buffered discoveries, newest first.
func (b *recentBuffer) snapshot() []domain.Discovery {
	n := b.next
	if b.full {
		n = len(b.items)
	}
	out := make([]domain.Discovery, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, b.items[(b.next-i+len(b.items))%len(b.items)])
	}
	return out
}
