package timer

import (
	"github.com/copperhead-labs/reactorcore/internal/spinlock"
)

// pageSize mirrors original_source/src/timer.c's PAGE_SIZE (4096 bytes
// worth of struct node, there computed as 4096/sizeof(struct node));
// Go's struct has a different size, but the value only controls arena
// growth granularity and is otherwise behaviorally invisible, so a
// round constant is kept instead of chasing an unsafe.Sizeof figure.
const pageSize = 128

// nodePool is a paged arena of nodes with a spinlock-guarded free-list,
// grounded directly on original_source/src/timer.c's struct pool /
// pool_newpage / pool_newnode / pool_freelist.
type nodePool struct {
	mu    spinlock.T
	pages [][]node
	free  *node // intrusive free-list via node.next
}

func newNodePool() *nodePool {
	p := &nodePool{}
	p.growLocked()
	return p
}

// growLocked allocates one more page and appends it to the free-list.
// Caller must hold mu.
func (p *nodePool) growLocked() {
	page := make([]node, pageSize)
	base := uint32(len(p.pages)) * pageSize
	for i := range page {
		page[i].cookie = base + uint32(i)
		page[i].state = nodeFreed
		if i+1 < len(page) {
			page[i].next = &page[i+1]
		}
	}
	p.pages = append(p.pages, page)
	// splice the new page onto the tail of the existing free-list.
	if p.free == nil {
		p.free = &page[0]
		return
	}
	tail := p.free
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = &page[0]
}

// alloc removes one node from the free-list, growing the arena if
// necessary, matching original_source/src/timer.c's pool_newnode.
func (p *nodePool) alloc() *node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free == nil {
		p.growLocked()
	}
	n := p.free
	p.free = n.next
	n.next = nil
	return n
}

// freeBatch returns an already-unlinked chain of nodes (threaded
// through node.next) to the free-list in one locked operation, matching
// original_source/src/timer.c's pool_freelist batching of an entire
// tick's worth of expired/cancelled nodes into one lock acquisition.
func (p *nodePool) freeBatch(head, tail *node) {
	if head == nil {
		return
	}
	p.mu.Lock()
	tail.next = p.free
	p.free = head
	p.mu.Unlock()
}

// locate returns the node for a stable cookie. A page's backing array,
// once allocated, is never moved or freed, so only the brief read of
// the outer pages slice header needs the lock — the node pointer
// itself stays valid for the pool's lifetime, letting callers load its
// version field without further synchronization.
func (p *nodePool) locate(cookie uint32) *node {
	pageID := cookie / pageSize
	offset := cookie % pageSize
	p.mu.Lock()
	page := p.pages[pageID]
	p.mu.Unlock()
	return &page[offset]
}
