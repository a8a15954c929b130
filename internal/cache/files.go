package cache

import (
	"sync"

	"github.com/dusk-indust/cpgraph/internal/graph"
)

// FileHashes maps file names to their content hash for the current run.
type FileHashes struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func NewFileHashes() *FileHashes {
	return &FileHashes{hashes: make(map[string]string)}
}

func (c *FileHashes) Set(file, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[file] = hash
}

func (c *FileHashes) Get(file string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[file]
	return h, ok
}

func (c *FileHashes) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

func (c *FileHashes) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes = make(map[string]string)
}

// CallEdges remembers, per method FULL_NAME, the CALL vertices that called
// the method before it was removed for rebuild.
type CallEdges struct {
	mu    sync.Mutex
	saved map[string][]*graph.Vertex
}

func NewCallEdges() *CallEdges {
	return &CallEdges{saved: make(map[string][]*graph.Vertex)}
}

// Save appends callers for method.
func (c *CallEdges) Save(method string, callers ...*graph.Vertex) {
	if len(callers) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved[method] = append(c.saved[method], callers...)
}

// Take returns and forgets the callers saved for method.
func (c *CallEdges) Take(method string) []*graph.Vertex {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.saved[method]
	delete(c.saved, method)
	return out
}

// Methods returns the number of methods with saved callers.
func (c *CallEdges) Methods() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saved)
}

func (c *CallEdges) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = make(map[string][]*graph.Vertex)
}
