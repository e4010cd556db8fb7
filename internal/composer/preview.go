package composer

import (
	"sync"

	"github.com/google/uuid"
)

// PreviewRegistry hands out local preview handles for image attachments.
type PreviewRegistry interface {
	Create(path string) (string, error)
	Revoke(handle string)
}

// Previews is an in-memory registry mapping handles to local file paths.
type Previews struct {
	mu      sync.Mutex
	handles map[string]string
}

func NewPreviews() *Previews {
	return &Previews{handles: make(map[string]string)}
}

func (p *Previews) Create(path string) (string, error) {
	handle := "preview:" + uuid.NewString()
	p.mu.Lock()
	p.handles[handle] = path
	p.mu.Unlock()
	return handle, nil
}

func (p *Previews) Revoke(handle string) {
	p.mu.Lock()
	delete(p.handles, handle)
	p.mu.Unlock()
}

// Path resolves a live handle.
func (p *Previews) Path(handle string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.handles[handle]
	return path, ok
}

func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}
