package element

import "sync"

// MemoryDocument keeps elements in a map. It backs tests and embedders that
// render elsewhere and only need the last value written to each element.
type MemoryDocument struct {
	mu       sync.RWMutex
	elements map[string]*MemoryElement
}

// NewMemoryDocument creates a document pre-populated with the given ids.
func NewMemoryDocument(ids ...string) *MemoryDocument {
	d := &MemoryDocument{elements: make(map[string]*MemoryElement, len(ids))}
	for _, id := range ids {
		d.elements[id] = newMemoryElement(id)
	}
	return d
}

// Add registers an element (or returns the existing one) under id.
func (d *MemoryDocument) Add(id string) *MemoryElement {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[id]; ok {
		return el
	}
	el := newMemoryElement(id)
	d.elements[id] = el
	return el
}

// ElementByID implements Document.
func (d *MemoryDocument) ElementByID(id string) Element {
	el := d.Get(id)
	if el == nil {
		return nil
	}
	return el
}

// Get returns the concrete element for id, or nil.
func (d *MemoryDocument) Get(id string) *MemoryElement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.elements[id]
}

// MemoryElement records style and content writes.
type MemoryElement struct {
	id string

	mu      sync.Mutex
	styles  map[string]string
	content string
	writes  int
}

func newMemoryElement(id string) *MemoryElement {
	return &MemoryElement{id: id, styles: make(map[string]string)}
}

// ID returns the element id.
func (e *MemoryElement) ID() string { return e.id }

// SetStyle implements Element.
func (e *MemoryElement) SetStyle(property, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.styles[property] = value
	e.writes++
}

// SetContent implements Element.
func (e *MemoryElement) SetContent(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = text
	e.writes++
}

// Style returns the last value set for property.
func (e *MemoryElement) Style(property string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.styles[property]
}

// Content returns the last content set.
func (e *MemoryElement) Content() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content
}

// Writes counts SetStyle and SetContent calls.
func (e *MemoryElement) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}
