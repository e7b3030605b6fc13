// Package element defines the rendering surface that progress callbacks draw on.
// A Document resolves element ids to handles; an Element accepts style and
// content updates. Lookups for unknown ids return nil, which every renderer in
// this module treats as "nothing to draw".
package element

// Element is an opaque visual handle.
type Element interface {
	SetStyle(property, value string)
	SetContent(text string)
}

// Document resolves element ids to handles.
type Document interface {
	// ElementByID returns nil when no element carries the id.
	ElementByID(id string) Element
}

// IsAbsent reports whether el is nil, including typed nil pointers stored in the
// interface.
func IsAbsent(el Element) bool {
	switch v := el.(type) {
	case nil:
		return true
	case *MemoryElement:
		return v == nil
	case *ConsoleElement:
		return v == nil
	}
	return false
}
