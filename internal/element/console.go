package element

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const consoleBarWidth = 30

// ConsoleDocument renders element updates as lines on a writer. Only ids that
// were allowed explicitly, or that start with an allowed prefix, resolve to an
// element; everything else is absent.
type ConsoleDocument struct {
	mu       sync.Mutex
	out      io.Writer
	ids      map[string]struct{}
	prefixes []string
	elements map[string]*ConsoleElement
}

// NewConsoleDocument creates a document writing to out.
func NewConsoleDocument(out io.Writer) *ConsoleDocument {
	return &ConsoleDocument{
		out:      out,
		ids:      make(map[string]struct{}),
		elements: make(map[string]*ConsoleElement),
	}
}

// Allow makes the given ids resolvable.
func (d *ConsoleDocument) Allow(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
}

// AllowPrefix makes every id starting with prefix resolvable.
func (d *ConsoleDocument) AllowPrefix(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefixes = append(d.prefixes, prefix)
}

// ElementByID implements Document.
func (d *ConsoleDocument) ElementByID(id string) Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[id]; ok {
		return el
	}
	if !d.allowedLocked(id) {
		return nil
	}
	el := &ConsoleElement{id: id, doc: d}
	d.elements[id] = el
	return el
}

func (d *ConsoleDocument) allowedLocked(id string) bool {
	if _, ok := d.ids[id]; ok {
		return true
	}
	for _, p := range d.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

func (d *ConsoleDocument) println(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, line) //nolint:errcheck // console output is best effort
}

// ConsoleElement prints a bar whenever its width changes and a line whenever its
// content changes.
type ConsoleElement struct {
	id  string
	doc *ConsoleDocument

	mu    sync.Mutex
	color string
}

// SetStyle implements Element. Only background-color and width are rendered.
func (e *ConsoleElement) SetStyle(property, value string) {
	switch property {
	case "background-color":
		e.mu.Lock()
		e.color = value
		e.mu.Unlock()
	case "width":
		e.mu.Lock()
		c := e.color
		e.mu.Unlock()
		e.doc.println(fmt.Sprintf("%s %s", e.id, paint(c, renderBar(value))))
	}
}

// SetContent implements Element.
func (e *ConsoleElement) SetContent(text string) {
	e.doc.println(fmt.Sprintf("%s: %s", e.id, text))
}

func renderBar(width string) string {
	pct, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(width), "%"), 64)
	if err != nil {
		return "[" + width + "]"
	}
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	filled := int(pct / 100 * consoleBarWidth)
	return fmt.Sprintf("[%s%s] %s",
		strings.Repeat("#", filled),
		strings.Repeat(" ", consoleBarWidth-filled),
		width,
	)
}

func paint(background, text string) string {
	switch strings.ToLower(background) {
	case "#76ce60":
		return color.GreenString(text)
	case "#dc4f63":
		return color.RedString(text)
	case "":
		return text
	default:
		return color.CyanString(text)
	}
}
