package core

import (
	"errors"
	"slices"
	"strings"
)

var (
	ErrNotChild = errors.New("directory is not a child of this parent")
	ErrCycle    = errors.New("destination is inside the directory being moved")
)

// PathSeparator splits a path into directory names. There is no escaping.
const PathSeparator = "/"

// Dir is a single directory. It only knows its children; parents are found
// by walking down from a known root.
type Dir struct {
	name     string
	children []*Dir
}

// NewDir creates a directory with no children.
func NewDir(name string) *Dir {
	return &Dir{name: name}
}

func (d *Dir) Name() string {
	return d.name
}

// Children returns the direct children in insertion order.
func (d *Dir) Children() []*Dir {
	return slices.Clone(d.children)
}

// AddChild appends child without checking for a sibling of the same name.
// Callers check with HasChild first.
func (d *Dir) AddChild(child *Dir) {
	d.children = append(d.children, child)
}

// RemoveChild detaches child by identity. It does nothing if child is not here.
func (d *Dir) RemoveChild(child *Dir) {
	d.children = slices.DeleteFunc(d.children, func(c *Dir) bool {
		return c == child
	})
}

// MoveChildTo detaches child from d and appends it to newParent, subtree included.
func (d *Dir) MoveChildTo(newParent, child *Dir) error {
	if !slices.Contains(d.children, child) {
		return ErrNotChild
	}
	if IsDescendant(child, newParent) {
		return ErrCycle
	}

	d.RemoveChild(child)
	newParent.AddChild(child)
	return nil
}

// Clear detaches every child.
func (d *Dir) Clear() {
	d.children = nil
}

// IsDescendant reports whether node is ancestor or sits anywhere below it.
func IsDescendant(ancestor, node *Dir) bool {
	if ancestor == nil || node == nil {
		return false
	}
	if ancestor == node {
		return true
	}
	for _, child := range ancestor.children {
		if IsDescendant(child, node) {
			return true
		}
	}
	return false
}

// HasChild reports whether a direct child is named exactly name.
func (d *Dir) HasChild(name string) bool {
	_, ok := d.Child(name)
	return ok
}

// Child returns the direct child named exactly name.
func (d *Dir) Child(name string) (*Dir, bool) {
	for _, c := range d.children {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// ChildFromPath resolves a slash separated path one segment at a time,
// starting below d.
func (d *Dir) ChildFromPath(path string) (*Dir, bool) {
	current := d
	for _, segment := range strings.Split(path, PathSeparator) {
		next, ok := current.Child(segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// MissingDirectory walks path like ChildFromPath and returns the first
// segment that does not resolve. ok is false when the whole path exists.
func (d *Dir) MissingDirectory(path string) (segment string, ok bool) {
	current := d
	for _, name := range strings.Split(path, PathSeparator) {
		next, found := current.Child(name)
		if !found {
			return name, true
		}
		current = next
	}
	return "", false
}

// Render prints every descendant of d, one per line, indented by two spaces
// per level starting at indentLevel. Siblings are sorted by name on every
// call; d's own name is not printed.
func (d *Dir) Render(indentLevel int) string {
	var sb strings.Builder
	d.render(&sb, indentLevel)
	return sb.String()
}

func (d *Dir) render(sb *strings.Builder, indentLevel int) {
	for _, child := range d.sortedChildren() {
		sb.WriteString(strings.Repeat("  ", indentLevel))
		sb.WriteString(child.name)
		sb.WriteByte('\n')
		child.render(sb, indentLevel+1)
	}
}

func (d *Dir) String() string {
	return d.Render(0)
}

// Walk visits every descendant depth-first in render order. path is the
// slash joined path relative to d.
func (d *Dir) Walk(fn func(path string, dir *Dir)) {
	d.walk("", fn)
}

func (d *Dir) walk(prefix string, fn func(path string, dir *Dir)) {
	for _, child := range d.sortedChildren() {
		path := child.name
		if prefix != "" {
			path = prefix + PathSeparator + child.name
		}
		fn(path, child)
		child.walk(path, fn)
	}
}

func (d *Dir) sortedChildren() []*Dir {
	sorted := slices.Clone(d.children)
	slices.SortStableFunc(sorted, func(a, b *Dir) int {
		return strings.Compare(a.name, b.name)
	})
	return sorted
}
