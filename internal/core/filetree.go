package core

import "strings"

// RootName is the name of the unnamed top directory. It never appears in
// rendered output.
const RootName = "root"

// Filetree owns one root directory. A Filetree is not safe for concurrent
// use; build one per script run.
type Filetree struct {
	Root *Dir
}

func NewFiletree() *Filetree {
	return &Filetree{Root: NewDir(RootName)}
}

// Reset empties the tree while keeping the same root.
func (ft *Filetree) Reset() {
	ft.Root.Clear()
}

// Create adds the last segment of path under its parent. Every earlier
// segment must already exist and the last one must be non-empty. It returns
// false if nothing changed, which includes the case where the directory is
// already there.
func (ft *Filetree) Create(path string) bool {
	segments := strings.Split(path, PathSeparator)
	parent := ft.Root

	for _, name := range segments[:len(segments)-1] {
		next, ok := parent.Child(name)
		if !ok {
			return false
		}
		parent = next
	}

	name := segments[len(segments)-1]
	if name == "" || parent.HasChild(name) {
		return false
	}
	parent.AddChild(NewDir(name))
	return true
}

// Move relocates the directory at childPath, with its subtree, under the
// directory at destPath. Moves into the directory itself or one of its
// descendants are refused.
func (ft *Filetree) Move(childPath, destPath string) bool {
	parent, child, ok := ft.resolve(childPath)
	if !ok {
		return false
	}
	dest, ok := ft.Root.ChildFromPath(destPath)
	if !ok {
		return false
	}
	return parent.MoveChildTo(dest, child) == nil
}

// Delete detaches the directory at path and everything below it.
func (ft *Filetree) Delete(path string) bool {
	parent, child, ok := ft.resolve(path)
	if !ok {
		return false
	}
	parent.RemoveChild(child)
	return true
}

// MissingDirectory names the first segment of path that does not exist.
func (ft *Filetree) MissingDirectory(path string) (string, bool) {
	return ft.Root.MissingDirectory(path)
}

// List renders the whole tree.
func (ft *Filetree) List() string {
	return ft.Root.Render(0)
}

// Paths returns the path of every directory in render order.
func (ft *Filetree) Paths() []string {
	var paths []string
	ft.Root.Walk(func(path string, _ *Dir) {
		paths = append(paths, path)
	})
	return paths
}

// Count returns the number of directories below the root.
func (ft *Filetree) Count() int {
	n := 0
	ft.Root.Walk(func(string, *Dir) { n++ })
	return n
}

// Depth returns the number of levels below the root; 0 for an empty tree.
func (ft *Filetree) Depth() int {
	return depth(ft.Root)
}

func depth(d *Dir) int {
	deepest := 0
	for _, child := range d.children {
		if n := depth(child) + 1; n > deepest {
			deepest = n
		}
	}
	return deepest
}

// resolve finds the directory at path together with the directory holding it.
func (ft *Filetree) resolve(path string) (parent, child *Dir, ok bool) {
	child, ok = ft.Root.ChildFromPath(path)
	if !ok {
		return nil, nil, false
	}

	parent = ft.Root
	if i := strings.LastIndex(path, PathSeparator); i >= 0 {
		parent, ok = ft.Root.ChildFromPath(path[:i])
		if !ok {
			return nil, nil, false
		}
	}
	return parent, child, true
}
