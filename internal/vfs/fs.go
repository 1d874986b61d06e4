package vfs

import (
	"fmt"
	"path"
	"strings"
)

const maxSymlinkDepth = 16

// ErrSymlinkLoop is returned when resolution exceeds maxSymlinkDepth.
var ErrSymlinkLoop = fmt.Errorf("too many levels of symbolic links")

// FS is the whole virtual filesystem tree plus the process-wide cwd.
type FS struct {
	root *Node
	cwd  string // always absolute, slash-separated, no trailing slash except "/"
}

// New creates an empty filesystem with just a root directory and then
// synthesizes the standard /dev, /proc and /etc entries described in
// spec.md §3's VFS-entry lifecycle.
func New() *FS {
	fs := &FS{root: NewDirectory(0o755), cwd: "/"}
	fs.synthesize()
	return fs
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// joinParts reconstructs an absolute path from clean segments.
func joinParts(parts []string) string {
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

// resolveParent walks from root through parts[:len(parts)-1], following
// symlinks, and returns the directory node that should contain
// parts[len(parts)-1], along with that last component's name. ".." is
// resolved by popping the in-progress segment stack, never via a stored
// parent pointer, per the design note.
func (fs *FS) resolveParent(parts []string) (*Node, string, error) {
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("empty path")
	}
	dir, err := fs.resolveDirPath(parts[:len(parts)-1])
	if err != nil {
		return nil, "", err
	}
	return dir, parts[len(parts)-1], nil
}

// resolveDirPath resolves parts (a sequence of names relative to root,
// may include "." and "..") to the directory node they name.
func (fs *FS) resolveDirPath(parts []string) (*Node, error) {
	stack := []string{}
	for _, part := range parts {
		switch part {
		case ".", "":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	cur := fs.root
	for i, name := range stack {
		child := cur.Lookup(name)
		if child == nil {
			return nil, fmt.Errorf("%s: %w", joinParts(stack[:i+1]), errNoEnt)
		}
		if child.Kind() == Symlink {
			resolved, err := fs.followSymlink(child, stack[:i], 0)
			if err != nil {
				return nil, err
			}
			child = resolved
		}
		if child.Kind() != Directory {
			return nil, fmt.Errorf("%s: %w", joinParts(stack[:i+1]), ErrNotDirectory)
		}
		cur = child
	}
	return cur, nil
}

func (fs *FS) followSymlink(link *Node, dirParts []string, depth int) (*Node, error) {
	if depth >= maxSymlinkDepth {
		return nil, ErrSymlinkLoop
	}
	target := link.LinkTarget()
	var targetParts []string
	if strings.HasPrefix(target, "/") {
		targetParts = splitPath(target)
	} else {
		targetParts = append(append([]string{}, dirParts...), splitPath(target)...)
	}
	node, err := fs.resolveFollow(targetParts, depth+1)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// resolveFollow resolves a full absolute path (as clean parts),
// following a trailing symlink, up to the given recursion depth.
func (fs *FS) resolveFollow(parts []string, depth int) (*Node, error) {
	if len(parts) == 0 {
		return fs.root, nil
	}
	dir, err := fs.resolveDirPath(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	name := parts[len(parts)-1]
	node := dir.Lookup(name)
	if node == nil {
		return nil, fmt.Errorf("%s: %w", joinParts(parts), errNoEnt)
	}
	if node.Kind() == Symlink {
		return fs.followSymlink(node, parts[:len(parts)-1], depth)
	}
	return node, nil
}

// Resolve resolves an absolute or cwd-relative path, following a
// trailing symlink if followLink is true (false implements lstat
// semantics: the final component is not followed).
func (fs *FS) Resolve(p string, followLink bool) (*Node, error) {
	abs := fs.abs(p)
	parts := splitPath(abs)
	if len(parts) == 0 {
		return fs.root, nil
	}
	if followLink {
		return fs.resolveFollow(parts, 0)
	}
	dir, err := fs.resolveDirPath(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	node := dir.Lookup(parts[len(parts)-1])
	if node == nil {
		return nil, fmt.Errorf("%s: %w", abs, errNoEnt)
	}
	return node, nil
}

func (fs *FS) abs(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return path.Join(fs.cwd, p)
}

// Getcwd returns the current working directory.
func (fs *FS) Getcwd() string { return fs.cwd }

// Chdir changes the current working directory after resolving and
// verifying p names a directory.
func (fs *FS) Chdir(p string) error {
	node, err := fs.Resolve(p, true)
	if err != nil {
		return err
	}
	if node.Kind() != Directory {
		return ErrNotDirectory
	}
	fs.cwd = fs.abs(p)
	if clean := path.Clean(fs.cwd); clean != "" {
		fs.cwd = clean
	}
	return nil
}

// Mkdir creates a directory at p with the given mode. Parent must
// already exist (matches the mkdir/mkdirat syscall contract; use
// MkdirAll only for internal bootstrap of synthesized trees).
func (fs *FS) Mkdir(p string, mode uint32) error {
	abs := fs.abs(p)
	parts := splitPath(abs)
	dir, name, err := fs.resolveParent(parts)
	if err != nil {
		return err
	}
	if dir.Lookup(name) != nil {
		return errExist
	}
	return dir.Link(name, NewDirectory(mode))
}

// MkdirAll creates p and any missing ancestor directories, used by tar
// ingestion to materialize implied parent directories on demand.
func (fs *FS) MkdirAll(p string, mode uint32) error {
	parts := splitPath(p)
	cur := fs.root
	for i, name := range parts {
		child := cur.Lookup(name)
		if child == nil {
			child = NewDirectory(mode)
			if err := cur.Link(name, child); err != nil {
				return err
			}
		} else if child.Kind() != Directory {
			return fmt.Errorf("%s: %w", joinParts(parts[:i+1]), ErrNotDirectory)
		}
		cur = child
	}
	return nil
}

// Link creates a new directory entry name pointing at an existing
// node, used by tar ingestion, open's O_CREAT path and the
// link(2) syscall (hard links share the same Node, so nlink semantics
// fall naturally out of normal Go reference sharing).
func (fs *FS) Link(p string, node *Node) error {
	abs := fs.abs(p)
	dir, name, err := fs.resolveParent(splitPath(abs))
	if err != nil {
		return err
	}
	return dir.Link(name, node)
}

// Unlink removes the directory entry at p.
func (fs *FS) Unlink(p string) error {
	abs := fs.abs(p)
	dir, name, err := fs.resolveParent(splitPath(abs))
	if err != nil {
		return err
	}
	if !dir.Unlink(name) {
		return errNoEnt
	}
	return nil
}

// Rename moves the entry at oldPath to newPath.
func (fs *FS) Rename(oldPath, newPath string) error {
	oldDir, oldName, err := fs.resolveParent(splitPath(fs.abs(oldPath)))
	if err != nil {
		return err
	}
	node := oldDir.Lookup(oldName)
	if node == nil {
		return errNoEnt
	}
	newDir, newName, err := fs.resolveParent(splitPath(fs.abs(newPath)))
	if err != nil {
		return err
	}
	if err := newDir.Link(newName, node); err != nil {
		return err
	}
	oldDir.Unlink(oldName)
	return nil
}

// Symlink creates a symlink entry at p pointing at target.
func (fs *FS) Symlink(target, p string) error {
	return fs.Link(p, NewSymlink(target))
}

// Readlink returns the target of the symlink at p.
func (fs *FS) Readlink(p string) (string, error) {
	node, err := fs.Resolve(p, false)
	if err != nil {
		return "", err
	}
	if node.Kind() != Symlink {
		return "", fmt.Errorf("not a symlink")
	}
	return node.LinkTarget(), nil
}
