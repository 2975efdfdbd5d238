// Copyright 2024 The Ucore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vfs implements the small filesystem surface the loader and the
// kernel core consume as an external collaborator: an INode interface
// (INode.ReadAt(offset, buf), root-relative LookupFollow(path, max_depth)),
// a minimal in-memory filesystem implementing it, and symlink-following
// lookup bounded by a depth limit.
package vfs

import (
	"fmt"
	"path"
	"strings"

	"ucore.dev/ucore/pkg/errors/linuxerr"
)

// INode is the filesystem node interface the loader reads executables and
// interpreters through.
type INode interface {
	// ReadAt reads into buf starting at offset, stdlib io.ReaderAt style.
	ReadAt(offset int64, buf []byte) (int, error)
	// Lookup resolves one path component relative to this node.
	Lookup(name string) (INode, error)
	// Symlink reports whether this node is a symbolic link and, if so, its
	// target.
	Symlink() (target string, ok bool)
}

// memFile is a plain regular file: ReadAt reads from data, Lookup always
// fails.
type memFile struct {
	data []byte
}

func (f *memFile) ReadAt(offset int64, buf []byte) (int, error) {
	if offset < 0 || offset >= int64(len(f.data)) {
		if offset == int64(len(f.data)) {
			return 0, nil
		}
		return 0, fmt.Errorf("readat %d: %w", offset, linuxerr.EINVAL)
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *memFile) Lookup(string) (INode, error) {
	return nil, fmt.Errorf("lookup on regular file: %w", linuxerr.ENOENT)
}

func (f *memFile) Symlink() (string, bool) { return "", false }

// memDir is a directory of named children, including optional symlinks.
type memDir struct {
	children map[string]INode
}

func (d *memDir) ReadAt(int64, []byte) (int, error) {
	return 0, fmt.Errorf("readat on directory: %w", linuxerr.EINVAL)
}

func (d *memDir) Lookup(name string) (INode, error) {
	if n, ok := d.children[name]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("lookup %q: %w", name, linuxerr.ENOENT)
}

func (d *memDir) Symlink() (string, bool) { return "", false }

// memSymlink is a symbolic link to target.
type memSymlink struct {
	target string
}

func (s *memSymlink) ReadAt(int64, []byte) (int, error) {
	return 0, fmt.Errorf("readat on symlink: %w", linuxerr.EINVAL)
}
func (s *memSymlink) Lookup(string) (INode, error) {
	return nil, fmt.Errorf("lookup through unresolved symlink: %w", linuxerr.EINVAL)
}
func (s *memSymlink) Symlink() (string, bool) { return s.target, true }

// MemFS is a minimal in-memory filesystem builder, used to assemble the
// handful of files and symlinks the end-to-end scenarios need (an
// executable, an interpreter, a symlinked /lib/ld-musl-*.so.1 path).
type MemFS struct {
	root *memDir
}

// NewMemFS returns an empty filesystem with just a root directory.
func NewMemFS() *MemFS {
	return &MemFS{root: &memDir{children: make(map[string]INode)}}
}

// Root returns the filesystem's root INode.
func (fs *MemFS) Root() INode { return fs.root }

// AddFile installs data at the absolute path p, creating intermediate
// directories as needed.
func (fs *MemFS) AddFile(p string, data []byte) {
	dir, base := fs.mkdirAll(path.Dir(p)), path.Base(p)
	dir.children[base] = &memFile{data: data}
}

// AddSymlink installs a symlink at the absolute path p pointing at target.
func (fs *MemFS) AddSymlink(p, target string) {
	dir, base := fs.mkdirAll(path.Dir(p)), path.Base(p)
	dir.children[base] = &memSymlink{target: target}
}

func (fs *MemFS) mkdirAll(p string) *memDir {
	p = strings.Trim(p, "/")
	cur := fs.root
	if p == "" || p == "." {
		return cur
	}
	for _, part := range strings.Split(p, "/") {
		next, ok := cur.children[part]
		if !ok {
			nd := &memDir{children: make(map[string]INode)}
			cur.children[part] = nd
			cur = nd
			continue
		}
		nd, ok := next.(*memDir)
		if !ok {
			nd = &memDir{children: make(map[string]INode)}
			cur.children[part] = nd
		}
		cur = nd
	}
	return cur
}

// LookupFollow resolves an absolute path from root, following symlinks up
// to maxDepth times before giving up with ELOOP — the Go analogue of
// ROOT_INODE.lookup_follow(path, FOLLOW_MAX_DEPTH).
func LookupFollow(root INode, p string, maxDepth int) (INode, error) {
	return lookupFollow(root, p, maxDepth)
}

func lookupFollow(root INode, p string, depth int) (INode, error) {
	if depth <= 0 {
		return nil, linuxerr.ELOOP
	}
	cur := root
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		next, err := cur.Lookup(part)
		if err != nil {
			return nil, err
		}
		if target, ok := next.Symlink(); ok {
			resolved, err := lookupFollow(root, target, depth-1)
			if err != nil {
				return nil, err
			}
			next = resolved
		}
		cur = next
	}
	return cur, nil
}
