// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package writeout provides scoped scratch storage for
// column serializers. Every slab opened through a Medium
// is released when the Medium is closed, so a merge can
// guarantee reclamation of its temporaries on every exit
// path with a single deferred Close.
package writeout

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Kind selects the backing storage for slabs
// opened through a Medium.
type Kind int

const (
	// OnHeap keeps slab contents in memory.
	OnHeap Kind = iota
	// TempFile spills slab contents to temporary
	// files beneath the medium directory.
	TempFile
)

// A Medium owns a set of scratch slabs with a common
// lifetime. The zero value is not usable; call New.
type Medium struct {
	dir     string
	kind    Kind
	slabs   []*Slab
	cleanup []func() error
	closed  bool
}

// New creates a Medium. For TempFile media, scratch files
// are created beneath dir, which is created if necessary
// and removed again by Close.
func New(dir string, kind Kind) (*Medium, error) {
	if kind == TempFile {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}
	return &Medium{dir: dir, kind: kind}, nil
}

// Open creates a new named scratch slab.
func (m *Medium) Open(name string) (*Slab, error) {
	if m.closed {
		return nil, errors.New("writeout: medium already closed")
	}
	s := &Slab{name: name}
	if m.kind == TempFile {
		f, err := os.CreateTemp(m.dir, name+"-*")
		if err != nil {
			return nil, err
		}
		s.file = f
		s.bw = bufio.NewWriter(f)
	}
	m.slabs = append(m.slabs, s)
	return s, nil
}

// OnClose registers fn to run when the medium is closed.
// Registered functions run in reverse registration order
// before the slabs are released.
func (m *Medium) OnClose(fn func() error) {
	m.cleanup = append(m.cleanup, fn)
}

// Close releases every slab opened through m and runs the
// registered cleanup functions. The first error wins; later
// failures do not shadow it.
func (m *Medium) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var first error
	for i := len(m.cleanup) - 1; i >= 0; i-- {
		if err := m.cleanup[i](); err != nil && first == nil {
			first = err
		}
	}
	for _, s := range m.slabs {
		if err := s.release(); err != nil && first == nil {
			first = err
		}
	}
	if m.kind == TempFile {
		if err := os.RemoveAll(m.dir); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// A Slab is an append-only scratch stream. Contents are
// written once, then copied out with WriteTo when the
// owning column is flushed to the container.
type Slab struct {
	name string
	mem  bytes.Buffer
	file *os.File
	bw   *bufio.Writer
	size int64
}

// Write implements io.Writer.
func (s *Slab) Write(p []byte) (int, error) {
	var n int
	var err error
	if s.file != nil {
		n, err = s.bw.Write(p)
	} else {
		n, err = s.mem.Write(p)
	}
	s.size += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (s *Slab) Size() int64 { return s.size }

// WriteTo copies the slab contents to w from the beginning.
func (s *Slab) WriteTo(w io.Writer) (int64, error) {
	if s.file == nil {
		return io.Copy(w, bytes.NewReader(s.mem.Bytes()))
	}
	if err := s.bw.Flush(); err != nil {
		return 0, err
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, s.file)
	if err != nil {
		return n, err
	}
	if n != s.size {
		return n, fmt.Errorf("writeout: slab %s: copied %d of %d bytes", s.name, n, s.size)
	}
	return n, nil
}

// Bytes returns the slab contents. For file-backed slabs
// this reads the scratch file back into memory.
func (s *Slab) Bytes() ([]byte, error) {
	if s.file == nil {
		return s.mem.Bytes(), nil
	}
	if err := s.bw.Flush(); err != nil {
		return nil, err
	}
	return os.ReadFile(s.file.Name())
}

func (s *Slab) release() error {
	if s.file == nil {
		s.mem.Reset()
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rmerr := os.Remove(name); err == nil {
		err = rmerr
	}
	s.file = nil
	return err
}

// TempDir returns a fresh scratch directory path beneath
// base suitable for a Medium or an intermediate segment.
func TempDir(base, prefix string) (string, error) {
	dir, err := os.MkdirTemp(base, prefix)
	if err != nil {
		return "", err
	}
	return filepath.Clean(dir), nil
}
