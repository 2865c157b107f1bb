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

// Package smoosh packs many named byte blobs into a small
// number of bounded-size physical files plus a directory
// manifest, and maps them back out again.
//
// A container directory holds NNNNN.smoosh data files and a
// meta.smoosh manifest locating each blob by
// (file index, start offset, end offset). Blobs are laid
// out in Add order; a blob larger than the file size cap
// occupies a file of its own.
package smoosh

import (
	"bufio"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dchest/siphash"
)

// ManifestName is the name of the directory manifest file.
const ManifestName = "meta.smoosh"

// DefaultMaxFileSize is the default physical file size cap.
const DefaultMaxFileSize = 1<<31 - 1

// data files are hashed with a fixed siphash key;
// the checksum guards against torn copies, not tampering
var hashKey = make([]byte, 16)

type entry struct {
	name       string
	file       int
	start, end int64
}

func dataFileName(idx int) string {
	return fmt.Sprintf("%05d.smoosh", idx)
}

// Writer packs blobs into a container directory.
// Close is the single commit point: until it returns nil,
// no readable container exists.
type Writer struct {
	dir     string
	maxSize int64

	cur     *os.File
	bw      *bufio.Writer
	hash    hash.Hash64
	curIdx  int
	curOff  int64
	sums    []uint64
	entries []entry
	names   map[string]struct{}

	reserved *reservation
	closed   bool
}

// NewWriter creates a container writer rooted at dir.
// maxFileSize bounds each physical file; pass 0 for
// DefaultMaxFileSize.
func NewWriter(dir string, maxFileSize int64) (*Writer, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return &Writer{
		dir:     dir,
		maxSize: maxFileSize,
		curIdx:  -1,
		names:   make(map[string]struct{}),
	}, nil
}

func validName(name string) error {
	if name == "" {
		return errors.New("smoosh: empty blob name")
	}
	if strings.ContainsAny(name, ",\n") {
		return fmt.Errorf("smoosh: blob name %q contains manifest delimiters", name)
	}
	if name == "file" {
		return fmt.Errorf("smoosh: blob name %q is reserved", name)
	}
	return nil
}

func (w *Writer) nextFile() error {
	if err := w.finishFile(); err != nil {
		return err
	}
	w.curIdx++
	f, err := os.Create(filepath.Join(w.dir, dataFileName(w.curIdx)))
	if err != nil {
		return err
	}
	w.cur = f
	w.hash = siphash.New(hashKey)
	w.bw = bufio.NewWriterSize(io.MultiWriter(f, w.hash), 1<<16)
	w.curOff = 0
	return nil
}

func (w *Writer) finishFile() error {
	if w.cur == nil {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.cur.Close(); err != nil {
		return err
	}
	w.sums = append(w.sums, w.hash.Sum64())
	w.cur = nil
	return nil
}

// begin prepares the current data file to receive size
// bytes under name and records the directory entry.
func (w *Writer) begin(name string, size int64) error {
	if w.closed {
		return errors.New("smoosh: writer closed")
	}
	if err := w.settle(); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	if _, ok := w.names[name]; ok {
		return fmt.Errorf("smoosh: duplicate blob name %q", name)
	}
	if w.cur == nil || (w.curOff > 0 && w.curOff+size > w.maxSize) {
		if err := w.nextFile(); err != nil {
			return err
		}
	}
	w.names[name] = struct{}{}
	w.entries = append(w.entries, entry{
		name:  name,
		file:  w.curIdx,
		start: w.curOff,
		end:   w.curOff + size,
	})
	return nil
}

// Add writes b as a blob under name.
func (w *Writer) Add(name string, b []byte) error {
	if err := w.begin(name, int64(len(b))); err != nil {
		return err
	}
	n, err := w.bw.Write(b)
	w.curOff += int64(n)
	return err
}

// Reserve allocates exactly size bytes under name and
// returns a writer for them. The caller must write exactly
// size bytes before the next Add, Reserve, or Close.
func (w *Writer) Reserve(name string, size int64) (io.Writer, error) {
	if err := w.begin(name, size); err != nil {
		return nil, err
	}
	w.reserved = &reservation{w: w, name: name, left: size}
	return w.reserved, nil
}

// settle verifies that an outstanding reservation was
// fully written.
func (w *Writer) settle() error {
	r := w.reserved
	if r == nil {
		return nil
	}
	w.reserved = nil
	if r.left != 0 {
		return fmt.Errorf("smoosh: blob %q short by %d reserved bytes", r.name, r.left)
	}
	return nil
}

type reservation struct {
	w    *Writer
	name string
	left int64
}

func (r *reservation) Write(p []byte) (int, error) {
	if r.w.reserved != r {
		return 0, fmt.Errorf("smoosh: write to settled reservation %q", r.name)
	}
	if int64(len(p)) > r.left {
		return 0, fmt.Errorf("smoosh: blob %q overflows reservation by %d bytes", r.name, int64(len(p))-r.left)
	}
	n, err := r.w.bw.Write(p)
	r.left -= int64(n)
	r.w.curOff += int64(n)
	return n, err
}

// Close settles any outstanding reservation, closes the
// final data file, and commits the directory manifest.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.settle(); err != nil {
		return err
	}
	if err := w.finishFile(); err != nil {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "v1,%d,%d\n", w.maxSize, w.curIdx+1)
	for i, sum := range w.sums {
		fmt.Fprintf(&sb, "file,%d,%016x\n", i, sum)
	}
	for _, e := range w.entries {
		fmt.Fprintf(&sb, "%s,%d,%d,%d\n", e.name, e.file, e.start, e.end)
	}
	tmp := filepath.Join(w.dir, ManifestName+".tmp")
	if err := os.WriteFile(tmp, []byte(sb.String()), 0640); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.dir, ManifestName))
}

// Abort closes any open data file without committing the
// manifest. Data files already written are left for the
// caller to wipe with the output directory.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.reserved = nil
	return w.finishFile()
}
