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

package smoosh

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dchest/siphash"
)

// Reader resolves blob names inside a committed container
// directory to byte ranges of the mapped data files.
type Reader struct {
	dir     string
	files   [][]byte
	mapped  []bool
	entries map[string]entry
	order   []string
}

// Open opens the container at dir, verifying the manifest
// and the per-file checksums.
func Open(dir string) (*Reader, error) {
	f, err := os.Open(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := &Reader{dir: dir, entries: make(map[string]entry)}
	sums := make(map[int]uint64)
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("smoosh: %s: empty manifest", dir)
	}
	header := strings.Split(sc.Text(), ",")
	if len(header) != 3 || header[0] != "v1" {
		return nil, fmt.Errorf("smoosh: %s: bad manifest header %q", dir, sc.Text())
	}
	numFiles, err := strconv.Atoi(header[2])
	if err != nil {
		return nil, fmt.Errorf("smoosh: %s: bad file count: %w", dir, err)
	}
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ",")
		if fields[0] == "file" {
			if len(fields) != 3 {
				return nil, fmt.Errorf("smoosh: bad file line %q", sc.Text())
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, err
			}
			sum, err := strconv.ParseUint(fields[2], 16, 64)
			if err != nil {
				return nil, err
			}
			sums[idx] = sum
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("smoosh: bad manifest line %q", sc.Text())
		}
		var e entry
		e.name = fields[0]
		if e.file, err = strconv.Atoi(fields[1]); err != nil {
			return nil, err
		}
		if e.start, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
			return nil, err
		}
		if e.end, err = strconv.ParseInt(fields[3], 10, 64); err != nil {
			return nil, err
		}
		r.entries[e.name] = e
		r.order = append(r.order, e.name)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	r.files = make([][]byte, numFiles)
	r.mapped = make([]bool, numFiles)
	for i := 0; i < numFiles; i++ {
		mem, wasMapped, err := mapFile(filepath.Join(dir, dataFileName(i)))
		if err != nil {
			r.Close()
			return nil, err
		}
		r.files[i] = mem
		r.mapped[i] = wasMapped
		if want, ok := sums[i]; ok {
			h := siphash.New(hashKey)
			h.Write(mem)
			if got := h.Sum64(); got != want {
				r.Close()
				return nil, fmt.Errorf("smoosh: %s: checksum mismatch (%016x != %016x)",
					dataFileName(i), got, want)
			}
		}
	}
	return r, nil
}

// Get returns the bytes of the named blob. The returned
// slice aliases the mapped file and is only valid until
// Close.
func (r *Reader) Get(name string) ([]byte, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("smoosh: no blob %q", name)
	}
	if e.file >= len(r.files) || e.end > int64(len(r.files[e.file])) || e.start > e.end {
		return nil, fmt.Errorf("smoosh: blob %q: bad range [%d:%d] in file %d", name, e.start, e.end, e.file)
	}
	return r.files[e.file][e.start:e.end], nil
}

// Has reports whether the container holds a blob called name.
func (r *Reader) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names returns the blob names in manifest order.
func (r *Reader) Names() []string {
	return append([]string(nil), r.order...)
}

// Close unmaps the data files.
func (r *Reader) Close() error {
	var first error
	for i, mem := range r.files {
		if mem == nil || !r.mapped[i] {
			continue
		}
		if err := unmap(mem); err != nil && first == nil {
			first = err
		}
		r.files[i] = nil
	}
	return first
}
