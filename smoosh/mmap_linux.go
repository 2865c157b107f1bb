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

//go:build linux

package smoosh

import (
	"math"
	"os"
	"syscall"
)

func mapFile(fp string) ([]byte, bool, error) {
	f, err := os.Open(fp)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	if info.Size() == 0 {
		return []byte{}, false, nil
	}
	if info.Size() > math.MaxInt {
		// fall back to a plain read; should not
		// happen for bounded container files
		mem, err := os.ReadFile(fp)
		return mem, false, err
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()), syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return mem, true, nil
}

func unmap(mem []byte) error {
	return syscall.Munmap(mem)
}
