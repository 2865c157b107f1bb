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

// Package compr wraps the third-party compression
// algorithms used for column value blocks behind a
// pair of small interfaces selected by name.
package compr

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses whole blocks.
// Implementations are not safe for concurrent use.
type Compressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Compress appends the compressed contents
	// of src to dst and returns the result.
	Compress(src, dst []byte) []byte
}

// Decompressor is the inverse of Compressor.
type Decompressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Decompress decompresses src into dst,
	// which must be exactly the size of the
	// decompressed data.
	Decompress(src, dst []byte) error
}

var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	zstdDec, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

type zstdCompression struct{}

func (zstdCompression) Name() string { return "zstd" }

func (zstdCompression) Compress(src, dst []byte) []byte {
	return zstdEnc.EncodeAll(src, dst)
}

func (zstdCompression) Decompress(src, dst []byte) error {
	out, err := zstdDec.DecodeAll(src, dst[:0:len(dst)])
	if err != nil {
		return err
	}
	if len(out) != len(dst) {
		return fmt.Errorf("zstd: decompressed %d bytes, want %d", len(out), len(dst))
	}
	return nil
}

type s2Compression struct{}

func (s2Compression) Name() string { return "s2" }

func (s2Compression) Compress(src, dst []byte) []byte {
	return append(dst, s2.Encode(nil, src)...)
}

func (s2Compression) Decompress(src, dst []byte) error {
	out, err := s2.Decode(dst[:0:len(dst)], src)
	if err != nil {
		return err
	}
	if len(out) != len(dst) {
		return fmt.Errorf("s2: decompressed %d bytes, want %d", len(out), len(dst))
	}
	return nil
}

// Compression selects a compression algorithm by name,
// or returns nil if the name is not recognized.
// The returned Compressor reports the same Name.
func Compression(name string) Compressor {
	switch name {
	case "zstd":
		return zstdCompression{}
	case "s2":
		return s2Compression{}
	default:
		return nil
	}
}

// Decompression selects a decompression algorithm by name,
// or returns nil if the name is not recognized.
func Decompression(name string) Decompressor {
	switch name {
	case "zstd":
		return zstdCompression{}
	case "s2":
		return s2Compression{}
	default:
		return nil
	}
}
