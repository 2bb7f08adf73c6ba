// Copyright 2026 Google LLC
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

// Package image reads and writes pool images for the in-memory engine.
//
// An image is a fixed header followed by the body:
//
//	magic "LZFS" | version (1) | compression (1) | body length (8, LE) |
//	BLAKE3 digest of the uncompressed body (32) | body
//
// The body is the CBOR core-deterministic encoding of a Pool, optionally
// compressed with lz4 (block mode) or zstd.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const (
	magic      = "LZFS"
	version    = 1
	headerSize = 4 + 1 + 1 + 8 + 32

	// Refuse bodies that claim to be larger than this.
	maxBodySize = 1 << 34
)

var (
	// ErrCorrupt is returned when an image fails its integrity check.
	ErrCorrupt = errors.New("image: corrupt")

	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("image: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 27,
		MaxMapPairs:      1 << 27,
	}.DecMode()
	if err != nil {
		panic("image: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode writes p to w.
func Encode(w io.Writer, p *Pool, c Compression) error {
	body, err := encMode.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pool: %w", err)
	}

	digest := blake3.Sum256(body)

	payload, c, err := compress(body, c)
	if err != nil {
		return err
	}

	var hdr [headerSize]byte
	copy(hdr[0:4], magic)
	hdr[4] = version
	hdr[5] = byte(c)
	binary.LittleEndian.PutUint64(hdr[6:14], uint64(len(body)))
	copy(hdr[14:], digest[:])

	if _, err = w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err = w.Write(payload); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Decode reads a pool written by Encode.
func Decode(r io.Reader) (*Pool, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr[0:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[0:4])
	}
	if hdr[4] != version {
		return nil, fmt.Errorf("unsupported image version %d", hdr[4])
	}
	c := Compression(hdr[5])
	size := binary.LittleEndian.Uint64(hdr[6:14])
	if size > maxBodySize {
		return nil, fmt.Errorf("%w: body length %d", ErrCorrupt, size)
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	body, err := decompress(payload, c, int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	digest := blake3.Sum256(body)
	if !bytes.Equal(digest[:], hdr[14:]) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	p := new(Pool)
	if err := decMode.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return p, nil
}

// Save atomically replaces the image at path.
func Save(path string, p *Pool, c Compression) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("CreateTemp: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = Encode(f, p, c); err != nil {
		return
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("Sync: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("Rename: %w", err)
	}
	return nil
}

// Load reads the image at path.
func Load(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
