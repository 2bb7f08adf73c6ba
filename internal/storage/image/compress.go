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

package image

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an image body is stored. The values are part
// of the on-disk format.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the names produced by String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("image: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("image: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the stored payload and the tag actually used. Bodies that
// do not shrink are stored uncompressed.
func compress(body []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionNone:
		return body, CompressionNone, nil

	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(body)))
		n, err := lz4.CompressBlock(body, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(body) {
			return body, CompressionNone, nil
		}
		return dst[:n], CompressionLZ4, nil

	case CompressionZstd:
		dst := zstdEncoder.EncodeAll(body, nil)
		if len(dst) >= len(body) {
			return body, CompressionNone, nil
		}
		return dst, CompressionZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression: %v", c)
	}
}

func decompress(payload []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("body is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil

	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil

	case CompressionZstd:
		dst, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(dst) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(dst), size)
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}
}
