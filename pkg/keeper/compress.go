// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package keeper

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names accepted in configuration.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
	CompressionLZ4    = "lz4"
)

// Every compressed frame starts with one byte naming its algorithm, so backups stay
// readable after the configured compression changes.
const (
	frameNone byte = iota
	frameSnappy
	frameZstd
	frameLZ4
)

var errUnknownFrame = errors.New("unknown compression frame")

// Compressor compresses backup snapshots.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
}

// NewCompressor returns the compressor registered under name. An empty name disables compression.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", CompressionNone:
		return noneCompressor{}, nil
	case CompressionSnappy:
		return snappyCompressor{}, nil
	case CompressionZstd:
		return zstdCompressor{}, nil
	case CompressionLZ4:
		return lz4Compressor{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, name)
	}
}

// Decompress reverses any Compressor's output.
func Decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errUnknownFrame
	}
	body := frame[1:]
	switch frame[0] {
	case frameNone:
		return body, nil
	case frameSnappy:
		return snappy.Decode(nil, body)
	case frameZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(body, nil)
	case frameLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownFrame, frame[0])
	}
}

type noneCompressor struct{}

func (noneCompressor) Name() string { return CompressionNone }

func (noneCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte{frameNone}, data...), nil
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return CompressionSnappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte{frameSnappy}, snappy.Encode(nil, data)...), nil
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return CompressionZstd }

func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, []byte{frameZstd}), nil
}

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return CompressionLZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer([]byte{frameLZ4})
	w := lz4.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// zstd encoders and decoders are expensive to build and safe for concurrent
// EncodeAll/DecodeAll, so one of each is shared.
var (
	zstdOnce    sync.Once
	zstdEnc     *zstd.Encoder
	zstdDec     *zstd.Decoder
	zstdInitErr error
)

func initZstd() {
	zstdEnc, zstdInitErr = zstd.NewWriter(nil)
	if zstdInitErr != nil {
		return
	}
	zstdDec, zstdInitErr = zstd.NewReader(nil)
}

func zstdEncoder() (*zstd.Encoder, error) {
	zstdOnce.Do(initZstd)
	return zstdEnc, zstdInitErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(initZstd)
	return zstdDec, zstdInitErr
}
