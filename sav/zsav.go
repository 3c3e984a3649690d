// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/elliotnunn/porsav"
)

// The .zsav layout wraps the (RLE-coded) matrix in zlib blocks: a small
// header locating a trailer, the blocks themselves, then the trailer's
// block table. Offsets are absolute file positions, which is why the
// writer counts every byte it has emitted.
const (
	zsavBlockSize = 0x3ff000
	zheaderSize   = 24
	ztrailerFixed = 24
	zblockDesc    = 24
)

type zblock struct {
	uncompressedOfs  int64
	compressedOfs    int64
	uncompressedSize int32
	compressedSize   int32
}

// readZsav inflates the whole block stream. offset is the absolute file
// position of the zheader (the byte just after the dictionary
// terminator).
func readZsav(r io.Reader, order binary.ByteOrder, offset int64) ([]byte, error) {
	var hdr [zheaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: zsav header: %v", porsav.ErrUnexpectedEOF, err)
	}
	zheaderOfs := int64(order.Uint64(hdr[0:]))
	ztrailerOfs := int64(order.Uint64(hdr[8:]))
	ztrailerLen := int64(order.Uint64(hdr[16:]))

	if zheaderOfs != offset {
		return nil, fmt.Errorf("%w: zsav header claims offset %d, found at %d", porsav.ErrStructure, zheaderOfs, offset)
	}
	blockRegion := ztrailerOfs - offset - zheaderSize
	if blockRegion < 0 || ztrailerLen < ztrailerFixed {
		return nil, fmt.Errorf("%w: zsav trailer geometry", porsav.ErrStructure)
	}

	region := make([]byte, blockRegion)
	if _, err := io.ReadFull(r, region); err != nil {
		return nil, fmt.Errorf("%w: zsav blocks: %v", porsav.ErrUnexpectedEOF, err)
	}
	trailer := make([]byte, ztrailerLen)
	if _, err := io.ReadFull(r, trailer); err != nil {
		return nil, fmt.Errorf("%w: zsav trailer: %v", porsav.ErrUnexpectedEOF, err)
	}

	nblocks := int(order.Uint32(trailer[20:]))
	if int64(ztrailerFixed+nblocks*zblockDesc) != ztrailerLen {
		return nil, fmt.Errorf("%w: zsav trailer holds %d blocks but is %d bytes", porsav.ErrStructure, nblocks, ztrailerLen)
	}

	var out bytes.Buffer
	for i := 0; i < nblocks; i++ {
		d := trailer[ztrailerFixed+i*zblockDesc:]
		blk := zblock{
			uncompressedOfs:  int64(order.Uint64(d[0:])),
			compressedOfs:    int64(order.Uint64(d[8:])),
			uncompressedSize: int32(order.Uint32(d[16:])),
			compressedSize:   int32(order.Uint32(d[20:])),
		}
		start := blk.compressedOfs - offset - zheaderSize
		if start < 0 || start+int64(blk.compressedSize) > int64(len(region)) {
			return nil, fmt.Errorf("%w: zsav block %d outside block region", porsav.ErrStructure, i)
		}
		zr, err := zlib.NewReader(bytes.NewReader(region[start : start+int64(blk.compressedSize)]))
		if err != nil {
			return nil, fmt.Errorf("%w: zsav block %d: %v", porsav.ErrFormat, i, err)
		}
		n, err := io.Copy(&out, zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: zsav block %d: %v", porsav.ErrFormat, i, err)
		}
		if n != int64(blk.uncompressedSize) {
			return nil, fmt.Errorf("%w: zsav block %d inflated to %d bytes, expected %d", porsav.ErrFormat, i, n, blk.uncompressedSize)
		}
	}
	return out.Bytes(), nil
}

// writeZsav deflates the matrix bytes into fixed-size blocks and writes
// header, blocks, and trailer. offset is the absolute position at which
// the zheader will land.
func writeZsav(w io.Writer, order binary.ByteOrder, offset int64, matrix []byte, bias float64) error {
	type packed struct {
		blk  zblock
		data []byte
	}
	var blocks []packed
	compressedOfs := offset + zheaderSize
	for start := 0; start < len(matrix) || (start == 0 && len(matrix) == 0); start += zsavBlockSize {
		end := start + zsavBlockSize
		if end > len(matrix) {
			end = len(matrix)
		}
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(matrix[start:end]); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		blocks = append(blocks, packed{
			blk: zblock{
				uncompressedOfs:  offset + zheaderSize + int64(start),
				compressedOfs:    compressedOfs,
				uncompressedSize: int32(end - start),
				compressedSize:   int32(buf.Len()),
			},
			data: buf.Bytes(),
		})
		compressedOfs += int64(buf.Len())
		if len(matrix) == 0 {
			break
		}
	}

	ztrailerOfs := compressedOfs
	ztrailerLen := int64(ztrailerFixed + len(blocks)*zblockDesc)

	var hdr [zheaderSize]byte
	order.PutUint64(hdr[0:], uint64(offset))
	order.PutUint64(hdr[8:], uint64(ztrailerOfs))
	order.PutUint64(hdr[16:], uint64(ztrailerLen))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, b := range blocks {
		if _, err := w.Write(b.data); err != nil {
			return err
		}
	}

	trailer := make([]byte, ztrailerLen)
	order.PutUint64(trailer[0:], uint64(int64(bias)))
	order.PutUint64(trailer[8:], 0)
	order.PutUint32(trailer[16:], zsavBlockSize)
	order.PutUint32(trailer[20:], uint32(len(blocks)))
	for i, b := range blocks {
		d := trailer[ztrailerFixed+i*zblockDesc:]
		order.PutUint64(d[0:], uint64(b.blk.uncompressedOfs))
		order.PutUint64(d[8:], uint64(b.blk.compressedOfs))
		order.PutUint32(d[16:], uint32(b.blk.uncompressedSize))
		order.PutUint32(d[20:], uint32(b.blk.compressedSize))
	}
	_, err := w.Write(trailer)
	return err
}
