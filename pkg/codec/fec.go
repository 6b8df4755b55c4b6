// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package codec

import (
	"fmt"

	"github.com/Thermoquad/radiolink/pkg/linkstats"
	"github.com/klauspost/reedsolomon"
	"github.com/sigurn/crc8"
)

// FEC is a forward error correction envelope around a block of bytes
type FEC interface {
	// Overhead returns the number of bytes Encode adds to an n byte block
	Overhead(n int) int
	// Encode returns data followed by its parity bytes
	Encode(data []byte) ([]byte, error)
	// Decode strips and checks the parity. The outcome is Good, Corrected
	// or Error; data is nil on Error.
	Decode(block []byte) ([]byte, linkstats.Outcome)
}

// Reed-Solomon layout
const (
	rsDataShards   = 4
	rsParityShards = 2
	rsShards       = rsDataShards + rsParityShards
)

// ReedSolomon protects a block with CRC-8 tagged data shards plus
// Reed-Solomon parity shards. A shard whose CRC fails is treated as an
// erasure and rebuilt from the others.
//
// Layout: data | crc8 per shard (6) | parity shards (2 x shard size)
type ReedSolomon struct {
	enc   reedsolomon.Encoder
	table *crc8.Table
}

// NewReedSolomon creates the default FEC envelope
func NewReedSolomon() (*ReedSolomon, error) {
	enc, err := reedsolomon.New(rsDataShards, rsParityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to create Reed-Solomon encoder: %w", err)
	}
	return &ReedSolomon{enc: enc, table: crc8.MakeTable(crc8.CRC8_MAXIM)}, nil
}

func shardSize(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + rsDataShards - 1) / rsDataShards
}

// Overhead implements FEC
func (r *ReedSolomon) Overhead(n int) int {
	return rsShards + rsParityShards*shardSize(n)
}

// dataLen recovers n from an encoded block length. Encoded length is
// strictly increasing in n, so the answer is unique when it exists.
func (r *ReedSolomon) dataLen(total int) (int, bool) {
	for n := 0; n <= total; n++ {
		l := n + r.Overhead(n)
		if l == total {
			return n, true
		}
		if l > total {
			break
		}
	}
	return 0, false
}

func (r *ReedSolomon) split(data []byte) [][]byte {
	size := shardSize(len(data))
	shards := make([][]byte, rsShards)
	for i := 0; i < rsShards; i++ {
		shards[i] = make([]byte, size)
		if i < rsDataShards {
			lo := i * size
			if lo < len(data) {
				copy(shards[i], data[lo:])
			}
		}
	}
	return shards
}

// Encode implements FEC
func (r *ReedSolomon) Encode(data []byte) ([]byte, error) {
	shards := r.split(data)
	if err := r.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("reed-solomon encode: %w", err)
	}

	out := make([]byte, 0, len(data)+r.Overhead(len(data)))
	out = append(out, data...)
	for _, s := range shards {
		out = append(out, crc8.Checksum(s, r.table))
	}
	for _, s := range shards[rsDataShards:] {
		out = append(out, s...)
	}
	return out, nil
}

// Decode implements FEC
func (r *ReedSolomon) Decode(block []byte) ([]byte, linkstats.Outcome) {
	n, ok := r.dataLen(len(block))
	if !ok {
		return nil, linkstats.Error
	}
	size := shardSize(n)
	data := block[:n]
	crcs := block[n : n+rsShards]
	parity := block[n+rsShards:]

	shards := r.split(data)
	for i := 0; i < rsParityShards; i++ {
		copy(shards[rsDataShards+i], parity[i*size:(i+1)*size])
	}

	bad := 0
	for i, s := range shards {
		if crc8.Checksum(s, r.table) != crcs[i] {
			shards[i] = nil
			bad++
		}
	}

	if bad == 0 {
		if ok, err := r.enc.Verify(shards); err == nil && ok {
			return append([]byte(nil), data...), linkstats.Good
		}
		return nil, linkstats.Error
	}
	if bad > rsParityShards {
		return nil, linkstats.Error
	}
	if err := r.enc.Reconstruct(shards); err != nil {
		return nil, linkstats.Error
	}

	out := make([]byte, 0, rsDataShards*size)
	for _, s := range shards[:rsDataShards] {
		out = append(out, s...)
	}
	// Padding of the last data shard must still be zero
	for _, b := range out[n:] {
		if b != 0 {
			return nil, linkstats.Error
		}
	}
	return out[:n], linkstats.Corrected
}
