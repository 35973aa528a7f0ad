package engine

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// maxShards is the Reed-Solomon limit on data+parity shards per
// transfer. Transfers that split into more chunks ship without FEC.
const maxShards = 256

// buildParityShards computes parity chunks over the data chunks. Every
// shard handed to the encoder must be chunkSize long, so the short
// tail chunk is padded with zeros for the computation only; the wire
// still carries the unpadded tail.
func buildParityShards(chunks [][]byte, chunkSize, parity int) ([][]byte, error) {
	enc, err := reedsolomon.New(len(chunks), parity)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %v", err)
	}

	shards := make([][]byte, len(chunks)+parity)
	for i, c := range chunks {
		if len(c) < chunkSize {
			padded := make([]byte, chunkSize)
			copy(padded, c)
			c = padded
		}
		shards[i] = c
	}
	for i := len(chunks); i < len(shards); i++ {
		shards[i] = make([]byte, chunkSize)
	}

	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode parity: %v", err)
	}
	return shards[len(chunks):], nil
}

// reconstructData fills in missing data shards from parity. Missing
// shards are nil on input and populated in place on success.
func reconstructData(shards [][]byte, data, parity int) error {
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %v", err)
	}

	if err := enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("failed to reconstruct: %v", err)
	}

	ok, err := enc.Verify(shards)
	if err != nil {
		return fmt.Errorf("failed to verify: %v", err)
	}
	if !ok {
		return fmt.Errorf("shard verification failed")
	}
	return nil
}
