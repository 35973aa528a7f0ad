package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// Bucket sizes for padded bodies. Every padded body lands on one of
// these sizes so observers cannot distinguish message lengths within
// a bucket.
const (
	PadBucket256   = 256
	PadBucket1024  = 1024
	PadBucket4096  = 4096
	PadBucket16384 = 16384
)

var ErrInvalidPadding = errors.New("invalid padding length")

// PadBody pads a packet body up to the next bucket size. The padded
// form is [original_length:4B][body][random fill]. Callers set
// FlagPadded on the header alongside.
func PadBody(body []byte) ([]byte, error) {
	originalLen := len(body)

	var targetSize int
	switch {
	case originalLen <= PadBucket256-4:
		targetSize = PadBucket256
	case originalLen <= PadBucket1024-4:
		targetSize = PadBucket1024
	case originalLen <= PadBucket4096-4:
		targetSize = PadBucket4096
	case originalLen <= PadBucket16384-4:
		targetSize = PadBucket16384
	default:
		targetSize = ((originalLen + 4 + PadBucket16384 - 1) / PadBucket16384) * PadBucket16384
	}

	padded := make([]byte, targetSize)
	binary.BigEndian.PutUint32(padded[0:4], uint32(originalLen))
	copy(padded[4:], body)

	if _, err := rand.Read(padded[4+originalLen:]); err != nil {
		return nil, fmt.Errorf("failed to fill padding: %w", err)
	}

	return padded, nil
}

// UnpadBody strips padding applied by PadBody
func UnpadBody(padded []byte) ([]byte, error) {
	if len(padded) < 4 {
		return nil, ErrInvalidPadding
	}

	originalLen := binary.BigEndian.Uint32(padded[0:4])
	if int(originalLen) > len(padded)-4 {
		return nil, ErrInvalidPadding
	}

	body := make([]byte, originalLen)
	copy(body, padded[4:4+originalLen])

	return body, nil
}

// ShouldPad reports whether bodies of this packet type are padded when
// padding is enabled. Only user text carries content worth hiding;
// control packets have fixed shapes already.
func ShouldPad(pktType uint8) bool {
	switch pktType {
	case TypeText, TypeGroupText, TypeEdit:
		return true
	default:
		return false
	}
}
