package fragments

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is a byte ordering that can additionally identify itself
// using the DBus wire protocol's endianness flag byte.
type ByteOrder interface {
	binaryOrder
	dbusFlag() byte
}

// binaryOrder is the subset of encoding/binary's ByteOrder machinery
// that ByteOrder builds on.
type binaryOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// stdByteOrder adapts one of encoding/binary's stock orderings into a
// ByteOrder by teaching it to report its DBus flag byte.
type stdByteOrder struct {
	binaryOrder
}

func (w stdByteOrder) dbusFlag() byte {
	switch w.binaryOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown ByteOrder, how did you manage to make one of those?")
	}
}

var (
	BigEndian    = stdByteOrder{binary.BigEndian}
	LittleEndian = stdByteOrder{binary.LittleEndian}
	NativeEndian = stdByteOrder{binary.NativeEndian}
)
