// Package crc computes the payload checksums stored in the data and index
// logs. It wraps the standard library's hash/crc32, which already dispatches
// to a hardware-accelerated implementation on architectures that support it
// and falls back to a software slicing-by-8 table otherwise — exactly the
// "hardware CRC where available, falling back to a table" behavior the
// engine requires, without hand-rolled assembly.
package crc

import "hash/crc32"

// ieeeTable is computed once; crc32.ChecksumIEEE does the same internally,
// but holding our own handle keeps the hot path allocation-free and makes
// the dependency on the IEEE polynomial explicit.
var ieeeTable = crc32.MakeTable(crc32.IEEE)

// Checksum returns the IEEE CRC-32 of payload.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, ieeeTable)
}
