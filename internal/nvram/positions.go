// Package nvram implements the Position Store of SPEC_FULL.md §4.9: a
// small, checksum-guarded blob that survives a reboot without homing
// being re-run, persisting the last known position of each joint.
package nvram

import (
	"encoding/binary"
	"math"
)

// Joints is the number of axes whose positions are persisted.
const Joints = 6

// blobLen is 6 float32s (4 bytes each) plus a trailing CRC16.
const blobLen = Joints*4 + 2

// Storage abstracts the backing medium (a host file, a flash page, an
// EEPROM emulation region) so Store can be exercised without real I/O.
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Store persists joint positions in degrees as a little-endian
// float32 blob guarded by a CRC16 checksum.
type Store struct {
	storage Storage
}

// New constructs a Store backed by storage.
func New(storage Storage) *Store {
	return &Store{storage: storage}
}

// Save converts positions to float32, serializes them little-endian,
// appends a CRC16 checksum over the payload, and writes the result.
func (s *Store) Save(positions [Joints]float64) error {
	buf := make([]byte, blobLen)
	for i, p := range positions {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(p)))
	}
	sum := crc16(buf[:Joints*4])
	binary.LittleEndian.PutUint16(buf[Joints*4:], sum)
	return s.storage.Save(buf)
}

// Load reads and validates the persisted blob. It returns false
// (leaving positions as all-zero) on any I/O error, length mismatch,
// or checksum mismatch, since a degraded blob is never safe to trust
// as a substitute for re-homing.
func (s *Store) Load() ([Joints]float64, bool) {
	var out [Joints]float64
	buf, err := s.storage.Load()
	if err != nil || len(buf) != blobLen {
		return out, false
	}
	payload := buf[:Joints*4]
	wantSum := binary.LittleEndian.Uint16(buf[Joints*4:])
	if crc16(payload) != wantSum {
		return out, false
	}
	for i := range out {
		bits := binary.LittleEndian.Uint32(payload[i*4:])
		out[i] = float64(math.Float32frombits(bits))
	}
	return out, true
}
