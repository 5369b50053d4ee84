// Package posproto implements the POSLOYALTY wire protocol spoken by the
// forecourt POS: a fixed 28-byte framed header around XML payloads, and the
// message types for the loyalty conversation (online status, customer
// session, rewards, finalize, cancel).
package posproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame layout, little-endian:
//
//	offset  0: magic "POSLOYALTY\x00\x00" (12 bytes)
//	offset 12: action (uint32, always 1)
//	offset 16: payload length (uint32)
//	offset 20: CRC-32/IEEE of the payload
//	offset 24: CRC-32/IEEE of header bytes 0-23
const (
	headerSize    = 28
	actionMessage = 1

	// DefaultMaxFrameBytes caps the declared payload length on reads.
	DefaultMaxFrameBytes = 1 << 20
)

var frameMagic = [12]byte{'P', 'O', 'S', 'L', 'O', 'Y', 'A', 'L', 'T', 'Y', 0, 0}

var (
	ErrBadMagic        = errors.New("posproto: bad frame magic")
	ErrHeaderChecksum  = errors.New("posproto: header checksum mismatch")
	ErrPayloadChecksum = errors.New("posproto: payload checksum mismatch")
	ErrFrameTooLarge   = errors.New("posproto: declared frame exceeds maximum")
)

// EncodeFrame wraps an XML payload in a framed header with both checksums.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	copy(buf[0:12], frameMagic[:])
	binary.LittleEndian.PutUint32(buf[12:16], actionMessage)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[20:24], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(buf[24:28], crc32.ChecksumIEEE(buf[:24]))
	copy(buf[headerSize:], payload)
	return buf
}

// WriteFrame encodes and writes one frame.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(EncodeFrame(payload))
	return err
}

// ReadFrame reads one frame and returns its payload. A clean connection
// close before any header byte surfaces as io.EOF; a close mid-frame is
// io.ErrUnexpectedEOF. maxPayloadBytes of zero means DefaultMaxFrameBytes.
func ReadFrame(r io.Reader, maxPayloadBytes uint32) ([]byte, error) {
	if maxPayloadBytes == 0 {
		maxPayloadBytes = DefaultMaxFrameBytes
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(header[0:12], frameMagic[:]) {
		return nil, ErrBadMagic
	}
	if crc32.ChecksumIEEE(header[:24]) != binary.LittleEndian.Uint32(header[24:28]) {
		return nil, ErrHeaderChecksum
	}

	length := binary.LittleEndian.Uint32(header[16:20])
	if length > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes declared, max %d", ErrFrameTooLarge, length, maxPayloadBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[20:24]) {
		return nil, ErrPayloadChecksum
	}
	return payload, nil
}
