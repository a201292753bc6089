// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

// Package appbundle implements the signed application bundle container
// (component C6): a fixed 16-byte header, a payload region, a fixed-width
// timestamp, a detached signature, and optional trailing PEM certificates.
package appbundle

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

const (
	headerSize       = 16
	timestampSize    = 26
	requiredVersion  = 1
	certMarker       = "\n-----BEGIN CERTIFICATE-----"
	payloadChunkSize = 512
)

// Bundle is a read-only, random-access view over an on-disk application
// bundle file.
type Bundle struct {
	f             *os.File
	payloadSize   uint64
	headerVersion uint32
	headerCRC32   uint32
}

// Open validates the bundle's fixed header and returns a handle ready for
// payload/timestamp/signature access. The file is kept open until Close.
func Open(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.New(errkind.NotFound, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errkind.New(errkind.ReadError, path, err)
	}

	header := make([]byte, headerSize)
	if _, err := readFullAt(f, header, 0); err != nil {
		f.Close()
		return nil, errkind.New(errkind.BadFormat, path, err)
	}

	payloadSize := binary.BigEndian.Uint64(header[0:8])
	headerVersion := binary.BigEndian.Uint32(header[8:12])
	headerCRC32 := binary.BigEndian.Uint32(header[12:16])

	if uint64(info.Size()) <= headerSize+payloadSize+timestampSize {
		f.Close()
		return nil, errkind.New(errkind.BadFormat, path, errors.New("appbundle: file too small for recorded payload_size"))
	}
	if headerVersion != requiredVersion {
		f.Close()
		return nil, errkind.New(errkind.WrongHeaderVersion, path, nil)
	}
	if crc32.ChecksumIEEE(header[0:12]) != headerCRC32 {
		f.Close()
		return nil, errkind.New(errkind.BadHeaderChecksum, path, nil)
	}

	return &Bundle{
		f:             f,
		payloadSize:   payloadSize,
		headerVersion: headerVersion,
		headerCRC32:   headerCRC32,
	}, nil
}

func (b *Bundle) Close() error {
	return b.f.Close()
}

func (b *Bundle) PayloadSize() uint64 {
	return b.payloadSize
}

func (b *Bundle) payloadOffset() int64 {
	return headerSize
}

func (b *Bundle) timestampOffset() int64 {
	return headerSize + int64(b.payloadSize)
}

func (b *Bundle) signatureOffset() int64 {
	return b.timestampOffset() + timestampSize
}

// ReadPayload streams the payload region to sink in chunkSize chunks; the
// final chunk may be shorter.
func (b *Bundle) ReadPayload(chunkSize int, sink func([]byte) error) error {
	remaining := b.payloadSize
	offset := b.payloadOffset()
	buf := make([]byte, chunkSize)

	for remaining > 0 {
		n := uint64(chunkSize)
		if remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := readFullAt(b.f, chunk, offset); err != nil {
			return errkind.New(errkind.ReadError, "payload", err)
		}
		if err := sink(chunk); err != nil {
			return err
		}
		offset += int64(n)
		remaining -= n
	}
	return nil
}

// TimestampBytes returns the 26 raw bytes of the signing-time field.
func (b *Bundle) TimestampBytes() ([]byte, error) {
	buf := make([]byte, timestampSize)
	if _, err := readFullAt(b.f, buf, b.timestampOffset()); err != nil {
		return nil, errkind.New(errkind.ReadError, "timestamp", err)
	}
	return buf, nil
}

// SigningTime parses the timestamp field per §4.5: take the longest prefix
// made of digits, 'T', ':', '-', 'Z', '+'; strip a trailing 'Z'; parse as
// "2006-01-02T15:04:05" in the local time zone (the stripped 'Z' is not
// taken to mean UTC).
func (b *Bundle) SigningTime() (time.Time, error) {
	raw, err := b.TimestampBytes()
	if err != nil {
		return time.Time{}, err
	}

	prefix := longestTimestampPrefix(raw)
	prefix = strings.TrimSuffix(prefix, "Z")

	t, err := time.ParseInLocation("2006-01-02T15:04:05", prefix, time.Local)
	if err != nil {
		return time.Time{}, errkind.New(errkind.BadFormat, "signing_time", err)
	}
	return t, nil
}

func longestTimestampPrefix(raw []byte) string {
	isTimestampChar := func(c byte) bool {
		switch {
		case c >= '0' && c <= '9':
			return true
		case c == 'T' || c == ':' || c == '-' || c == 'Z' || c == '+':
			return true
		default:
			return false
		}
	}
	i := 0
	for i < len(raw) && isTimestampChar(raw[i]) {
		i++
	}
	return string(raw[:i])
}

// Signature returns the detached signature bytes: everything from the end
// of the timestamp field to the first occurrence of the certificate
// marker, or to EOF if no certificate follows.
func (b *Bundle) Signature() ([]byte, error) {
	info, err := b.f.Stat()
	if err != nil {
		return nil, errkind.New(errkind.ReadError, "signature", err)
	}

	tail := info.Size() - b.signatureOffset()
	if tail <= 0 {
		return nil, errkind.New(errkind.BadFormat, "signature", errors.New("appbundle: empty signature region"))
	}

	buf := make([]byte, tail)
	if _, err := readFullAt(b.f, buf, b.signatureOffset()); err != nil {
		return nil, errkind.New(errkind.ReadError, "signature", err)
	}

	sig := buf
	if idx := bytes.Index(buf, []byte(certMarker)); idx >= 0 {
		sig = buf[:idx]
	}
	if len(sig) == 0 {
		return nil, errkind.New(errkind.BadFormat, "signature", errors.New("appbundle: zero-length signature"))
	}
	return sig, nil
}

// CopyPayloadTo streams the payload to a freshly created file at destPath,
// flushing after each chunk and fsyncing before close, per §4.5's ordering
// contract.
func (b *Bundle) CopyPayloadTo(destPath string) error {
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errkind.New(errkind.WriteError, destPath, err)
	}

	err = b.ReadPayload(payloadChunkSize, func(chunk []byte) error {
		if _, werr := out.Write(chunk); werr != nil {
			return errkind.New(errkind.WriteError, destPath, werr)
		}
		if serr := out.Sync(); serr != nil {
			return errkind.New(errkind.SyncError, destPath, serr)
		}
		return nil
	})
	if err != nil {
		out.Close()
		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return errkind.New(errkind.SyncError, destPath, err)
	}
	return out.Close()
}

func readFullAt(f *os.File, buf []byte, offset int64) (int, error) {
	return f.ReadAt(buf, offset)
}
