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

package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

const (
	wrapperHeaderSize = 64
	wrapperMagic      = "FS??"
	wrapperTypePrefix = "CERT"
)

// WrapperHeader is the outer 64-byte container the orchestrator receives
// before the tar.bz2 archive proper (§3's "UpdateArchive wrapper").
type WrapperHeader struct {
	FileSize uint64
	Flags    byte
	Padsize  byte
	Version  byte
	Type     string
}

// unwrap validates the 64-byte header read from the front of a stream and
// returns it, or a BadFormat/WrongHeaderVersion error. raw must be exactly
// wrapperHeaderSize bytes.
func unwrap(raw []byte) (WrapperHeader, error) {
	if len(raw) != wrapperHeaderSize {
		return WrapperHeader{}, errkind.New(errkind.BadFormat, "update archive wrapper: short header", nil)
	}
	if string(raw[0:4]) != wrapperMagic {
		return WrapperHeader{}, errkind.New(errkind.BadFormat, "update archive wrapper: bad magic", nil)
	}

	low := binary.LittleEndian.Uint32(raw[4:8])
	high := binary.LittleEndian.Uint32(raw[8:12])
	fileSize := uint64(high)<<32 | uint64(low)

	h := WrapperHeader{
		FileSize: fileSize,
		Flags:    raw[12],
		Padsize:  raw[13],
		Version:  raw[14],
		Type:     string(bytes.TrimRight(raw[16:32], "\x00")),
	}
	if len(h.Type) < len(wrapperTypePrefix) || h.Type[:len(wrapperTypePrefix)] != wrapperTypePrefix {
		return WrapperHeader{}, errkind.New(errkind.WrongHeaderVersion, "update archive wrapper: type must start with CERT", nil)
	}
	return h, nil
}

// OpenWrapped opens path, validates its 64-byte wrapper header, and
// returns a Reader positioned at the start of the embedded tar.bz2
// stream. file_size is checked against the actual remaining file size.
func OpenWrapped(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.New(errkind.NotFound, path, err)
	}

	header := make([]byte, wrapperHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, errkind.New(errkind.BadFormat, path, err)
	}
	h, err := unwrap(header)
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errkind.New(errkind.ReadError, path, err)
	}
	if h.FileSize != uint64(info.Size())-wrapperHeaderSize {
		f.Close()
		return nil, errkind.New(errkind.BadFormat, path, nil)
	}

	buffered := bufio.NewReaderSize(f, fileBufferSize)
	return newBzip2Reader(f, buffered), nil
}

// OpenWrappedStream validates a wrapper header read from the front of an
// arbitrary stream and returns a Reader over the remaining tar.bz2 bytes.
// file_size is not checked against stream length, since streams of
// unknown total length (e.g. a network body) have none to check against.
func OpenWrappedStream(r io.Reader) (*Reader, error) {
	header := make([]byte, wrapperHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errkind.New(errkind.BadFormat, "update archive wrapper", err)
	}
	if _, err := unwrap(header); err != nil {
		return nil, err
	}
	return OpenStream(r), nil
}
