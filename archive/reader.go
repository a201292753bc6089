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

// Package archive streams a tar.bz2 update archive, entry by entry
// (component C3), and extracts it into a sandboxed directory with
// path-traversal protection (component C4).
package archive

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

const (
	fileBufferSize   = 8 * 1024
	streamBufferSize = 64 * 1024
)

// EntryKind classifies a tar entry for the purposes of extraction.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindLink
)

// Entry is one tar header, translated into the kind vocabulary this engine
// cares about.
type Entry struct {
	Pathname string
	Mode     int64
	Size     int64
	Kind     EntryKind
	Linkname string
	ModTime  int64
}

// Reader iterates the entries of a bzip2-compressed tar stream. Open either
// from a file path (fileBufferSize buffering) or from an arbitrary
// io.Reader (streamBufferSize buffering, e.g. a network body).
type Reader struct {
	closer io.Closer
	tr     *tar.Reader
}

// Open reads a tar.bz2 archive from path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.New(errkind.NotFound, path, err)
	}
	buffered := bufio.NewReaderSize(f, fileBufferSize)
	return newBzip2Reader(f, buffered), nil
}

// newBzip2Reader builds a Reader over an already-positioned buffered
// stream, closing closer (if non-nil) on Close.
func newBzip2Reader(closer io.Closer, buffered io.Reader) *Reader {
	return &Reader{
		closer: closer,
		tr:     tar.NewReader(bzip2.NewReader(buffered)),
	}
}

// OpenStream reads a tar.bz2 archive from an arbitrary stream, e.g. one
// already held in memory by the caller.
func OpenStream(r io.Reader) *Reader {
	buffered := bufio.NewReaderSize(r, streamBufferSize)
	return &Reader{
		tr: tar.NewReader(bzip2.NewReader(buffered)),
	}
}

// Next returns the next entry, or io.EOF when the archive is exhausted.
func (r *Reader) Next() (*Entry, error) {
	hdr, err := r.tr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errkind.New(errkind.BadFormat, "tar", err)
	}

	e := &Entry{
		Pathname: hdr.Name,
		Mode:     hdr.Mode,
		Size:     hdr.Size,
		Linkname: hdr.Linkname,
		ModTime:  hdr.ModTime.Unix(),
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		e.Kind = KindDir
	case tar.TypeSymlink, tar.TypeLink:
		e.Kind = KindLink
	default:
		e.Kind = KindFile
	}
	return e, nil
}

// PullChunk reads up to len(buf) bytes of the current entry's data, the
// "pull next data block" primitive in §4.3. Callers loop until io.EOF.
func (r *Reader) PullChunk(buf []byte) (int, error) {
	n, err := r.tr.Read(buf)
	if err != nil && err != io.EOF {
		return n, errors.Wrap(err, "archive: error reading entry data")
	}
	return n, err
}

// Close releases the underlying file, if any (OpenStream archives have
// nothing to close).
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
