package crate

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// MaxMetadataSize bounds the decompressed size of the metadata entry.
const MaxMetadataSize = 64 << 20

var (
	ErrNotArchive        = errors.New("payload is not a valid zip archive")
	ErrEmptyArchive      = errors.New("zip archive contains no entries")
	ErrMissingMetadata   = errors.New("zip archive has no " + MetadataFileName + " entry")
	ErrDuplicateMetadata = errors.New("zip archive has more than one " + MetadataFileName + " entry")
	ErrMetadataTooLarge  = fmt.Errorf("%s exceeds %d bytes", MetadataFileName, MaxMetadataSize)
)

var errMetadataIsDirectory = errors.New(MetadataFileName + " is a directory")

// Entry is an auxiliary file placed next to the metadata document by Pack.
type Entry struct {
	Name string
	Data []byte
}

// Unpack returns the content of the archive entry named exactly
// ro-crate-metadata.json. Other entries are ignored, and so are entries of
// that name inside subdirectories.
func Unpack(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	if len(zr.File) == 0 {
		return nil, ErrEmptyArchive
	}

	var meta *zip.File
	for _, f := range zr.File {
		if f.Name != MetadataFileName {
			continue
		}
		if meta != nil {
			return nil, ErrDuplicateMetadata
		}
		meta = f
	}
	if meta == nil {
		return nil, ErrMissingMetadata
	}
	if meta.FileInfo().IsDir() {
		return nil, errMetadataIsDirectory
	}

	rc, err := meta.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrNotArchive, MetadataFileName, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, MaxMetadataSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrNotArchive, MetadataFileName, err)
	}
	if len(content) > MaxMetadataSize {
		return nil, ErrMetadataTooLarge
	}
	return content, nil
}

// Pack writes metadata as ro-crate-metadata.json followed by the extra
// entries, in order, into a new ZIP archive.
func Pack(metadata []byte, extra ...Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := append([]Entry{{Name: MetadataFileName, Data: metadata}}, extra...)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
