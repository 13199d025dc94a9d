package types

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
)

// UploadFile is an opaque file payload handed to the upload service
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// NewUploadFile wraps an in-memory payload
func NewUploadFile(name string, data []byte) UploadFile {
	return UploadFile{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// UploadFailure describes one rejected file
type UploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadResult is the outcome of an upload batch
type UploadResult struct {
	Uploaded int             `json:"uploaded"`
	Failed   int             `json:"failed"`
	Errors   []UploadFailure `json:"errors"`
}

// IsDICOMFileName reports whether a file name looks like a DICOM file:
// a .dcm extension in either case, or no extension at all.
func IsDICOMFileName(name string) bool {
	base := filepath.Base(name)
	if strings.HasSuffix(base, ".dcm") || strings.HasSuffix(base, ".DCM") {
		return true
	}
	return !strings.Contains(base, ".")
}

// FilterDICOMFiles keeps only files accepted by IsDICOMFileName
func FilterDICOMFiles(files []UploadFile) []UploadFile {
	kept := make([]UploadFile, 0, len(files))
	for _, f := range files {
		if IsDICOMFileName(f.Name) {
			kept = append(kept, f)
		}
	}
	return kept
}
