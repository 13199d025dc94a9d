package dicom

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
)

// StripPart10Header removes the DICOM Part 10 preamble and File Meta
// Information and returns the dataset bytes together with the transfer
// syntax declared in the meta group.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002, always explicit VR LE)
//   - Dataset
func StripPart10Header(data []byte) ([]byte, string, error) {
	if len(data) < 132 {
		return nil, "", fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}

	if string(data[128:132]) != "DICM" {
		return nil, "", fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	offset := 132
	var transferSyntaxUID string

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		if group != 0x0002 {
			break
		}
		tag := Tag{Group: group, Element: element}

		_, length, valueOffset, err := readElementHeader(data, offset, tag, true)
		if err != nil {
			return nil, "", err
		}
		if valueOffset+int(length) > len(data) {
			return nil, "", fmt.Errorf("file meta element %s exceeds data", tag)
		}

		if tag == TagTransferSyntaxUID {
			transferSyntaxUID = strings.TrimRight(string(data[valueOffset:valueOffset+int(length)]), "\x00 ")
		}
		offset = valueOffset + int(length)
	}

	if offset >= len(data) {
		return nil, "", fmt.Errorf("failed to find dataset after File Meta Information")
	}

	slog.Debug("Parsed File Meta Information",
		"transfer_syntax", transferSyntaxUID,
		"dataset_start_offset", offset)

	return data[offset:], transferSyntaxUID, nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}

// EncodePart10 wraps a dataset in a Part 10 preamble and meta group.
func EncodePart10(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	body, err := EncodeDatasetWithTransferSyntax(dataset, transferSyntaxUID)
	if err != nil {
		return nil, err
	}

	meta := NewDataset()
	meta.AddElement(TagTransferSyntaxUID, VR_UI, transferSyntaxUID)

	out := make([]byte, 128, 132+len(body)+32)
	out = append(out, "DICM"...)
	out = append(out, meta.EncodeDataset()...)
	out = append(out, body...)
	return out, nil
}
