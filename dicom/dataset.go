// Package dicom reads the header attributes of DICOM instances needed to
// order and describe a stack. Pixel data is never decoded.
package dicom

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_OB = "OB" // Other Byte
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SQ = "SQ" // Sequence of Items
	VR_TM = "TM" // Time
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
)

// Transfer syntax UIDs understood by the header reader
const (
	TransferSyntaxImplicitVRLittleEndian = "1.2.840.10008.1.2"
	TransferSyntaxExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	TransferSyntaxExplicitVRBigEndian    = "1.2.840.10008.1.2.2"
	TransferSyntaxDeflatedExplicitVRLE   = "1.2.840.10008.1.2.1.99"
)

// undefinedLength marks sequences and items delimited by markers
const undefinedLength = 0xFFFFFFFF

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

func (t Tag) less(o Tag) bool {
	if t.Group != o.Group {
		return t.Group < o.Group
	}
	return t.Element < o.Element
}

// Tags read by the header reader
var (
	TagTransferSyntaxUID    = Tag{0x0002, 0x0010}
	TagSOPClassUID          = Tag{0x0008, 0x0016}
	TagSOPInstanceUID       = Tag{0x0008, 0x0018}
	TagStudyDate            = Tag{0x0008, 0x0020}
	TagModality             = Tag{0x0008, 0x0060}
	TagStudyDescription     = Tag{0x0008, 0x1030}
	TagSeriesDescription    = Tag{0x0008, 0x103E}
	TagPatientName          = Tag{0x0010, 0x0010}
	TagPatientID            = Tag{0x0010, 0x0020}
	TagStudyInstanceUID     = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID    = Tag{0x0020, 0x000E}
	TagSeriesNumber         = Tag{0x0020, 0x0011}
	TagInstanceNumber       = Tag{0x0020, 0x0013}
	TagImagePositionPatient = Tag{0x0020, 0x0032}
	TagRows                 = Tag{0x0028, 0x0010}
	TagColumns              = Tag{0x0028, 0x0011}
	TagPixelData            = Tag{0x7FE0, 0x0010}
	tagItem                 = Tag{0xFFFE, 0xE000}
	tagItemDelimitation     = Tag{0xFFFE, 0xE00D}
	tagSequenceDelimitation = Tag{0xFFFE, 0xE0DD}
)

// Element represents a DICOM data element. Value holds a string for text
// VRs, []uint16 for US, []uint32 for UL, []float64 for FD and nil for
// skipped sequences and bulk data.
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// GetStrings returns the backslash separated values of a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	s := d.GetString(tag)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\\")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

// GetInt returns the first integer value of a tag. IS strings and binary
// US/UL values are both accepted.
func (d *Dataset) GetInt(tag Tag) (int, bool) {
	element, exists := d.Elements[tag]
	if !exists {
		return 0, false
	}
	switch v := element.Value.(type) {
	case []uint16:
		if len(v) > 0 {
			return int(v[0]), true
		}
	case []uint32:
		if len(v) > 0 {
			return int(v[0]), true
		}
	case string:
		first, _, _ := strings.Cut(v, "\\")
		n, err := strconv.Atoi(strings.TrimSpace(first))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// GetFloats returns the decimal values of a DS or FD tag.
func (d *Dataset) GetFloats(tag Tag) ([]float64, bool) {
	element, exists := d.Elements[tag]
	if !exists {
		return nil, false
	}
	switch v := element.Value.(type) {
	case []float64:
		return append([]float64(nil), v...), true
	case string:
		parts := d.GetStrings(tag)
		if len(parts) == 0 {
			return nil, false
		}
		out := make([]float64, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

// isLongVR reports whether an explicit VR uses the 4-byte length form
func isLongVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little
// Endian). Parsing stops at pixel data.
func ParseDataset(data []byte) (*Dataset, error) {
	return parseDataset(data, true)
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		return parseDataset(data, false)
	case TransferSyntaxExplicitVRBigEndian, TransferSyntaxDeflatedExplicitVRLE:
		return nil, fmt.Errorf("unsupported transfer syntax %s", transferSyntaxUID)
	default:
		// Encapsulated syntaxes keep their header explicit little endian
		return parseDataset(data, true)
	}
}

func parseDataset(data []byte, explicit bool) (*Dataset, error) {
	dataset := NewDataset()

	offset := 0
	for offset+8 <= len(data) {
		tag := Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		if tag == TagPixelData {
			break
		}

		vr, length, valueOffset, err := readElementHeader(data, offset, tag, explicit)
		if err != nil {
			return nil, err
		}

		if vr == VR_SQ || length == undefinedLength {
			end, err := skipSequence(data, valueOffset, length, explicit)
			if err != nil {
				return nil, fmt.Errorf("sequence %s: %w", tag, err)
			}
			dataset.Elements[tag] = &Element{Tag: tag, VR: VR_SQ, Length: length}
			offset = end
			continue
		}

		if valueOffset+int(length) > len(data) {
			return nil, fmt.Errorf("element %s: value length %d exceeds data", tag, length)
		}
		valueData := data[valueOffset : valueOffset+int(length)]
		dataset.Elements[tag] = &Element{
			Tag:    tag,
			VR:     vr,
			Length: length,
			Value:  parseElementValue(vr, valueData),
		}

		offset = valueOffset + int(length)
	}

	return dataset, nil
}

// readElementHeader decodes VR and length at offset
func readElementHeader(data []byte, offset int, tag Tag, explicit bool) (string, uint32, int, error) {
	if !explicit || tag.Group == 0xFFFE {
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		return determineVR(tag), length, offset + 8, nil
	}

	vr := string(data[offset+4 : offset+6])
	if isLongVR(vr) {
		if offset+12 > len(data) {
			return "", 0, 0, fmt.Errorf("element %s: truncated header", tag)
		}
		return vr, binary.LittleEndian.Uint32(data[offset+8 : offset+12]), offset + 12, nil
	}
	return vr, uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8])), offset + 8, nil
}

// skipSequence returns the offset just past a sequence value
func skipSequence(data []byte, offset int, length uint32, explicit bool) (int, error) {
	if length != undefinedLength {
		end := offset + int(length)
		if end > len(data) {
			return 0, fmt.Errorf("length %d exceeds data", length)
		}
		return end, nil
	}

	for offset+8 <= len(data) {
		tag := Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		itemLength := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		switch tag {
		case tagSequenceDelimitation:
			return offset, nil
		case tagItem:
			if itemLength != undefinedLength {
				offset += int(itemLength)
				continue
			}
			end, err := skipItem(data, offset, explicit)
			if err != nil {
				return 0, err
			}
			offset = end
		default:
			return 0, fmt.Errorf("unexpected tag %s in sequence", tag)
		}
	}
	return 0, fmt.Errorf("missing sequence delimiter")
}

// skipItem walks the elements of an undefined-length item up to its
// delimiter
func skipItem(data []byte, offset int, explicit bool) (int, error) {
	for offset+8 <= len(data) {
		tag := Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		if tag == tagItemDelimitation {
			return offset + 8, nil
		}

		vr, length, valueOffset, err := readElementHeader(data, offset, tag, explicit)
		if err != nil {
			return 0, err
		}
		if vr == VR_SQ || length == undefinedLength {
			end, err := skipSequence(data, valueOffset, length, explicit)
			if err != nil {
				return 0, err
			}
			offset = end
			continue
		}
		offset = valueOffset + int(length)
	}
	return 0, fmt.Errorf("missing item delimiter")
}

// parseElementValue decodes binary VRs and returns text VRs as trimmed
// strings
func parseElementValue(vr string, data []byte) interface{} {
	switch vr {
	case VR_US:
		out := make([]uint16, len(data)/2)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		return out
	case VR_UL:
		out := make([]uint32, len(data)/4)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
		return out
	case VR_FD:
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out
	case VR_OB, VR_OW, VR_UN:
		return nil
	}

	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// determineVR determines the VR of implicit VR elements from the tags the
// header reader cares about
func determineVR(tag Tag) string {
	switch tag {
	case TagTransferSyntaxUID, TagSOPClassUID, TagSOPInstanceUID, TagStudyInstanceUID, TagSeriesInstanceUID:
		return VR_UI
	case TagStudyDate:
		return VR_DA
	case TagModality:
		return VR_CS
	case TagStudyDescription, TagSeriesDescription, TagPatientID:
		return VR_LO
	case TagPatientName:
		return VR_PN
	case TagSeriesNumber, TagInstanceNumber:
		return VR_IS
	case TagImagePositionPatient:
		return VR_DS
	case TagRows, TagColumns:
		return VR_US
	case tagItem, tagItemDelimitation, tagSequenceDelimitation:
		return ""
	default:
		return VR_UN
	}
}

func (d *Dataset) sortedTags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].less(tags[j]) })
	return tags
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	var result []byte

	for _, tag := range d.sortedTags() {
		element := d.Elements[tag]
		result = binary.LittleEndian.AppendUint16(result, tag.Group)
		result = binary.LittleEndian.AppendUint16(result, tag.Element)
		result = append(result, element.VR...)

		valueBytes := encodeElementValue(element)
		if isLongVR(element.VR) {
			result = append(result, 0x00, 0x00)
			result = binary.LittleEndian.AppendUint32(result, uint32(len(valueBytes)))
		} else {
			if len(valueBytes) > math.MaxUint16 {
				valueBytes = valueBytes[:math.MaxUint16-1]
			}
			result = binary.LittleEndian.AppendUint16(result, uint16(len(valueBytes)))
		}
		result = append(result, valueBytes...)
	}

	return result
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case "", TransferSyntaxExplicitVRLittleEndian:
		return dataset.EncodeDataset(), nil
	case TransferSyntaxImplicitVRLittleEndian:
		return encodeImplicitVRDataset(dataset), nil
	default:
		return nil, fmt.Errorf("unsupported transfer syntax %s", transferSyntaxUID)
	}
}

func encodeImplicitVRDataset(dataset *Dataset) []byte {
	var result []byte

	for _, tag := range dataset.sortedTags() {
		valueBytes := encodeElementValue(dataset.Elements[tag])
		result = binary.LittleEndian.AppendUint16(result, tag.Group)
		result = binary.LittleEndian.AppendUint16(result, tag.Element)
		result = binary.LittleEndian.AppendUint32(result, uint32(len(valueBytes)))
		result = append(result, valueBytes...)
	}

	return result
}

// encodeElementValue encodes an element value padded to even length
func encodeElementValue(element *Element) []byte {
	var out []byte
	switch v := element.Value.(type) {
	case string:
		out = []byte(strings.TrimRight(v, "\x00"))
	case []string:
		out = []byte(strings.TrimRight(strings.Join(v, "\\"), "\x00"))
	case int:
		out = []byte(strconv.Itoa(v))
	case []float64:
		if element.VR == VR_FD {
			for _, f := range v {
				out = binary.LittleEndian.AppendUint64(out, math.Float64bits(f))
			}
			break
		}
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		out = []byte(strings.Join(parts, "\\"))
	case uint16:
		out = binary.LittleEndian.AppendUint16(nil, v)
	case []uint16:
		for _, n := range v {
			out = binary.LittleEndian.AppendUint16(out, n)
		}
	case uint32:
		out = binary.LittleEndian.AppendUint32(nil, v)
	case []uint32:
		for _, n := range v {
			out = binary.LittleEndian.AppendUint32(out, n)
		}
	case []byte:
		out = append([]byte(nil), v...)
	case nil:
	default:
		out = []byte(fmt.Sprintf("%v", v))
	}

	if len(out)%2 == 1 {
		pad := byte(0x20)
		if element.VR == VR_UI || element.VR == VR_OB {
			pad = 0x00
		}
		out = append(out, pad)
	}
	return out
}
