package dicom

import (
	"fmt"

	"github.com/caio-sobreiro/dicomview/types"
)

// Header holds the attributes used to list, order and describe an instance
type Header struct {
	TransferSyntaxUID    string
	SOPClassUID          string
	SOPInstanceUID       string
	StudyInstanceUID     string
	SeriesInstanceUID    string
	PatientName          string
	PatientID            string
	StudyDate            string
	StudyDescription     string
	SeriesDescription    string
	Modality             string
	SeriesNumber         int
	InstanceNumber       int
	ImagePositionPatient []float64
	Rows                 int
	Columns              int
}

// ReadHeader parses the header of a DICOM instance. Both Part 10 files and
// raw explicit VR little endian datasets are accepted.
func ReadHeader(data []byte) (*Header, error) {
	payload := data
	ts := TransferSyntaxExplicitVRLittleEndian
	if HasPart10Header(data) {
		body, declared, err := StripPart10Header(data)
		if err != nil {
			return nil, err
		}
		payload = body
		if declared != "" {
			ts = declared
		}
	}

	ds, err := ParseDatasetWithTransferSyntax(payload, ts)
	if err != nil {
		return nil, err
	}

	h := &Header{
		TransferSyntaxUID: ts,
		SOPClassUID:       ds.GetString(TagSOPClassUID),
		SOPInstanceUID:    ds.GetString(TagSOPInstanceUID),
		StudyInstanceUID:  ds.GetString(TagStudyInstanceUID),
		SeriesInstanceUID: ds.GetString(TagSeriesInstanceUID),
		PatientName:       ds.GetString(TagPatientName),
		PatientID:         ds.GetString(TagPatientID),
		StudyDate:         ds.GetString(TagStudyDate),
		StudyDescription:  ds.GetString(TagStudyDescription),
		SeriesDescription: ds.GetString(TagSeriesDescription),
		Modality:          ds.GetString(TagModality),
	}
	if h.SOPInstanceUID == "" {
		return nil, fmt.Errorf("missing SOP Instance UID %s", TagSOPInstanceUID)
	}

	h.SeriesNumber, _ = ds.GetInt(TagSeriesNumber)
	h.InstanceNumber, _ = ds.GetInt(TagInstanceNumber)
	h.Rows, _ = ds.GetInt(TagRows)
	h.Columns, _ = ds.GetInt(TagColumns)
	if pos, ok := ds.GetFloats(TagImagePositionPatient); ok && len(pos) == 3 {
		h.ImagePositionPatient = pos
	}
	return h, nil
}

// Instance converts the header to the listing model.
func (h *Header) Instance() types.Instance {
	return types.Instance{
		SOPInstanceUID:       h.SOPInstanceUID,
		InstanceNumber:       h.InstanceNumber,
		ImagePositionPatient: append([]float64(nil), h.ImagePositionPatient...),
		Rows:                 h.Rows,
		Columns:              h.Columns,
	}
}
