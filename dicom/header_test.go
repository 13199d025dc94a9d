package dicom

import (
	"testing"
)

func TestReadHeader(t *testing.T) {
	raw := headerDataset().EncodeDataset()

	explicit, err := EncodePart10(headerDataset(), TransferSyntaxExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("EncodePart10() error = %v", err)
	}
	implicit, err := EncodePart10(headerDataset(), TransferSyntaxImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("EncodePart10() error = %v", err)
	}

	tests := []struct {
		name string
		data []byte
		ts   string
	}{
		{"Raw dataset", raw, TransferSyntaxExplicitVRLittleEndian},
		{"Part 10 explicit", explicit, TransferSyntaxExplicitVRLittleEndian},
		{"Part 10 implicit", implicit, TransferSyntaxImplicitVRLittleEndian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ReadHeader(tt.data)
			if err != nil {
				t.Fatalf("ReadHeader() error = %v", err)
			}

			if h.TransferSyntaxUID != tt.ts {
				t.Errorf("TransferSyntaxUID = %q, want %q", h.TransferSyntaxUID, tt.ts)
			}
			if h.SOPInstanceUID != "1.2.3.4.5" {
				t.Errorf("SOPInstanceUID = %q", h.SOPInstanceUID)
			}
			if h.StudyInstanceUID != "1.2.3" || h.SeriesInstanceUID != "1.2.3.4" {
				t.Errorf("study/series = %q/%q", h.StudyInstanceUID, h.SeriesInstanceUID)
			}
			if h.PatientName != "DOE^JOHN" || h.Modality != "CT" {
				t.Errorf("patient/modality = %q/%q", h.PatientName, h.Modality)
			}
			if h.InstanceNumber != 12 {
				t.Errorf("InstanceNumber = %d, want 12", h.InstanceNumber)
			}
			if h.Rows != 512 || h.Columns != 256 {
				t.Errorf("geometry = %dx%d, want 512x256", h.Rows, h.Columns)
			}
			if len(h.ImagePositionPatient) != 3 || h.ImagePositionPatient[2] != -30.5 {
				t.Errorf("ImagePositionPatient = %v", h.ImagePositionPatient)
			}

			inst := h.Instance()
			if inst.SOPInstanceUID != h.SOPInstanceUID || !inst.HasPosition() {
				t.Errorf("Instance() = %+v", inst)
			}
		})
	}
}

func TestReadHeader_MissingSOPInstanceUID(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagModality, VR_CS, "MR")

	if _, err := ReadHeader(ds.EncodeDataset()); err == nil {
		t.Error("Expected error for missing SOP Instance UID")
	}
}

func TestReadHeader_WithoutPosition(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.9")
	ds.AddElement(TagImagePositionPatient, VR_DS, "1\\2")

	h, err := ReadHeader(ds.EncodeDataset())
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if h.ImagePositionPatient != nil {
		t.Errorf("ImagePositionPatient = %v, want nil", h.ImagePositionPatient)
	}
	if h.Instance().HasPosition() {
		t.Error("instance should not have a position")
	}
}
