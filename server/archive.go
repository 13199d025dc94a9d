package server

import (
	"cmp"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/caio-sobreiro/dicomview/dicom"
	"github.com/caio-sobreiro/dicomview/types"
)

// CTImageStorage is the SOP class of synthetic instances
const CTImageStorage = "1.2.840.10008.5.1.4.1.1.2"

// storedInstance is one archived DICOM instance
type storedInstance struct {
	header *dicom.Header
	data   []byte
}

// Archive is an in-memory study/series/instance store
type Archive struct {
	mu      sync.RWMutex
	studies map[string]map[string]map[string]*storedInstance // study -> series -> SOP instance
}

// NewArchive returns an empty archive.
func NewArchive() *Archive {
	return &Archive{studies: make(map[string]map[string]map[string]*storedInstance)}
}

// Store parses data and files it under its study and series. Storing an
// instance again replaces it.
func (a *Archive) Store(data []byte) (*dicom.Header, error) {
	h, err := dicom.ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if h.StudyInstanceUID == "" || h.SeriesInstanceUID == "" {
		return nil, fmt.Errorf("instance %s has no study or series UID", h.SOPInstanceUID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	series, ok := a.studies[h.StudyInstanceUID]
	if !ok {
		series = make(map[string]map[string]*storedInstance)
		a.studies[h.StudyInstanceUID] = series
	}
	instances, ok := series[h.SeriesInstanceUID]
	if !ok {
		instances = make(map[string]*storedInstance)
		series[h.SeriesInstanceUID] = instances
	}
	instances[h.SOPInstanceUID] = &storedInstance{header: h, data: slices.Clone(data)}
	return h, nil
}

// LoadDir stores every readable DICOM file under root and returns how many
// were stored. Unreadable files are logged and skipped.
func (a *Archive) LoadDir(root string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stored := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read DICOM file: %w", err)
		}
		if _, err := a.Store(data); err != nil {
			logger.Warn("Skipping file", "path", path, "error", err)
			return nil
		}
		stored++
		return nil
	})
	return stored, err
}

// Len returns the number of archived instances.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, series := range a.studies {
		for _, instances := range series {
			n += len(instances)
		}
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// first returns the instance with the lowest SOP Instance UID.
func first(instances map[string]*storedInstance) *storedInstance {
	return instances[sortedKeys(instances)[0]]
}

// Studies lists every study ordered by Study Instance UID. Patient and
// study attributes come from the first instance of the study.
func (a *Archive) Studies() []types.Study {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]types.Study, 0, len(a.studies))
	for _, studyUID := range sortedKeys(a.studies) {
		series := a.studies[studyUID]
		study := types.Study{StudyInstanceUID: studyUID, SeriesCount: len(series)}
		for i, seriesUID := range sortedKeys(series) {
			instances := series[seriesUID]
			study.InstanceCount += len(instances)
			if i == 0 {
				h := first(instances).header
				study.PatientName = h.PatientName
				study.PatientID = h.PatientID
				study.StudyDate = h.StudyDate
				study.StudyDescription = h.StudyDescription
				study.Modality = h.Modality
			}
		}
		out = append(out, study)
	}
	return out
}

// Study returns the series of a study ordered by series number.
func (a *Archive) Study(studyUID string) (*types.StudyDetail, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	series, ok := a.studies[studyUID]
	if !ok {
		return nil, false
	}
	detail := &types.StudyDetail{StudyInstanceUID: studyUID, Series: make([]types.Series, 0, len(series))}
	for _, seriesUID := range sortedKeys(series) {
		instances := series[seriesUID]
		h := first(instances).header
		detail.Series = append(detail.Series, types.Series{
			SeriesInstanceUID: seriesUID,
			SeriesDescription: h.SeriesDescription,
			SeriesNumber:      h.SeriesNumber,
			Modality:          h.Modality,
			InstanceCount:     len(instances),
		})
	}
	slices.SortStableFunc(detail.Series, func(x, y types.Series) int {
		return cmp.Compare(x.SeriesNumber, y.SeriesNumber)
	})
	return detail, true
}

// Series returns the instances of a series ordered by instance number.
func (a *Archive) Series(studyUID, seriesUID string) (*types.SeriesDetail, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	instances, ok := a.studies[studyUID][seriesUID]
	if !ok {
		return nil, false
	}
	detail := &types.SeriesDetail{
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
		Instances:         make([]types.Instance, 0, len(instances)),
	}
	for _, sop := range sortedKeys(instances) {
		detail.Instances = append(detail.Instances, instances[sop].header.Instance())
	}
	slices.SortStableFunc(detail.Instances, func(x, y types.Instance) int {
		return cmp.Compare(x.InstanceNumber, y.InstanceNumber)
	})
	return detail, true
}

// Instance returns the stored bytes of one instance.
func (a *Archive) Instance(studyUID, seriesUID, sopInstanceUID string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inst, ok := a.studies[studyUID][seriesUID][sopInstanceUID]
	if !ok {
		return nil, false
	}
	return inst.data, true
}

// Delete removes a study and reports whether it existed.
func (a *Archive) Delete(studyUID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.studies[studyUID]; !ok {
		return false
	}
	delete(a.studies, studyUID)
	return true
}

// SyntheticInstance describes a generated CT slice
type SyntheticInstance struct {
	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
	PatientName    string
	PatientID      string
	SeriesNumber   int
	InstanceNumber int
	// SliceLocation is the z component of the image position
	SliceLocation float64
}

// Synthesize encodes a minimal Part 10 CT instance without pixel data.
func Synthesize(s SyntheticInstance) ([]byte, error) {
	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, CTImageStorage)
	ds.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, s.SOPInstanceUID)
	ds.AddElement(dicom.TagStudyDate, dicom.VR_DA, "20250109")
	ds.AddElement(dicom.TagModality, dicom.VR_CS, "CT")
	ds.AddElement(dicom.TagStudyDescription, dicom.VR_LO, "Synthetic Study")
	ds.AddElement(dicom.TagSeriesDescription, dicom.VR_LO, fmt.Sprintf("Synthetic Series %d", s.SeriesNumber))
	ds.AddElement(dicom.TagPatientName, dicom.VR_PN, s.PatientName)
	ds.AddElement(dicom.TagPatientID, dicom.VR_LO, s.PatientID)
	ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, s.StudyUID)
	ds.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, s.SeriesUID)
	ds.AddElement(dicom.TagSeriesNumber, dicom.VR_IS, s.SeriesNumber)
	ds.AddElement(dicom.TagInstanceNumber, dicom.VR_IS, s.InstanceNumber)
	ds.AddElement(dicom.TagImagePositionPatient, dicom.VR_DS, []float64{-125, -125, s.SliceLocation})
	ds.AddElement(dicom.TagRows, dicom.VR_US, uint16(512))
	ds.AddElement(dicom.TagColumns, dicom.VR_US, uint16(512))
	return dicom.EncodePart10(ds, dicom.TransferSyntaxExplicitVRLittleEndian)
}

// SyntheticRoot prefixes generated UIDs
const SyntheticRoot = "1.2.826.0.1.3680043.9.7433"

// Seed stores studies*series*instances synthetic instances. Slices are
// 2.5 mm apart along z.
func (a *Archive) Seed(studies, series, instances int) error {
	for st := 1; st <= studies; st++ {
		studyUID := fmt.Sprintf("%s.%d", SyntheticRoot, st)
		for se := 1; se <= series; se++ {
			seriesUID := fmt.Sprintf("%s.%d", studyUID, se)
			for in := 1; in <= instances; in++ {
				data, err := Synthesize(SyntheticInstance{
					StudyUID:       studyUID,
					SeriesUID:      seriesUID,
					SOPInstanceUID: fmt.Sprintf("%s.%d", seriesUID, in),
					PatientName:    fmt.Sprintf("TEST^PATIENT%d", st),
					PatientID:      fmt.Sprintf("%05d", st),
					SeriesNumber:   se,
					InstanceNumber: in,
					SliceLocation:  float64(in-1) * 2.5,
				})
				if err != nil {
					return err
				}
				if _, err := a.Store(data); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
