// Package types contains the study/series/instance model shared by the viewer
package types

// Study represents a listed imaging study
type Study struct {
	StudyInstanceUID string `json:"study_instance_uid"`
	PatientName      string `json:"patient_name,omitempty"`
	PatientID        string `json:"patient_id,omitempty"`
	StudyDate        string `json:"study_date,omitempty"`
	StudyDescription string `json:"study_description,omitempty"`
	Modality         string `json:"modality,omitempty"`
	SeriesCount      int    `json:"series_count,omitempty"`
	InstanceCount    int    `json:"instance_count,omitempty"`
}

// Series represents series data scoped to a study
type Series struct {
	SeriesInstanceUID string `json:"series_instance_uid"`
	SeriesDescription string `json:"series_description,omitempty"`
	SeriesNumber      int    `json:"series_number,omitempty"`
	Modality          string `json:"modality,omitempty"`
	InstanceCount     int    `json:"instance_count,omitempty"`
}

// Instance represents a single image within a series
type Instance struct {
	SOPInstanceUID       string    `json:"sop_instance_uid"`
	InstanceNumber       int       `json:"instance_number,omitempty"`
	ImagePositionPatient []float64 `json:"image_position_patient,omitempty"`
	Rows                 int       `json:"rows,omitempty"`
	Columns              int       `json:"columns,omitempty"`
}

// StudyDetail is the response of a study lookup
type StudyDetail struct {
	StudyInstanceUID string   `json:"study_instance_uid"`
	Series           []Series `json:"series"`
}

// SeriesDetail is the response of a series lookup
type SeriesDetail struct {
	StudyInstanceUID  string     `json:"study_instance_uid"`
	SeriesInstanceUID string     `json:"series_instance_uid"`
	Instances         []Instance `json:"instances"`
}

// HasPosition reports whether the instance carries a usable image position.
func (i Instance) HasPosition() bool {
	return len(i.ImagePositionPatient) == 3
}
