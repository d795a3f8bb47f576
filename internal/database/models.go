package database

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ResolutionSource records how a subject code was obtained
type ResolutionSource string

const (
	ResolutionCSV  ResolutionSource = "csv"
	ResolutionHash ResolutionSource = "hash"
)

func (rs ResolutionSource) Value() (driver.Value, error) {
	return string(rs), nil
}

func (rs *ResolutionSource) Scan(value interface{}) error {
	if value == nil {
		*rs = ""
		return nil
	}
	switch s := value.(type) {
	case string:
		*rs = ResolutionSource(s)
	case []byte:
		*rs = ResolutionSource(s)
	default:
		return fmt.Errorf("cannot scan %T into ResolutionSource", value)
	}
	return nil
}

// Subject is a pseudonymized patient. The raw patient identifier is never
// stored.
type Subject struct {
	ID               string           `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	SubjectCode      string           `gorm:"column:subject_code;uniqueIndex;not null" json:"subject_code"`
	SubjectKey       string           `gorm:"column:subject_key;index" json:"subject_key"`
	CohortID         string           `gorm:"column:cohort_id;index;not null" json:"cohort_id"`
	ResolutionSource ResolutionSource `gorm:"column:resolution_source;type:varchar(8);not null" json:"resolution_source"`
	CreatedAt        time.Time        `gorm:"column:created_at" json:"created_at"`
}

func (Subject) TableName() string { return "subjects" }

// Study is an imaging study, keyed by Study Instance UID
type Study struct {
	ID               string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	StudyUID         string    `gorm:"column:study_uid;uniqueIndex;not null" json:"study_uid"`
	SubjectID        string    `gorm:"column:subject_id;type:varchar(36);index;not null" json:"subject_id"`
	StudyDate        *string   `gorm:"column:study_date" json:"study_date,omitempty"`
	StudyTime        *string   `gorm:"column:study_time" json:"study_time,omitempty"`
	StudyDescription *string   `gorm:"column:study_description" json:"study_description,omitempty"`
	StudyNumber      *string   `gorm:"column:study_id" json:"study_id,omitempty"`
	PatientSex       *string   `gorm:"column:patient_sex" json:"patient_sex,omitempty"`
	PatientAge       *string   `gorm:"column:patient_age" json:"patient_age,omitempty"`
	PatientWeight    *float64  `gorm:"column:patient_weight" json:"patient_weight,omitempty"`
	PatientSize      *float64  `gorm:"column:patient_size" json:"patient_size,omitempty"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Study) TableName() string { return "studies" }

// Series is an acquisition series, keyed by Series Instance UID
type Series struct {
	ID                    string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	SeriesUID             string    `gorm:"column:series_uid;uniqueIndex;not null" json:"series_uid"`
	StudyID               string    `gorm:"column:study_id;type:varchar(36);index;not null" json:"study_id"`
	Modality              string    `gorm:"column:modality;not null" json:"modality"`
	SeriesNumber          *int      `gorm:"column:series_number" json:"series_number,omitempty"`
	SeriesDescription     *string   `gorm:"column:series_description" json:"series_description,omitempty"`
	SeriesDate            *string   `gorm:"column:series_date" json:"series_date,omitempty"`
	SeriesTime            *string   `gorm:"column:series_time" json:"series_time,omitempty"`
	BodyPartExamined      *string   `gorm:"column:body_part_examined" json:"body_part_examined,omitempty"`
	ProtocolName          *string   `gorm:"column:protocol_name" json:"protocol_name,omitempty"`
	Manufacturer          *string   `gorm:"column:manufacturer" json:"manufacturer,omitempty"`
	ManufacturerModelName *string   `gorm:"column:manufacturer_model_name" json:"manufacturer_model_name,omitempty"`
	SoftwareVersions      *string   `gorm:"column:software_versions" json:"software_versions,omitempty"`
	PatientPosition       *string   `gorm:"column:patient_position" json:"patient_position,omitempty"`
	FrameOfReferenceUID   *string   `gorm:"column:frame_of_reference_uid" json:"frame_of_reference_uid,omitempty"`
	CreatedAt             time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Series) TableName() string { return "series" }

// Instance is one image file, keyed by SOP Instance UID
type Instance struct {
	ID                        string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	SOPUID                    string    `gorm:"column:sop_uid;uniqueIndex;not null" json:"sop_uid"`
	SeriesID                  string    `gorm:"column:series_id;type:varchar(36);index;not null" json:"series_id"`
	CohortID                  string    `gorm:"column:cohort_id;index;not null" json:"cohort_id"`
	FilePath                  string    `gorm:"column:file_path;not null" json:"file_path"`
	InstanceNumber            *int      `gorm:"column:instance_number" json:"instance_number,omitempty"`
	SOPClassUID               *string   `gorm:"column:sop_class_uid" json:"sop_class_uid,omitempty"`
	AcquisitionDate           *string   `gorm:"column:acquisition_date" json:"acquisition_date,omitempty"`
	AcquisitionTime           *string   `gorm:"column:acquisition_time" json:"acquisition_time,omitempty"`
	ContentDate               *string   `gorm:"column:content_date" json:"content_date,omitempty"`
	ContentTime               *string   `gorm:"column:content_time" json:"content_time,omitempty"`
	ImageType                 *string   `gorm:"column:image_type" json:"image_type,omitempty"`
	Rows                      *int      `gorm:"column:rows" json:"rows,omitempty"`
	Columns                   *int      `gorm:"column:columns" json:"columns,omitempty"`
	PixelSpacing              *string   `gorm:"column:pixel_spacing" json:"pixel_spacing,omitempty"`
	SliceThickness            *float64  `gorm:"column:slice_thickness" json:"slice_thickness,omitempty"`
	SliceLocation             *float64  `gorm:"column:slice_location" json:"slice_location,omitempty"`
	SpacingBetweenSlices      *float64  `gorm:"column:spacing_between_slices" json:"spacing_between_slices,omitempty"`
	ImagePositionPatient      *string   `gorm:"column:image_position_patient" json:"image_position_patient,omitempty"`
	ImageOrientationPatient   *string   `gorm:"column:image_orientation_patient" json:"image_orientation_patient,omitempty"`
	BitsAllocated             *int      `gorm:"column:bits_allocated" json:"bits_allocated,omitempty"`
	PhotometricInterpretation *string   `gorm:"column:photometric_interpretation" json:"photometric_interpretation,omitempty"`
	NumberOfFrames            *int      `gorm:"column:number_of_frames" json:"number_of_frames,omitempty"`
	TransferSyntaxUID         *string   `gorm:"column:transfer_syntax_uid" json:"transfer_syntax_uid,omitempty"`
	CreatedAt                 time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Instance) TableName() string { return "instances" }

// MRIDetail holds MR acquisition parameters for one instance
type MRIDetail struct {
	ID                    string   `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	InstanceID            string   `gorm:"column:instance_id;type:varchar(36);uniqueIndex;not null" json:"instance_id"`
	RepetitionTime        *float64 `gorm:"column:repetition_time" json:"repetition_time,omitempty"`
	EchoTime              *float64 `gorm:"column:echo_time" json:"echo_time,omitempty"`
	InversionTime         *float64 `gorm:"column:inversion_time" json:"inversion_time,omitempty"`
	FlipAngle             *float64 `gorm:"column:flip_angle" json:"flip_angle,omitempty"`
	MagneticFieldStrength *float64 `gorm:"column:magnetic_field_strength" json:"magnetic_field_strength,omitempty"`
	ImagingFrequency      *float64 `gorm:"column:imaging_frequency" json:"imaging_frequency,omitempty"`
	EchoTrainLength       *int     `gorm:"column:echo_train_length" json:"echo_train_length,omitempty"`
	ScanningSequence      *string  `gorm:"column:scanning_sequence" json:"scanning_sequence,omitempty"`
	SequenceVariant       *string  `gorm:"column:sequence_variant" json:"sequence_variant,omitempty"`
	ScanOptions           *string  `gorm:"column:scan_options" json:"scan_options,omitempty"`
	MRAcquisitionType     *string  `gorm:"column:mr_acquisition_type" json:"mr_acquisition_type,omitempty"`
	SequenceName          *string  `gorm:"column:sequence_name" json:"sequence_name,omitempty"`
	ReceiveCoilName       *string  `gorm:"column:receive_coil_name" json:"receive_coil_name,omitempty"`
}

func (MRIDetail) TableName() string { return "mri_details" }

// CTDetail holds CT acquisition parameters for one instance
type CTDetail struct {
	ID                     string   `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	InstanceID             string   `gorm:"column:instance_id;type:varchar(36);uniqueIndex;not null" json:"instance_id"`
	KVP                    *float64 `gorm:"column:kvp" json:"kvp,omitempty"`
	ExposureTime           *int     `gorm:"column:exposure_time" json:"exposure_time,omitempty"`
	XRayTubeCurrent        *int     `gorm:"column:xray_tube_current" json:"xray_tube_current,omitempty"`
	Exposure               *int     `gorm:"column:exposure" json:"exposure,omitempty"`
	ConvolutionKernel      *string  `gorm:"column:convolution_kernel" json:"convolution_kernel,omitempty"`
	CTDIVol                *float64 `gorm:"column:ctdi_vol" json:"ctdi_vol,omitempty"`
	ReconstructionDiameter *float64 `gorm:"column:reconstruction_diameter" json:"reconstruction_diameter,omitempty"`
	SpiralPitchFactor      *float64 `gorm:"column:spiral_pitch_factor" json:"spiral_pitch_factor,omitempty"`
	GantryDetectorTilt     *float64 `gorm:"column:gantry_detector_tilt" json:"gantry_detector_tilt,omitempty"`
	FilterType             *string  `gorm:"column:filter_type" json:"filter_type,omitempty"`
	RescaleIntercept       *float64 `gorm:"column:rescale_intercept" json:"rescale_intercept,omitempty"`
	RescaleSlope           *float64 `gorm:"column:rescale_slope" json:"rescale_slope,omitempty"`
}

func (CTDetail) TableName() string { return "ct_details" }

// PETDetail holds PET acquisition parameters for one instance
type PETDetail struct {
	ID                             string   `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	InstanceID                     string   `gorm:"column:instance_id;type:varchar(36);uniqueIndex;not null" json:"instance_id"`
	Units                          *string  `gorm:"column:units" json:"units,omitempty"`
	DecayCorrection                *string  `gorm:"column:decay_correction" json:"decay_correction,omitempty"`
	CorrectedImage                 *string  `gorm:"column:corrected_image" json:"corrected_image,omitempty"`
	SeriesType                     *string  `gorm:"column:series_type" json:"series_type,omitempty"`
	AttenuationCorrectionMethod    *string  `gorm:"column:attenuation_correction_method" json:"attenuation_correction_method,omitempty"`
	ReconstructionMethod           *string  `gorm:"column:reconstruction_method" json:"reconstruction_method,omitempty"`
	CountsSource                   *string  `gorm:"column:counts_source" json:"counts_source,omitempty"`
	FrameReferenceTime             *float64 `gorm:"column:frame_reference_time" json:"frame_reference_time,omitempty"`
	ActualFrameDuration            *int     `gorm:"column:actual_frame_duration" json:"actual_frame_duration,omitempty"`
	DecayFactor                    *float64 `gorm:"column:decay_factor" json:"decay_factor,omitempty"`
	DoseCalibrationFactor          *float64 `gorm:"column:dose_calibration_factor" json:"dose_calibration_factor,omitempty"`
	RadiopharmaceuticalInformation *string  `gorm:"column:radiopharmaceutical_information;type:text" json:"radiopharmaceutical_information,omitempty"`
}

func (PETDetail) TableName() string { return "pet_details" }

// AllModels lists every model the metadata store migrates
func AllModels() []interface{} {
	return []interface{}{
		&Subject{}, &Study{}, &Series{}, &Instance{},
		&MRIDetail{}, &CTDetail{}, &PETDetail{},
	}
}
