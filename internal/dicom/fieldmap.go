package dicom

import (
	"sort"
	"strings"
)

// Fields maps destination column names to converted values. Absent source
// attributes map to nil.
type Fields map[string]any

// FieldSpec binds a destination column to a source keyword and converter
type FieldSpec struct {
	Keyword string
	Convert Converter
}

// FieldTable maps destination column names to their source
type FieldTable map[string]FieldSpec

// Columns returns the table's destination names in sorted order
func (t FieldTable) Columns() []string {
	cols := make([]string, 0, len(t))
	for c := range t {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Extract applies every mapping in table to r
func Extract(table FieldTable, r FieldReader) Fields {
	fields := make(Fields, len(table))
	for dest, spec := range table {
		raw, ok := r.Get(spec.Keyword)
		if !ok || raw == nil {
			fields[dest] = nil
			continue
		}
		fields[dest] = spec.Convert(raw)
	}
	return fields
}

// Modality detail groups
const (
	GroupMRI = "mri"
	GroupCT  = "ct"
	GroupPET = "pet"
)

// ModalityGroup returns the detail group populated for modality, or "" when
// the modality has no detail table.
func ModalityGroup(modality string) string {
	switch strings.ToUpper(strings.TrimSpace(modality)) {
	case "MR":
		return GroupMRI
	case "CT":
		return GroupCT
	case "PT", "PET":
		return GroupPET
	default:
		return ""
	}
}

func field(keyword string, c Converter) FieldSpec {
	return FieldSpec{Keyword: keyword, Convert: c}
}

// StudyFieldTable maps study columns
var StudyFieldTable = FieldTable{
	"study_date":        field("StudyDate", ConvertDate),
	"study_time":        field("StudyTime", ConvertTime),
	"study_description": field("StudyDescription", ConvertString),
	"study_id":          field("StudyID", ConvertString),
	"patient_sex":       field("PatientSex", ConvertString),
	"patient_age":       field("PatientAge", ConvertString),
	"patient_weight":    field("PatientWeight", ConvertFloat),
	"patient_size":      field("PatientSize", ConvertFloat),
}

// SeriesFieldTable maps series columns
var SeriesFieldTable = FieldTable{
	"series_number":           field("SeriesNumber", ConvertInt),
	"series_description":      field("SeriesDescription", ConvertString),
	"series_date":             field("SeriesDate", ConvertDate),
	"series_time":             field("SeriesTime", ConvertTime),
	"body_part_examined":      field("BodyPartExamined", ConvertString),
	"protocol_name":           field("ProtocolName", ConvertString),
	"manufacturer":            field("Manufacturer", ConvertString),
	"manufacturer_model_name": field("ManufacturerModelName", ConvertString),
	"software_versions":       field("SoftwareVersions", ConvertMultiValue),
	"patient_position":        field("PatientPosition", ConvertString),
	"frame_of_reference_uid":  field("FrameOfReferenceUID", ConvertString),
}

// InstanceFieldTable maps instance columns
var InstanceFieldTable = FieldTable{
	"instance_number":            field("InstanceNumber", ConvertInt),
	"sop_class_uid":              field("SOPClassUID", ConvertString),
	"acquisition_date":           field("AcquisitionDate", ConvertDate),
	"acquisition_time":           field("AcquisitionTime", ConvertTime),
	"content_date":               field("ContentDate", ConvertDate),
	"content_time":               field("ContentTime", ConvertTime),
	"image_type":                 field("ImageType", ConvertMultiValue),
	"rows":                       field("Rows", ConvertInt),
	"columns":                    field("Columns", ConvertInt),
	"pixel_spacing":              field("PixelSpacing", ConvertMultiValue),
	"slice_thickness":            field("SliceThickness", ConvertFloat),
	"slice_location":             field("SliceLocation", ConvertFloat),
	"spacing_between_slices":     field("SpacingBetweenSlices", ConvertFloat),
	"image_position_patient":     field("ImagePositionPatient", ConvertMultiValue),
	"image_orientation_patient":  field("ImageOrientationPatient", ConvertMultiValue),
	"bits_allocated":             field("BitsAllocated", ConvertInt),
	"photometric_interpretation": field("PhotometricInterpretation", ConvertString),
	"number_of_frames":           field("NumberOfFrames", ConvertInt),
	"transfer_syntax_uid":        field("TransferSyntaxUID", ConvertString),
}

// MRIFieldTable maps MR detail columns
var MRIFieldTable = FieldTable{
	"repetition_time":         field("RepetitionTime", ConvertFloat),
	"echo_time":               field("EchoTime", ConvertFloat),
	"inversion_time":          field("InversionTime", ConvertFloat),
	"flip_angle":              field("FlipAngle", ConvertFloat),
	"magnetic_field_strength": field("MagneticFieldStrength", ConvertFloat),
	"imaging_frequency":       field("ImagingFrequency", ConvertFloat),
	"echo_train_length":       field("EchoTrainLength", ConvertInt),
	"scanning_sequence":       field("ScanningSequence", ConvertMultiValue),
	"sequence_variant":        field("SequenceVariant", ConvertMultiValue),
	"scan_options":            field("ScanOptions", ConvertMultiValue),
	"mr_acquisition_type":     field("MRAcquisitionType", ConvertString),
	"sequence_name":           field("SequenceName", ConvertString),
	"receive_coil_name":       field("ReceiveCoilName", ConvertString),
}

// CTFieldTable maps CT detail columns
var CTFieldTable = FieldTable{
	"kvp":                     field("KVP", ConvertFloat),
	"exposure_time":           field("ExposureTime", ConvertInt),
	"xray_tube_current":       field("XRayTubeCurrent", ConvertInt),
	"exposure":                field("Exposure", ConvertInt),
	"convolution_kernel":      field("ConvolutionKernel", ConvertMultiValue),
	"ctdi_vol":                field("CTDIvol", ConvertFloat),
	"reconstruction_diameter": field("ReconstructionDiameter", ConvertFloat),
	"spiral_pitch_factor":     field("SpiralPitchFactor", ConvertFloat),
	"gantry_detector_tilt":    field("GantryDetectorTilt", ConvertFloat),
	"filter_type":             field("FilterType", ConvertString),
	"rescale_intercept":       field("RescaleIntercept", ConvertFloat),
	"rescale_slope":           field("RescaleSlope", ConvertFloat),
}

// PETFieldTable maps PET detail columns
var PETFieldTable = FieldTable{
	"units":                           field("Units", ConvertString),
	"decay_correction":                field("DecayCorrection", ConvertString),
	"corrected_image":                 field("CorrectedImage", ConvertMultiValue),
	"series_type":                     field("SeriesType", ConvertMultiValue),
	"attenuation_correction_method":   field("AttenuationCorrectionMethod", ConvertString),
	"reconstruction_method":           field("ReconstructionMethod", ConvertString),
	"counts_source":                   field("CountsSource", ConvertString),
	"frame_reference_time":            field("FrameReferenceTime", ConvertFloat),
	"actual_frame_duration":           field("ActualFrameDuration", ConvertInt),
	"decay_factor":                    field("DecayFactor", ConvertFloat),
	"dose_calibration_factor":         field("DoseCalibrationFactor", ConvertFloat),
	"radiopharmaceutical_information": field("RadiopharmaceuticalInformationSequence", ConvertSequence),
}

// DetailTable returns the field table for a modality group
func DetailTable(group string) FieldTable {
	switch group {
	case GroupMRI:
		return MRIFieldTable
	case GroupCT:
		return CTFieldTable
	case GroupPET:
		return PETFieldTable
	default:
		return nil
	}
}
