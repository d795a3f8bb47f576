package extractor

import (
	"errors"
	"strings"

	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/dicom"
)

// ErrMissingUID is returned for files lacking a study, series or SOP
// instance UID. Such files cannot be placed in the hierarchy.
var ErrMissingUID = errors.New("dicom file is missing a required instance UID")

const defaultModality = "OT"

// InstancePayload is one parsed file, ready for the writer
type InstancePayload struct {
	// RelPath is the cohort-relative slash path, subject folder first
	RelPath string

	SubjectCode      string
	ResolutionSource database.ResolutionSource
	SubjectKey       string

	StudyUID  string
	SeriesUID string
	SOPUID    string
	Modality  string

	Study       dicom.Fields
	Series      dicom.Fields
	Instance    dicom.Fields
	DetailGroup string
	Detail      dicom.Fields
}

// BuildPayload extracts every mapped field of r and resolves its subject
func BuildPayload(r dicom.FieldReader, resolver *SubjectResolver, subjectKey, relPath string) (InstancePayload, error) {
	id := dicom.ReadIdentity(r)
	if id.StudyUID == "" || id.SeriesUID == "" || id.SOPUID == "" {
		return InstancePayload{}, ErrMissingUID
	}

	subject := resolver.Resolve(id.PatientID, id.PatientName, id.StudyUID)
	p := InstancePayload{
		RelPath:          relPath,
		SubjectCode:      subject.Code,
		ResolutionSource: subject.Source,
		SubjectKey:       subjectKey,
		StudyUID:         id.StudyUID,
		SeriesUID:        id.SeriesUID,
		SOPUID:           id.SOPUID,
		Modality:         normalizeModality(id.Modality),
		Study:            dicom.Extract(dicom.StudyFieldTable, r),
		Series:           dicom.Extract(dicom.SeriesFieldTable, r),
		Instance:         dicom.Extract(dicom.InstanceFieldTable, r),
	}

	p.DetailGroup = dicom.ModalityGroup(p.Modality)
	if table := dicom.DetailTable(p.DetailGroup); table != nil {
		p.Detail = dicom.Extract(table, r)
	}
	return p, nil
}

func normalizeModality(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return defaultModality
	}
	return m
}
