package extractor

import (
	"testing"

	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/dicom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPayload(t *testing.T) {
	resolver := NewSubjectResolver(testSeed, map[string]string{"PID-7": "custom-code"})
	r := fakeInstance{Subject: "sub-07", PatientID: "PID-7", Study: "1.2", Series: "1.2.3", SOP: "1.2.3.4", Modality: "mr"}.reader()

	p, err := BuildPayload(r, resolver, "sub-07", "sub-07/a.dcm")
	require.NoError(t, err)

	assert.Equal(t, "custom-code", p.SubjectCode)
	assert.Equal(t, database.ResolutionCSV, p.ResolutionSource)
	assert.Equal(t, "MR", p.Modality)
	assert.Equal(t, dicom.GroupMRI, p.DetailGroup)
	assert.Equal(t, "2024-01-31", p.Study["study_date"])
	assert.Equal(t, 3, p.Series["series_number"])
	assert.Equal(t, 2000.0, p.Detail["repetition_time"])
	assert.Nil(t, p.Detail["flip_angle"])
}

func TestBuildPayload_NoDetailGroup(t *testing.T) {
	r := fakeInstance{Study: "1", Series: "1.1", SOP: "1.1.1", Modality: ""}.reader()

	p, err := BuildPayload(r, NewSubjectResolver(testSeed, nil), "s", "s/x.dcm")
	require.NoError(t, err)

	assert.Equal(t, "OT", p.Modality)
	assert.Empty(t, p.DetailGroup)
	assert.Nil(t, p.Detail)
	assert.Equal(t, SubjectCodeGen("study:1", testSeed), p.SubjectCode, "falls back to the study UID")
}

func TestBuildPayload_MissingUID(t *testing.T) {
	r := dicom.MapReader{"StudyInstanceUID": "1", "SeriesInstanceUID": "1.1"}
	_, err := BuildPayload(r, NewSubjectResolver(testSeed, nil), "s", "s/x.dcm")
	assert.ErrorIs(t, err, ErrMissingUID)
}
