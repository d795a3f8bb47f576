package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectCodeGen(t *testing.T) {
	code := SubjectCodeGen("PAT-001", "seed-a")

	assert.Len(t, code, 16)
	assert.True(t, utils.ValidateHexDigest(code, 16))
	assert.Equal(t, code, SubjectCodeGen("PAT-001", "seed-a"), "deterministic")
	assert.NotEqual(t, code, SubjectCodeGen("PAT-001", "seed-b"), "seed sensitive")
	assert.NotEqual(t, code, SubjectCodeGen("PAT-002", "seed-a"))
}

func TestSubjectResolver_CSVTakesPrecedence(t *testing.T) {
	r := NewSubjectResolver("seed", map[string]string{"PAT-001": "SUBJ-A"})

	got := r.Resolve("PAT-001", "", "")
	assert.Equal(t, SubjectIdentity{Code: "SUBJ-A", Source: database.ResolutionCSV}, got)

	got = r.Resolve("PAT-002", "", "")
	assert.Equal(t, database.ResolutionHash, got.Source)
	assert.Equal(t, SubjectCodeGen("PAT-002", "seed"), got.Code)
	assert.Equal(t, 1, r.Overrides())
}

func TestSubjectResolver_MissingPatientID(t *testing.T) {
	r := NewSubjectResolver("seed", nil)

	byName := r.Resolve("", "DOE^JANE", "1.2.3")
	assert.Equal(t, SubjectCodeGen("name:DOE^JANE", "seed"), byName.Code)
	assert.Equal(t, byName, r.Resolve("", "DOE^JANE", "1.2.4"), "same name, other study")
	assert.NotEqual(t, r.Resolve("DOE^JANE", "", "").Code, byName.Code, "name never collides with a patient id")

	byStudy := r.Resolve("  ", "", "1.2.3")
	assert.Equal(t, SubjectCodeGen("study:1.2.3", "seed"), byStudy.Code)
	assert.NotEqual(t, r.Resolve("1.2.3", "", "").Code, byStudy.Code)

	empty := r.Resolve("", "", "")
	assert.Equal(t, SubjectCodeGen(missingPatientSentinel, "seed"), empty.Code)
	assert.Equal(t, empty, r.Resolve("", "", ""), "stable")
}

func TestLoadSubjectCodeCSV(t *testing.T) {
	in := "patient_id,site,subject_code\n" +
		"PAT-001,A,SUBJ-001\n" +
		" PAT-002 ,B, SUBJ-002 \n" +
		"PAT-001,A,SUBJ-001\n"

	m, err := LoadSubjectCodeCSV(strings.NewReader(in), "patient_id", "subject_code")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PAT-001": "SUBJ-001", "PAT-002": "SUBJ-002"}, m)
}

func TestLoadSubjectCodeCSV_CustomHeaders(t *testing.T) {
	in := "\ufeffMRN;Code\nX1;S1\n"
	_, err := LoadSubjectCodeCSV(strings.NewReader(in), "MRN", "Code")
	require.Error(t, err, "semicolon separated header is a single column")

	in = "MRN,Code\nX1,S1\n"
	m, err := LoadSubjectCodeCSV(strings.NewReader("\ufeff"+in), "MRN", "Code")
	require.NoError(t, err)
	assert.Equal(t, "S1", m["X1"])
}

func TestLoadSubjectCodeCSV_MissingHeader(t *testing.T) {
	in := "patient_id,code\nPAT-001,S1\n"
	_, err := LoadSubjectCodeCSV(strings.NewReader(in), "patient_id", "subject_code")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCSVHeader)
	assert.Contains(t, err.Error(), "subject_code")

	_, err = LoadSubjectCodeCSV(strings.NewReader(""), "patient_id", "subject_code")
	assert.ErrorIs(t, err, ErrMissingCSVHeader)
}

func TestLoadSubjectCodeCSV_RejectsEmptyValues(t *testing.T) {
	in := "patient_id,subject_code\nPAT-001,S1\nPAT-002,\n"
	_, err := LoadSubjectCodeCSV(strings.NewReader(in), "patient_id", "subject_code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")

	in = "patient_id,subject_code\nPAT-001\n"
	_, err = LoadSubjectCodeCSV(strings.NewReader(in), "patient_id", "subject_code")
	assert.Error(t, err, "short row")
}

func TestLoadSubjectCodeCSV_ConflictingCodes(t *testing.T) {
	in := "patient_id,subject_code\nPAT-001,S1\nPAT-001,S2\n"
	_, err := LoadSubjectCodeCSV(strings.NewReader(in), "patient_id", "subject_code")
	assert.Error(t, err)
}

func TestLoadSubjectCodeCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,code\na,b\n"), 0o644))

	m, err := LoadSubjectCodeCSVFile(path, "id", "code")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "b"}, m)

	_, err = LoadSubjectCodeCSVFile(filepath.Join(t.TempDir(), "missing.csv"), "id", "code")
	assert.Error(t, err)
}
