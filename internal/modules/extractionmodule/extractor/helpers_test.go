package extractor

import (
	"fmt"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/dicom"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSeed = "test-seed"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := config.DefaultConfig().Database
	cfg.Type = "sqlite"
	cfg.DatabasePath = ":memory:"

	db, err := database.Open(cfg, 1, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// fakeInstance describes a synthetic DICOM file
type fakeInstance struct {
	Subject   string
	PatientID string
	Study     string
	Series    string
	SOP       string
	Modality  string
}

func (f fakeInstance) reader() dicom.MapReader {
	r := dicom.MapReader{
		"PatientID":         f.PatientID,
		"StudyInstanceUID":  f.Study,
		"SeriesInstanceUID": f.Series,
		"SOPInstanceUID":    f.SOP,
		"Modality":          f.Modality,
		"StudyDate":         "20240131",
		"SeriesNumber":      "3",
		"InstanceNumber":    "1",
		"Rows":              512,
		"Columns":           512,
	}
	switch dicom.ModalityGroup(f.Modality) {
	case dicom.GroupMRI:
		r["RepetitionTime"] = "2000"
		r["EchoTime"] = "30.5"
	case dicom.GroupCT:
		r["KVP"] = "120"
	}
	return r
}

func (f fakeInstance) payload(t *testing.T) InstancePayload {
	t.Helper()
	p, err := BuildPayload(f.reader(), NewSubjectResolver(testSeed, nil), f.Subject, f.Subject+"/"+f.SOP+".dcm")
	require.NoError(t, err)
	return p
}

func mrSeries(subject string, n int) []fakeInstance {
	out := make([]fakeInstance, n)
	for i := range out {
		out[i] = fakeInstance{
			Subject:   subject,
			PatientID: "PID-" + subject,
			Study:     "1.2.study." + subject,
			Series:    "1.2.series." + subject,
			SOP:       fmt.Sprintf("1.2.sop.%s.%d", subject, i),
			Modality:  "MR",
		}
	}
	return out
}

func payloads(t *testing.T, fakes []fakeInstance) []InstancePayload {
	t.Helper()
	out := make([]InstancePayload, len(fakes))
	for i, f := range fakes {
		out[i] = f.payload(t)
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
