package extractor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/utils"
)

// subjectCodeBytes is the digest prefix length; codes are twice as many hex chars
const subjectCodeBytes = 8

// missingPatientSentinel is hashed when a file carries no usable identifier
const missingPatientSentinel = "__NO_PATIENT_ID__"

// ErrMissingCSVHeader is returned when a subject-code CSV lacks a required column
var ErrMissingCSVHeader = errors.New("subject code csv is missing a required column")

// SubjectIdentity is a resolved subject code and how it was obtained
type SubjectIdentity struct {
	Code   string
	Source database.ResolutionSource
}

// SubjectResolver maps raw patient identifiers to stable pseudonymous codes.
// It is read-only after construction and safe for concurrent use.
type SubjectResolver struct {
	seed      string
	overrides map[string]string
}

// NewSubjectResolver creates a resolver. overrides may be nil.
func NewSubjectResolver(seed string, overrides map[string]string) *SubjectResolver {
	if overrides == nil {
		overrides = map[string]string{}
	}
	return &SubjectResolver{seed: seed, overrides: overrides}
}

// SubjectCodeGen derives the code for patientID: the hex form of the first
// eight bytes of HMAC-SHA256 keyed by seed.
func SubjectCodeGen(patientID, seed string) string {
	return utils.KeyedDigestHex(seed, patientID, subjectCodeBytes)
}

// Resolve returns the override for patientID when one exists, otherwise the
// keyed digest. An empty patientID falls back to patientName, then studyUID,
// then a fixed sentinel so that a code is always produced. Fallback keys are
// namespaced and never equal a real patient id.
func (r *SubjectResolver) Resolve(patientID, patientName, studyUID string) SubjectIdentity {
	patientID = strings.TrimSpace(patientID)
	if patientID != "" {
		if code, ok := r.overrides[patientID]; ok {
			return SubjectIdentity{Code: code, Source: database.ResolutionCSV}
		}
	}

	key := patientID
	if key == "" {
		key = fallbackKey(patientName, studyUID)
	}

	return SubjectIdentity{
		Code:   SubjectCodeGen(key, r.seed),
		Source: database.ResolutionHash,
	}
}

func fallbackKey(patientName, studyUID string) string {
	if name := strings.TrimSpace(patientName); name != "" {
		return "name:" + name
	}
	if uid := strings.TrimSpace(studyUID); uid != "" {
		return "study:" + uid
	}
	return missingPatientSentinel
}

// Overrides returns the number of CSV overrides loaded
func (r *SubjectResolver) Overrides() int {
	return len(r.overrides)
}

// LoadSubjectCodeCSV reads an identifier to code map. The header must name
// both idColumn and codeColumn; every data row must carry non-empty values
// for both, and an identifier may not map to two different codes.
func LoadSubjectCodeCSV(r io.Reader, idColumn, codeColumn string) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMissingCSVHeader)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	idIdx, codeIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case idColumn:
			idIdx = i
		case codeColumn:
			codeIdx = i
		}
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingCSVHeader, idColumn)
	}
	if codeIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingCSVHeader, codeColumn)
	}

	mapping := make(map[string]string)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		id, code := column(record, idIdx), column(record, codeIdx)
		if id == "" || code == "" {
			return nil, fmt.Errorf("csv line %d: empty %s or %s", line, idColumn, codeColumn)
		}
		if prev, ok := mapping[id]; ok && prev != code {
			return nil, fmt.Errorf("csv line %d: identifier mapped to both %q and %q", line, prev, code)
		}
		mapping[id] = code
	}

	return mapping, nil
}

// LoadSubjectCodeCSVFile opens path and loads it with LoadSubjectCodeCSV
func LoadSubjectCodeCSVFile(path, idColumn, codeColumn string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSubjectCodeCSV(f, idColumn, codeColumn)
}

func column(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
