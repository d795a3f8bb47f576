// Package dicom reads attributes from DICOM files and maps them onto the
// metadata store's column names.
package dicom

import (
	"fmt"
	"strings"

	godicom "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// FieldReader is the attribute-lookup capability the mapper needs. Values are
// string, []string, int, []int, float64, []float64, []byte or []SequenceItem.
type FieldReader interface {
	Get(keyword string) (any, bool)
}

// TaggedValue is one attribute of a sequence item
type TaggedValue struct {
	Tag     uint32
	Keyword string
	Value   any
}

// SequenceItem is one item of a sequence attribute
type SequenceItem []TaggedValue

// MapReader is a FieldReader over a plain keyword map
type MapReader map[string]any

// Get returns the value stored under keyword
func (m MapReader) Get(keyword string) (any, bool) {
	v, ok := m[keyword]
	return v, ok
}

// FileReader is a FieldReader over a parsed DICOM dataset. Pixel data is
// never loaded.
type FileReader struct {
	path    string
	dataset godicom.Dataset
}

// Open parses the header of the DICOM file at path
func Open(path string) (*FileReader, error) {
	ds, err := godicom.ParseFile(path, nil, godicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &FileReader{path: path, dataset: ds}, nil
}

// Path returns the file the reader was opened from
func (r *FileReader) Path() string {
	return r.path
}

// Get looks keyword up in the DICOM dictionary and returns the element value
func (r *FileReader) Get(keyword string) (any, bool) {
	info, err := tag.FindByName(keyword)
	if err != nil {
		return nil, false
	}
	elem, err := r.dataset.FindElementByTag(info.Tag)
	if err != nil || elem == nil || elem.Value == nil {
		return nil, false
	}
	return elementValue(elem.Value), true
}

func elementValue(v godicom.Value) any {
	switch v.ValueType() {
	case godicom.Strings:
		return unwrapSingle(trimAll(v.GetValue().([]string)))
	case godicom.Ints:
		return unwrapSingle(v.GetValue().([]int))
	case godicom.Floats:
		return unwrapSingle(v.GetValue().([]float64))
	case godicom.Bytes:
		return v.GetValue().([]byte)
	case godicom.Sequences:
		items := v.GetValue().([]*godicom.SequenceItemValue)
		out := make([]SequenceItem, 0, len(items))
		for _, item := range items {
			out = append(out, sequenceItem(item.GetValue().([]*godicom.Element)))
		}
		return out
	default:
		return nil
	}
}

func sequenceItem(elements []*godicom.Element) SequenceItem {
	item := make(SequenceItem, 0, len(elements))
	for _, elem := range elements {
		if elem == nil || elem.Value == nil {
			continue
		}
		keyword := ""
		if info, err := tag.Find(elem.Tag); err == nil {
			keyword = info.Name
		}
		item = append(item, TaggedValue{
			Tag:     uint32(elem.Tag.Group)<<16 | uint32(elem.Tag.Element),
			Keyword: keyword,
			Value:   elementValue(elem.Value),
		})
	}
	return item
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, s := range values {
		out[i] = strings.TrimRight(s, " \x00")
	}
	return out
}

func unwrapSingle[T any](values []T) any {
	if len(values) == 1 {
		return values[0]
	}
	return values
}

// Identity holds the attributes that place an instance in the hierarchy
type Identity struct {
	PatientID   string
	PatientName string
	StudyUID    string
	SeriesUID   string
	SOPUID      string
	Modality    string
}

// ReadIdentity extracts the hierarchy attributes from r
func ReadIdentity(r FieldReader) Identity {
	return Identity{
		PatientID:   textOf(r, "PatientID"),
		PatientName: textOf(r, "PatientName"),
		StudyUID:    textOf(r, "StudyInstanceUID"),
		SeriesUID:   textOf(r, "SeriesInstanceUID"),
		SOPUID:      textOf(r, "SOPInstanceUID"),
		Modality:    textOf(r, "Modality"),
	}
}

func textOf(r FieldReader, keyword string) string {
	raw, ok := r.Get(keyword)
	if !ok {
		return ""
	}
	if s, ok := ConvertString(raw).(string); ok {
		return s
	}
	return ""
}
