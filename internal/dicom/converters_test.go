package dicom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertDate(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"20200308", "2020-03-08"},
		{"2020-03-08", "2020-03-08"},
		{" 19991231 ", "1999-12-31"},
		{20200308, "2020-03-08"},
		{[]string{"20010101", "20020202"}, "2001-01-01"},
		{"2020030", nil},
		{"20201340", nil},
		{"not-a-date", nil},
		{"", nil},
		{nil, nil},
		{3.5, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConvertDate(tt.in), "input %v", tt.in)
	}
}

func TestConvertTime(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"164046", "16:40:46"},
		{"114142.419000", "11:41:42.419000"},
		{"11:41:42.5", "11:41:42.5"},
		{"12345", nil},
		{"1640", nil},
		{"246000", nil},
		{"120000.", nil},
		{"12a000", nil},
		{"16:4046", nil},
		{"1:64:046", nil},
		{"16:40:4:6", nil},
		{"164:0:46", nil},
		{"", nil},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConvertTime(tt.in), "input %v", tt.in)
	}
}

func TestConvertMultiValue(t *testing.T) {
	assert.Equal(t, `ORIGINAL\PRIMARY\M\ND`, ConvertMultiValue([]string{"ORIGINAL", "PRIMARY", "M", "ND"}))
	assert.Equal(t, `A\\C`, ConvertMultiValue([]string{"A", "", "C"}), "empty elements are kept")
	assert.Equal(t, `0.5\0.75`, ConvertMultiValue([]float64{0.5, 0.75}))
	assert.Equal(t, `1\2`, ConvertMultiValue([]int{1, 2}))
	assert.Equal(t, "SE", ConvertMultiValue("SE"))
	assert.Nil(t, ConvertMultiValue(nil))
}

func TestConvertInt(t *testing.T) {
	assert.Equal(t, 12, ConvertInt("12"))
	assert.Equal(t, 12, ConvertInt(" 12 "))
	assert.Equal(t, 3, ConvertInt("3.0"))
	assert.Equal(t, 7, ConvertInt([]string{"7", "8"}))
	assert.Equal(t, 4, ConvertInt([]int{4}))
	assert.Equal(t, 5, ConvertInt(5.0))
	assert.Nil(t, ConvertInt("3.5"))
	assert.Nil(t, ConvertInt("abc"))
	assert.Nil(t, ConvertInt([]string{}))
	assert.Nil(t, ConvertInt(nil))
}

func TestConvertFloat(t *testing.T) {
	assert.Equal(t, 2.5, ConvertFloat("2.5"))
	assert.Equal(t, 3.0, ConvertFloat(3))
	assert.Equal(t, 1.5, ConvertFloat([]float64{1.5, 9}))
	assert.Equal(t, 0.9, ConvertFloat([]string{"0.9"}))
	assert.Nil(t, ConvertFloat("x"))
	assert.Nil(t, ConvertFloat("NaN"))
	assert.Nil(t, ConvertFloat(nil))
}

func TestConvertString(t *testing.T) {
	assert.Equal(t, "HEAD", ConvertString(" HEAD "))
	assert.Equal(t, `A\B`, ConvertString([]string{"A", "B"}))
	assert.Equal(t, "12", ConvertString(12))
	assert.Nil(t, ConvertString("   "))
	assert.Nil(t, ConvertString(nil))
}

func TestConvertSequence(t *testing.T) {
	seq := []SequenceItem{
		{
			{Tag: 0x00181072, Keyword: "RadiopharmaceuticalStartTime", Value: "083000"},
			{Tag: 0x00181074, Keyword: "RadionuclideTotalDose", Value: 370000000.0},
			{Tag: 0x00540300, Keyword: "RadionuclideCodeSequence", Value: []SequenceItem{
				{{Tag: 0x00080100, Keyword: "CodeValue", Value: "C-111A1"}},
			}},
		},
	}

	out, ok := ConvertSequence(seq).(string)
	require.True(t, ok)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "083000", decoded[0]["00181072"])
	assert.Equal(t, 370000000.0, decoded[0]["00181074"])

	nested, ok := decoded[0]["00540300"].([]any)
	require.True(t, ok)
	assert.Equal(t, "C-111A1", nested[0].(map[string]any)["00080100"])

	assert.Equal(t, out, ConvertSequence(seq), "encoding is stable")
	assert.Nil(t, ConvertSequence([]SequenceItem{}))
	assert.Nil(t, ConvertSequence("not a sequence"))
}
