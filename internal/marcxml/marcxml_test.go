package marcxml

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bareRecord = `<record>
      <controlfield tag="001">96013</controlfield>
      <datafield tag="100" ind1=" " ind2=" ">
        <subfield code="a">TEST_NAME2, TEST_NAME</subfield>
      </datafield>
</record>`

const namespacedCollection = `<?xml version="1.0" encoding="UTF-8"?>
<collection xmlns="http://www.loc.gov/MARC21/slim">
  <record>
    <leader>00000nam  2200000   4500</leader>
    <controlfield tag="005">20150101000000.0</controlfield>
    <datafield tag="245" ind1="1" ind2="0">
      <subfield code="a">A title</subfield>
      <subfield code="b">with a subtitle</subfield>
    </datafield>
  </record>
  <record>
    <datafield tag="100" ind1="" ind2="_">
      <subfield code="a">Doe, J</subfield>
    </datafield>
  </record>
</collection>`

func TestParse_BareRecord(t *testing.T) {
	t.Parallel()

	records, err := ParseString(bareRecord)
	require.NoError(t, err)
	require.Len(t, records, 1)

	id, ok, err := records[0].RecID()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(96013), id)
	assert.Equal(t, []string{"TEST_NAME2, TEST_NAME"}, records[0].Values("100", "a"))
}

func TestParse_NamespacedCollection(t *testing.T) {
	t.Parallel()

	records, err := ParseString(namespacedCollection)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	_, ok, err := first.RecID()
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, first.DataFields, 1)
	assert.Equal(t, "24510", first.DataFields[0].Key())
	assert.Equal(t, []string{"with a subtitle"}, first.Values("245", "b"))

	second := records[1]
	require.Len(t, second.DataFields, 1)
	assert.Equal(t, " ", second.DataFields[0].Ind1)
	assert.Equal(t, " ", second.DataFields[0].Ind2)
	assert.Equal(t, "100__", second.DataFields[0].Key())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "no records"},
		{"no record element", "<collection></collection>", "no records"},
		{"malformed", "<record><datafield tag=\"100\">", "failed to parse"},
		{"short tag", `<record><datafield tag="10"><subfield code="a">x</subfield></datafield></record>`, "3 characters"},
		{"controlfield too high", `<record><controlfield tag="100">x</controlfield></record>`, "below 010"},
		{"datafield too low", `<record><datafield tag="005"><subfield code="a">x</subfield></datafield></record>`, "010 or above"},
		{"long subfield code", `<record><datafield tag="100"><subfield code="ab">x</subfield></datafield></record>`, "one character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecID_Invalid(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"abc", "0", "-4"} {
		rec := &Record{ControlFields: []ControlField{{Tag: "001", Value: value}}}
		_, ok, err := rec.RecID()
		assert.True(t, ok, value)
		assert.True(t, errors.Is(err, ErrInvalidRecID), value)
	}
}

func TestSetRecID(t *testing.T) {
	t.Parallel()

	rec := &Record{ControlFields: []ControlField{{Tag: "005", Value: "x"}}}
	rec.SetRecID(12)
	require.Len(t, rec.ControlFields, 2)
	assert.Equal(t, ControlField{Tag: "001", Value: "12"}, rec.ControlFields[0])

	rec.SetRecID(13)
	require.Len(t, rec.ControlFields, 2)
	id, _, err := rec.RecID()
	require.NoError(t, err)
	assert.Equal(t, int64(13), id)
}

func TestAppendAndCorrect(t *testing.T) {
	t.Parallel()

	base := &Record{
		ControlFields: []ControlField{{Tag: "001", Value: "5"}},
		DataFields: []DataField{
			{Tag: "100", Ind1: " ", Ind2: " ", Subfields: []Subfield{{Code: "a", Value: "Old, Author"}}},
			{Tag: "245", Ind1: " ", Ind2: " ", Subfields: []Subfield{{Code: "a", Value: "Title"}}},
		},
	}
	patch := &Record{
		ControlFields: []ControlField{{Tag: "001", Value: "5"}},
		DataFields: []DataField{
			{Tag: "100", Ind1: " ", Ind2: " ", Subfields: []Subfield{{Code: "a", Value: "New, Author"}}},
		},
	}

	corrected := &Record{
		ControlFields: append([]ControlField(nil), base.ControlFields...),
		DataFields:    append([]DataField(nil), base.DataFields...),
	}
	corrected.Correct(patch)
	assert.Equal(t, []string{"New, Author"}, corrected.Values("100", "a"))
	assert.Equal(t, []string{"Title"}, corrected.Values("245", "a"))
	require.Len(t, corrected.ControlFields, 1)

	appended := &Record{
		ControlFields: append([]ControlField(nil), base.ControlFields...),
		DataFields:    append([]DataField(nil), base.DataFields...),
	}
	appended.Append(patch)
	assert.Equal(t, []string{"Old, Author", "New, Author"}, appended.Values("100", "a"))
	require.Len(t, appended.ControlFields, 1)
}

func TestMarshal_CanonicalOrder(t *testing.T) {
	t.Parallel()

	rec := &Record{
		ControlFields: []ControlField{{Tag: "005", Value: "x"}, {Tag: "001", Value: "7"}},
		DataFields: []DataField{
			{Tag: "245", Ind1: " ", Ind2: " ", Subfields: []Subfield{{Code: "a", Value: "T"}}},
			{Tag: "100", Ind1: " ", Ind2: " ", Subfields: []Subfield{{Code: "a", Value: "A & B"}}},
		},
	}

	out, err := Marshal(rec)
	require.NoError(t, err)
	s := string(out)

	assert.Less(t, strings.Index(s, `tag="001"`), strings.Index(s, `tag="005"`))
	assert.Less(t, strings.Index(s, `tag="100"`), strings.Index(s, `tag="245"`))
	assert.Contains(t, s, "A &amp; B")

	reparsed, err := Parse(strings.NewReader(s))
	require.NoError(t, err)
	require.Len(t, reparsed, 1)
	assert.Equal(t, []string{"A & B"}, reparsed[0].Values("100", "a"))
}

func TestMarshalCollection(t *testing.T) {
	t.Parallel()

	records, err := ParseString(namespacedCollection)
	require.NoError(t, err)

	out, err := MarshalCollection(records)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<?xml"))
	assert.Contains(t, string(out), Namespace)

	again, err := Parse(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Len(t, again, 2)
}
