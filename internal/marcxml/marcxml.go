// Package marcxml reads and writes MARC21 slim XML records.
//
// Only the parts of MARC-XML that bibupload stores are modelled: control
// fields, data fields with indicators, and subfields. Leaders are accepted on
// input and dropped.
package marcxml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Namespace is the MARC21 slim XML namespace.
const Namespace = "http://www.loc.gov/MARC21/slim"

// RecIDTag is the control field carrying the record identifier.
const RecIDTag = "001"

// ErrNoRecords is returned when the input holds no <record> element.
var ErrNoRecords = errors.New("no records found in input")

// ErrInvalidRecID is returned when controlfield 001 is not a positive integer.
var ErrInvalidRecID = errors.New("invalid record id in controlfield 001")

// Record is a single bibliographic record.
type Record struct {
	ControlFields []ControlField
	DataFields    []DataField
}

// ControlField is a fixed field (tags 001-009).
type ControlField struct {
	Tag   string
	Value string
}

// DataField is a variable field with two indicators and subfields.
type DataField struct {
	Tag       string
	Ind1      string
	Ind2      string
	Subfields []Subfield
}

// Subfield is a coded value inside a DataField.
type Subfield struct {
	Code  string
	Value string
}

// Key returns the five character tag+indicator key, e.g. "100__".
func (f DataField) Key() string {
	return f.Tag + indicatorKey(f.Ind1) + indicatorKey(f.Ind2)
}

func indicatorKey(ind string) string {
	if ind == " " || ind == "" {
		return "_"
	}
	return ind
}

// xml wire shapes

type xmlCollection struct {
	XMLName xml.Name    `xml:"collection"`
	Records []xmlRecord `xml:"record"`
}

type xmlRecord struct {
	XMLName       xml.Name          `xml:"record"`
	Leader        string            `xml:"leader,omitempty"`
	ControlFields []xmlControlField `xml:"controlfield"`
	DataFields    []xmlDataField    `xml:"datafield"`
}

type xmlControlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

type xmlDataField struct {
	Tag       string        `xml:"tag,attr"`
	Ind1      string        `xml:"ind1,attr"`
	Ind2      string        `xml:"ind2,attr"`
	Subfields []xmlSubfield `xml:"subfield"`
}

type xmlSubfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

// Parse reads either a <collection> of records or a single bare <record>.
// The MARC21 slim namespace is optional.
func Parse(r io.Reader) ([]*Record, error) {
	dec := xml.NewDecoder(r)
	var records []*Record

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse MARC-XML: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "record" {
			continue
		}

		var xr xmlRecord
		if err := dec.DecodeElement(&xr, &start); err != nil {
			return nil, fmt.Errorf("failed to parse MARC-XML record %d: %w", len(records)+1, err)
		}
		rec, err := fromXML(xr)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) ([]*Record, error) {
	return Parse(strings.NewReader(s))
}

func fromXML(xr xmlRecord) (*Record, error) {
	rec := &Record{}
	for _, cf := range xr.ControlFields {
		if err := validateTag(cf.Tag); err != nil {
			return nil, err
		}
		if cf.Tag >= "010" {
			return nil, fmt.Errorf("controlfield tag %s must be below 010", cf.Tag)
		}
		rec.ControlFields = append(rec.ControlFields, ControlField{
			Tag:   cf.Tag,
			Value: strings.TrimSpace(cf.Value),
		})
	}
	for _, df := range xr.DataFields {
		if err := validateTag(df.Tag); err != nil {
			return nil, err
		}
		if df.Tag < "010" {
			return nil, fmt.Errorf("datafield tag %s must be 010 or above", df.Tag)
		}
		field := DataField{
			Tag:  df.Tag,
			Ind1: normalizeIndicator(df.Ind1),
			Ind2: normalizeIndicator(df.Ind2),
		}
		for _, sf := range df.Subfields {
			if len(sf.Code) != 1 {
				return nil, fmt.Errorf("datafield %s: subfield code %q must be one character", df.Tag, sf.Code)
			}
			field.Subfields = append(field.Subfields, Subfield{Code: sf.Code, Value: sf.Value})
		}
		rec.DataFields = append(rec.DataFields, field)
	}
	return rec, nil
}

func validateTag(tag string) error {
	if len(tag) != 3 {
		return fmt.Errorf("tag %q must be 3 characters", tag)
	}
	return nil
}

func normalizeIndicator(ind string) string {
	ind = strings.TrimSpace(ind)
	if ind == "" || ind == "_" {
		return " "
	}
	return ind
}

// RecID returns the value of controlfield 001. ok is false when the record
// carries no 001.
func (r *Record) RecID() (id int64, ok bool, err error) {
	for _, cf := range r.ControlFields {
		if cf.Tag != RecIDTag {
			continue
		}
		id, err := strconv.ParseInt(cf.Value, 10, 64)
		if err != nil || id <= 0 {
			return 0, true, fmt.Errorf("%w: %q", ErrInvalidRecID, cf.Value)
		}
		return id, true, nil
	}
	return 0, false, nil
}

// SetRecID sets controlfield 001, keeping it first.
func (r *Record) SetRecID(id int64) {
	value := strconv.FormatInt(id, 10)
	for i, cf := range r.ControlFields {
		if cf.Tag == RecIDTag {
			r.ControlFields[i].Value = value
			return
		}
	}
	r.ControlFields = append([]ControlField{{Tag: RecIDTag, Value: value}}, r.ControlFields...)
}

// Values returns every value of subfield code in datafields with the given tag.
func (r *Record) Values(tag, code string) []string {
	var values []string
	for _, df := range r.DataFields {
		if df.Tag != tag {
			continue
		}
		for _, sf := range df.Subfields {
			if sf.Code == code {
				values = append(values, sf.Value)
			}
		}
	}
	return values
}

// Append adds every field of other to r. Controlfield 001 of other is ignored.
func (r *Record) Append(other *Record) {
	for _, cf := range other.ControlFields {
		if cf.Tag == RecIDTag {
			continue
		}
		r.ControlFields = append(r.ControlFields, cf)
	}
	r.DataFields = append(r.DataFields, other.DataFields...)
}

// Correct replaces, tag by tag, the fields of r with those found in other.
// Tags absent from other are left untouched.
func (r *Record) Correct(other *Record) {
	tags := make(map[string]bool)
	for _, cf := range other.ControlFields {
		if cf.Tag != RecIDTag {
			tags[cf.Tag] = true
		}
	}
	for _, df := range other.DataFields {
		tags[df.Tag] = true
	}

	controls := r.ControlFields[:0:0]
	for _, cf := range r.ControlFields {
		if !tags[cf.Tag] {
			controls = append(controls, cf)
		}
	}
	data := r.DataFields[:0:0]
	for _, df := range r.DataFields {
		if !tags[df.Tag] {
			data = append(data, df)
		}
	}
	r.ControlFields = controls
	r.DataFields = data
	r.Append(other)
}

// Marshal renders rec as canonical MARC-XML: fields ordered by tag, keeping
// the input order among fields with the same tag.
func Marshal(rec *Record) ([]byte, error) {
	xr := xmlRecord{}

	controls := append([]ControlField(nil), rec.ControlFields...)
	sort.SliceStable(controls, func(i, j int) bool { return controls[i].Tag < controls[j].Tag })
	for _, cf := range controls {
		xr.ControlFields = append(xr.ControlFields, xmlControlField(cf))
	}

	data := append([]DataField(nil), rec.DataFields...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Tag < data[j].Tag })
	for _, df := range data {
		xdf := xmlDataField{Tag: df.Tag, Ind1: normalizeIndicator(df.Ind1), Ind2: normalizeIndicator(df.Ind2)}
		for _, sf := range df.Subfields {
			xdf.Subfields = append(xdf.Subfields, xmlSubfield(sf))
		}
		xr.DataFields = append(xr.DataFields, xdf)
	}

	out, err := xml.MarshalIndent(xr, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return out, nil
}

// MarshalCollection renders records inside a namespaced <collection>.
func MarshalCollection(records []*Record) ([]byte, error) {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<collection xmlns="` + Namespace + `">` + "\n")
	for _, rec := range records {
		out, err := Marshal(rec)
		if err != nil {
			return nil, err
		}
		b.Write(out)
		b.WriteString("\n")
	}
	b.WriteString("</collection>\n")
	return []byte(b.String()), nil
}
