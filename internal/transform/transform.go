package transform

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fundrate-tracker/internal/storage"
)

var errMissingField = errors.New("missing field")

// RawPoint is one provider observation before interpretation.
type RawPoint struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// Transform decodes the provider's observation list and turns it into
// ordered, de-duplicated, differenced records.
func Transform(raw json.RawMessage) ([]storage.RateRecord, error) {
	points, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return TransformPoints(points)
}

// Decode checks the payload shape and returns the raw points in input order.
func Decode(raw json.RawMessage) ([]RawPoint, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, &TransformationError{Index: -1, Msg: "payload is not an array", Err: err}
	}

	points := make([]RawPoint, 0, len(elements))
	for i, element := range elements {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(element, &fields); err != nil || fields == nil {
			return nil, &TransformationError{Index: i, Msg: "element is not an object", Err: err}
		}

		var point RawPoint
		if err := decodeString(fields, "date", &point.Date); err != nil {
			return nil, &TransformationError{Index: i, Msg: "date field", Err: err}
		}
		value, err := decodeValue(fields)
		if err != nil {
			return nil, &TransformationError{Index: i, Msg: "value field", Err: err}
		}
		point.Value = value
		points = append(points, point)
	}
	return points, nil
}

func decodeString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return errMissingField
	}
	return json.Unmarshal(raw, dst)
}

// decodeValue returns a string value unquoted and any other literal as is.
// null yields "" so the row is dropped like any unparseable value.
func decodeValue(fields map[string]json.RawMessage) (string, error) {
	raw, ok := fields["value"]
	if !ok {
		return "", errMissingField
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	literal := strings.TrimSpace(string(raw))
	if literal == "null" {
		return "", nil
	}
	return literal, nil
}

type dated struct {
	date time.Time
	rate decimal.Decimal
}

// TransformPoints applies the transformation to already decoded points.
// Values that do not parse as numbers are dropped; a bad date fails the batch.
func TransformPoints(points []RawPoint) ([]storage.RateRecord, error) {
	rows := make([]dated, 0, len(points))
	for i, point := range points {
		date, err := time.Parse(storage.DateLayout, strings.TrimSpace(point.Date))
		if err != nil {
			return nil, &TransformationError{Index: i, Msg: "invalid date " + point.Date, Err: err}
		}

		rate, err := decimal.NewFromString(strings.TrimSpace(point.Value))
		if err != nil {
			continue
		}
		rows = append(rows, dated{date: date, rate: rate.Round(storage.RatePlaces)})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].date.Before(rows[j].date)
	})

	records := make([]storage.RateRecord, 0, len(rows))
	for _, row := range rows {
		if n := len(records); n > 0 && records[n-1].Date.Equal(row.date) {
			continue
		}

		record := storage.RateRecord{Date: row.date, Rate: row.rate}
		if n := len(records); n > 0 {
			change := row.rate.Sub(records[n-1].Rate)
			record.RateChange = &change
		}
		records = append(records, record)
	}
	return records, nil
}
