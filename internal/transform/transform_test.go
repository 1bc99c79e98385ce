package transform

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTransformDropsUnparseableValues(t *testing.T) {
	raw := json.RawMessage(`[{"date":"2024-01-01","value":"5.25"},{"date":"2024-02-01","value":"N/A"}]`)

	records, err := Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].DateKey() != "2024-01-01" || records[0].Rate.StringFixed(2) != "5.25" {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if records[0].RateChange != nil {
		t.Fatalf("first record must have no rate change, got %s", records[0].RateChange)
	}
}

func TestTransformAcceptsNumericValues(t *testing.T) {
	raw := json.RawMessage(`[
		{"date":"2024-01-01","value":5.25},
		{"date":"2024-02-01","value":"5.50"},
		{"date":"2024-03-01","value":null},
		{"date":"2024-04-01","value":true}
	]`)

	records, err := Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Rate.StringFixed(2) != "5.25" || records[1].Rate.StringFixed(2) != "5.50" {
		t.Fatalf("unexpected rates %s, %s", records[0].Rate, records[1].Rate)
	}
	if records[1].RateChange == nil || records[1].RateChange.StringFixed(2) != "0.25" {
		t.Fatalf("change = %v, want 0.25", records[1].RateChange)
	}
}

func TestTransformOrdersAndDifferences(t *testing.T) {
	raw := json.RawMessage(`[
		{"date":"2024-03-01","value":"5.50"},
		{"date":"2024-01-01","value":"5.00"},
		{"date":"2024-02-01","value":"5.25"},
		{"date":"2024-04-01","value":"5.125"}
	]`)

	records, err := Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	wantDates := []string{"2024-01-01", "2024-02-01", "2024-03-01", "2024-04-01"}
	wantRates := []string{"5.00", "5.25", "5.50", "5.13"}
	if len(records) != len(wantDates) {
		t.Fatalf("got %d records, want %d", len(records), len(wantDates))
	}
	for i, r := range records {
		if r.DateKey() != wantDates[i] {
			t.Errorf("record %d date = %s, want %s", i, r.DateKey(), wantDates[i])
		}
		if r.Rate.StringFixed(2) != wantRates[i] {
			t.Errorf("record %d rate = %s, want %s", i, r.Rate.StringFixed(2), wantRates[i])
		}
		if i == 0 {
			if r.RateChange != nil {
				t.Errorf("first record change = %s, want nil", r.RateChange)
			}
			continue
		}
		want := r.Rate.Sub(records[i-1].Rate)
		if r.RateChange == nil || !r.RateChange.Equal(want) {
			t.Errorf("record %d change = %v, want %s", i, r.RateChange, want)
		}
	}
}

func TestTransformFirstDuplicateWins(t *testing.T) {
	records, err := TransformPoints([]RawPoint{
		{Date: "2024-02-01", Value: "5.25"},
		{Date: "2024-01-01", Value: "5.00"},
		{Date: "2024-02-01", Value: "9.99"},
	})
	if err != nil {
		t.Fatalf("TransformPoints: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if got := records[1].Rate.StringFixed(2); got != "5.25" {
		t.Fatalf("duplicate date kept rate %s, want first occurrence 5.25", got)
	}
	for i := 1; i < len(records); i++ {
		if !records[i].Date.After(records[i-1].Date) {
			t.Fatalf("dates not strictly ascending at %d", i)
		}
	}
}

func TestTransformEmptyInputs(t *testing.T) {
	records, err := Transform(json.RawMessage(`[]`))
	if err != nil || len(records) != 0 {
		t.Fatalf("empty array = %v, %v; want no records", records, err)
	}

	records, err = TransformPoints([]RawPoint{{Date: "2024-01-01", Value: "."}, {Date: "2024-02-01", Value: ""}})
	if err != nil || len(records) != 0 {
		t.Fatalf("all-missing values = %v, %v; want no records", records, err)
	}
}

func TestTransformRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not an array":       `{"date":"2024-01-01","value":"5.25"}`,
		"element not object": `["2024-01-01"]`,
		"null element":       `[null]`,
		"missing date":       `[{"value":"5.25"}]`,
		"missing value":      `[{"date":"2024-01-01"}]`,
		"bad date":           `[{"date":"01/02/2024","value":"5.25"}]`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Transform(json.RawMessage(payload))
			var tErr *TransformationError
			if !errors.As(err, &tErr) {
				t.Fatalf("expected *TransformationError, got %T: %v", err, err)
			}
			if tErr.Retryable() {
				t.Fatal("transformation errors are never retryable")
			}
		})
	}
}
