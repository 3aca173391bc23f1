package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/core/tables"
)

func TestWriteExceptionsCSV(t *testing.T) {
	caught := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []core.ExceptionRecord{
		{
			ID:       "ex-1",
			RecordID: "rec-1",
			Category: core.CategoryBusinessRule,
			Stage:    core.ExceptionStageValidation,
			Detail:   "Negative revenue: -5.00",
			CaughtAt: caught,
			Payload:  []byte(`{"order_id":"ORD2","order_date":"2024-03-01","region":"North","product":"Milk 1L","quantity":"1","revenue":"-5.00"}`),
		},
		{
			ID:       "ex-2",
			RecordID: "rec-2",
			Category: core.CategoryMissingRequiredField,
			Stage:    core.ExceptionStageValidation,
			Detail:   "Missing required field: region",
			CaughtAt: caught,
			Payload:  []byte(`{"order_id":"ORD3","order_date":null,"region":null,"product":"Cola","quantity":3,"revenue":"2.50","_extra_1":"x"}`),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeExceptionsCSV(&buf, tables.Sales, records))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"exception_id", "record_id", "category", "stage", "detail", "caught_at",
		"order_id", "order_date", "region", "product", "quantity", "revenue", "_extra_1",
	}, rows[0])
	assert.Equal(t, []string{
		"ex-1", "rec-1", "BUSINESS_RULE_VIOLATION", "validation", "Negative revenue: -5.00", "2024-03-01T12:00:00Z",
		"ORD2", "2024-03-01", "North", "Milk 1L", "1", "-5.00", "",
	}, rows[1])
	assert.Equal(t, []string{
		"ex-2", "rec-2", "MISSING_REQUIRED_FIELD", "validation", "Missing required field: region", "2024-03-01T12:00:00Z",
		"ORD3", "", "", "Cola", "3", "2.50", "x",
	}, rows[2])
}

func TestWriteExceptionsCSV_BadPayload(t *testing.T) {
	var buf bytes.Buffer
	err := writeExceptionsCSV(&buf, tables.Sales, []core.ExceptionRecord{{ID: "ex-1", Payload: []byte("{not json")}})
	assert.ErrorContains(t, err, "ex-1")
}

func TestExportExceptions_FileName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	res := &core.RunResult{
		RunID:   "run-42",
		EndedAt: time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC),
		ExceptionRecords: []core.ExceptionRecord{
			{ID: "ex-1", Payload: []byte(`{"order_id":"A"}`)},
		},
	}

	path, err := exportExceptions(dir, tables.Sales, res)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exceptions_run-42_20240301_090507.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ex-1")
}
