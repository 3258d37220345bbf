package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"github.com/xuri/excelize/v2"
)

// RecordParser reads payment records from CSV files and XLSX workbooks
type RecordParser struct {
	*BaseParser
	config *RecordParserConfig
	logger logger.Logger
}

// rowReader returns the next row, or io.EOF after the last one
type rowReader func() ([]string, error)

// NewRecordParser creates a new RecordParser with the given configuration
func NewRecordParser(config *RecordParserConfig) (*RecordParser, error) {
	if config == nil {
		config = DefaultRecordParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "record_parser_config", config, err).
			WithSuggestion("Check the delimiter and column aliases")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader

	return &RecordParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("record_parser"),
	}, nil
}

// SupportsFile reports whether path has an extension ParseFile understands
func SupportsFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// ParseFile parses a .csv or .xlsx file. Valid records are returned together
// with the rows that failed validation.
func (rp *RecordParser) ParseFile(ctx context.Context, path string) ([]*models.PaymentRecord, []*errors.ImportError, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return rp.ParseCSV(ctx, path, file)
	case ".xlsx":
		return rp.ParseXLSX(ctx, path, file)
	default:
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, path, 0,
			fmt.Errorf("unsupported extension %q", filepath.Ext(path))).
			WithSuggestion("Use a .csv, .xlsx or .yaml file")
	}
}

// ParseCSV parses records from CSV data; source names it in errors
func (rp *RecordParser) ParseCSV(ctx context.Context, source string, r io.Reader) ([]*models.PaymentRecord, []*errors.ImportError, error) {
	reader := csv.NewReader(r)
	reader.Comma = rp.config.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	return rp.parseRows(ctx, source, reader.Read)
}

// ParseXLSX parses records from one sheet of a workbook
func (rp *RecordParser) ParseXLSX(ctx context.Context, source string, r io.Reader) ([]*models.PaymentRecord, []*errors.ImportError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, err).
			WithSuggestion("Check that the file is an .xlsx workbook")
	}
	defer f.Close()

	sheet := rp.config.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, fmt.Errorf("workbook has no sheets"))
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, err).
			WithContext("sheet", sheet)
	}
	defer rows.Close()

	next := func() ([]string, error) {
		if !rows.Next() {
			if err := rows.Error(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return rows.Columns()
	}
	return rp.parseRows(ctx, source, next)
}

func (rp *RecordParser) parseRows(ctx context.Context, source string, next rowReader) ([]*models.PaymentRecord, []*errors.ImportError, error) {
	parseCtx := NewParseContext(ctx, source)

	var header []string
	if rp.config.HasHeader {
		row, err := next()
		if err == io.EOF {
			return nil, nil, errors.ValidationError(errors.CodeMissingField, "header", source, nil).
				WithSuggestion("The file needs a header row followed by record rows")
		}
		if err != nil {
			return nil, nil, errors.ParseError(errors.CodeInvalidFormat, source, 1, err)
		}
		header = row
	}
	rp.ReadHeaders(header, parseCtx, DefaultColumnOrder)

	columns := make(map[string]int, len(DefaultColumnOrder))
	var missing []string
	for _, column := range DefaultColumnOrder {
		columns[column] = rp.config.columnIndex(parseCtx, column)
	}
	for _, column := range RequiredColumns {
		if columns[column] < 0 {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, source, parseCtx.LineNumber,
			fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))).
			WithSuggestion(fmt.Sprintf("Ensure the header contains: %s", strings.Join(RequiredColumns, ", ")))
	}

	collector := errors.NewImportErrorCollector(rp.config.MaxErrors)
	var records []*models.PaymentRecord
	rowsRead := 0

	for {
		if parseCtx.IsCancelled() {
			return records, collector.GetErrors(), errors.InternalError(errors.CodeUnexpectedError, "record_parsing",
				fmt.Errorf("parsing cancelled: %w", ctx.Err()))
		}

		row, err := next()
		if err == io.EOF {
			break
		}
		parseCtx.LineNumber++
		if err != nil {
			if !collector.Add(errors.ImportErrorFrom(source, parseCtx.LineNumber, err)) {
				break
			}
			continue
		}
		rowsRead++
		if rp.BaseParser.config.SkipEmptyRows && isEmptyRow(row) {
			continue
		}
		if err := rp.CheckRow(row, parseCtx); err != nil {
			if !collector.Add(errors.ImportErrorFrom(source, parseCtx.LineNumber, err)) {
				break
			}
			continue
		}

		rec, importErr := rp.toRecord(row, columns, source, parseCtx.LineNumber)
		if importErr != nil {
			if !collector.Add(importErr) {
				break
			}
			continue
		}
		records = append(records, rec)
	}

	rp.logger.WithFields(logger.Fields{
		"source":  source,
		"rows":    rowsRead,
		"records": len(records),
		"errors":  len(collector.GetErrors()),
	}).Info("Parsed record sheet")

	return records, collector.GetErrors(), nil
}

// toRecord builds and validates the record on one row
func (rp *RecordParser) toRecord(row []string, columns map[string]int, source string, line int) (*models.PaymentRecord, *errors.ImportError) {
	value := func(column string) string {
		return FieldValue(row, columns[column])
	}

	rawCustomer := value(ColumnCustomerID)
	if rawCustomer == "" {
		return nil, errors.MissingFieldImportError(source, line, ColumnCustomerID)
	}
	customerID, err := strconv.ParseInt(dates.TranslateDigits(rawCustomer), 10, 64)
	if err != nil {
		ctx := &errors.EntryContext{Source: source, Entry: line, Field: ColumnCustomerID, Value: rawCustomer, Expected: "integer"}
		return nil, errors.NewImportError(errors.CodeInvalidData, ctx, "invalid customer id", err)
	}

	rec := &models.PaymentRecord{
		CustomerID:   customerID,
		Kind:         models.InstrumentKind(rp.config.kind(value(ColumnKind))),
		SerialNumber: value(ColumnSerialNumber),
		Amount:       value(ColumnAmount),
		DueDate:      value(ColumnDueDate),
		DayOfYear:    value(ColumnDayOfYear),
		Status:       models.Status(strings.ToLower(value(ColumnStatus))),
	}
	if err := rec.Validate(); err != nil {
		return nil, errors.ImportErrorFrom(source, line, err)
	}
	return rec, nil
}
