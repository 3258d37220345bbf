// Package parsers reads record sheets exported from spreadsheets.
//
// Operators keep instrument lists in CSV files or Excel workbooks rather than
// in the YAML documents the store imports natively. The parsers in this
// package map a header row (English or Persian column names) onto
// PaymentRecord fields and validate each row the same way the YAML importer
// does, so invalid rows are reported as import errors and the valid rows can
// still be imported.
//
// Supported sources:
//   - CSV files with a configurable delimiter, with or without a header row
//   - XLSX workbooks, reading one sheet (the first one by default)
//
// Example usage:
//
//	parser, err := parsers.NewRecordParser(parsers.DefaultRecordParserConfig())
//	records, importErrs, err := parser.ParseFile(ctx, "customers.xlsx")
package parsers

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"
)

// ParseConfig holds the row-level settings shared by every source format
type ParseConfig struct {
	HasHeader        bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		SkipEmptyRows:    true,
		MaxFieldSize:     4096,
		ValidateEncoding: true,
	}
}

// ParseContext holds state while the rows of one source are read
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context for source
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found.
// Lookup ignores case and surrounding whitespace.
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	lowerName := strings.ToLower(strings.TrimSpace(name))
	for header, index := range pc.HeaderMap {
		if strings.ToLower(header) == lowerName {
			return index
		}
	}
	return -1
}

// BaseParser provides the header and row handling common to CSV and XLSX
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("parser"),
	}
}

// ReadHeaders installs the header row. Without a header row the default
// column order is used.
func (bp *BaseParser) ReadHeaders(header []string, parseCtx *ParseContext, defaults []string) {
	if !bp.config.HasHeader {
		parseCtx.Headers = append([]string(nil), defaults...)
	} else {
		parseCtx.LineNumber++
		parseCtx.Headers = cleanHeaders(header)
	}

	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, h := range parseCtx.Headers {
		if _, dup := parseCtx.HeaderMap[h]; !dup {
			parseCtx.HeaderMap[h] = i
		}
	}
	bp.logger.WithFields(logger.Fields{
		"source":  parseCtx.Source,
		"headers": parseCtx.Headers,
	}).Debug("Read headers")
}

// cleanHeaders trims whitespace and a UTF-8 byte order mark from header names
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}
	return cleaned
}

// CheckRow validates the encoding and size of every field in row
func (bp *BaseParser) CheckRow(row []string, parseCtx *ParseContext) error {
	for i, field := range row {
		if bp.config.ValidateEncoding && !utf8.ValidString(field) {
			return errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, parseCtx.LineNumber,
				fmt.Errorf("column %d is not valid UTF-8", i+1)).
				WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
		if bp.config.MaxFieldSize > 0 && len(field) > bp.config.MaxFieldSize {
			return errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber,
				fmt.Errorf("column %d exceeds %d bytes", i+1, bp.config.MaxFieldSize))
		}
	}
	return nil
}

// isEmptyRow checks if all fields in a row are empty or whitespace
func isEmptyRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// FieldValue returns the trimmed value of column index, or "" when the row is short
func FieldValue(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}
