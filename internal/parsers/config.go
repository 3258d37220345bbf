package parsers

import (
	"fmt"
	"strings"
)

// Canonical record columns, in the order assumed for header-less files
const (
	ColumnCustomerID   = "customer_id"
	ColumnKind         = "kind"
	ColumnAmount       = "amount"
	ColumnDueDate      = "due_date"
	ColumnSerialNumber = "serial_number"
	ColumnDayOfYear    = "day_of_year"
	ColumnStatus       = "status"
)

// DefaultColumnOrder is the column layout of a file without a header row
var DefaultColumnOrder = []string{
	ColumnCustomerID, ColumnKind, ColumnAmount, ColumnDueDate,
	ColumnSerialNumber, ColumnDayOfYear, ColumnStatus,
}

// RequiredColumns must be present in a header row
var RequiredColumns = []string{ColumnCustomerID, ColumnKind, ColumnAmount, ColumnDueDate}

// RecordParserConfig holds configuration for parsing record sheets
type RecordParserConfig struct {
	HasHeader bool `json:"has_header"`
	Delimiter rune `json:"delimiter"`
	// Sheet names the workbook sheet to read; empty means the first sheet
	Sheet string `json:"sheet,omitempty"`
	// MaxErrors stops parsing after this many invalid rows; 0 means no limit
	MaxErrors int `json:"max_errors"`
	// ColumnAliases lists accepted header names per canonical column
	ColumnAliases map[string][]string `json:"column_aliases,omitempty"`
	// KindAliases maps spellings of an instrument kind to check or cash
	KindAliases map[string]string `json:"kind_aliases,omitempty"`
}

// DefaultRecordParserConfig accepts English and Persian header names
func DefaultRecordParserConfig() *RecordParserConfig {
	return &RecordParserConfig{
		HasHeader: true,
		Delimiter: ',',
		MaxErrors: 50,
		ColumnAliases: map[string][]string{
			ColumnCustomerID:   {"customer", "کد مشتری", "شماره مشتری"},
			ColumnKind:         {"type", "نوع"},
			ColumnAmount:       {"مبلغ"},
			ColumnDueDate:      {"due", "تاریخ سررسید", "سررسید"},
			ColumnSerialNumber: {"serial", "شماره چک", "سریال"},
			ColumnDayOfYear:    {"day", "روز سال"},
			ColumnStatus:       {"وضعیت"},
		},
		KindAliases: map[string]string{
			"چک":    "check",
			"نقد":   "cash",
			"نقدی":  "cash",
			"cheque": "check",
		},
	}
}

// Validate checks if the record parser configuration is valid
func (c *RecordParserConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative")
	}
	for column, aliases := range c.ColumnAliases {
		for _, alias := range aliases {
			if strings.TrimSpace(alias) == "" {
				return fmt.Errorf("empty alias for column %s", column)
			}
		}
	}
	return nil
}

// columnIndex resolves a canonical column through its aliases
func (c *RecordParserConfig) columnIndex(parseCtx *ParseContext, column string) int {
	if index := parseCtx.GetColumnIndex(column); index >= 0 {
		return index
	}
	for _, alias := range c.ColumnAliases[column] {
		if index := parseCtx.GetColumnIndex(alias); index >= 0 {
			return index
		}
	}
	return -1
}

// kind normalizes an instrument kind through KindAliases
func (c *RecordParserConfig) kind(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := c.KindAliases[value]; ok {
		return mapped
	}
	return value
}
