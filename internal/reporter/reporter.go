// Package reporter renders verification batch results.
//
// A BatchReport combines the batch summary from the verifier with the records
// it touched, reloaded after the batch finished, so each record can be shown
// with its outcome and its reconciliation verdict. The report also carries the
// Ras (weighted due date) of the verified records.
//
// Supported output formats:
//   - Console: tables for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per record
//   - XLSX: spreadsheet with a records sheet and a summary sheet
//
// Example usage:
//
//	report := reporter.BuildBatchReport(summary, records)
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatConsole})
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"instrument-verification-service/internal/matcher"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/internal/ras"
	"instrument-verification-service/internal/verifier"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeRecords bool `json:"include_records"`
	IncludeSkipped bool `json:"include_skipped"`
	IncludeRas     bool `json:"include_ras"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	SortByAmount bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:         FormatConsole,
		IncludeRecords: true,
		IncludeSkipped: true,
		IncludeRas:     true,
		CSVDelimiter:   ',',
		CSVHeaders:     true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.Format == FormatCSV && c.CSVDelimiter == 0 {
		return fmt.Errorf("csv delimiter must be set for csv output")
	}
	return nil
}

// RecordLine is one record as it appears in a report
type RecordLine struct {
	Record  *models.PaymentRecord `json:"record"`
	Outcome string                `json:"outcome"`
	Error   string                `json:"error,omitempty"`
	Verdict matcher.Verdict       `json:"verdict"`
}

// BatchReport is everything a report renders
type BatchReport struct {
	Batch          verifier.BatchSummary         `json:"batch"`
	Lines          []RecordLine                  `json:"records"`
	Reconciliation matcher.ReconciliationSummary `json:"reconciliation"`
	Ras            *ras.Summary                  `json:"ras,omitempty"`
	Warnings       []string                      `json:"warnings,omitempty"`
	GeneratedAt    time.Time                     `json:"generated_at"`
}

// BuildBatchReport joins a finished batch with its records. records should be
// read after the batch finished so reported values are present.
func BuildBatchReport(summary verifier.BatchSummary, records []*models.PaymentRecord) *BatchReport {
	verdicts, recon := matcher.Summarize(records)

	outcomes := make(map[int64]string, len(records))
	errTexts := make(map[int64]string)
	for _, id := range summary.Succeeded {
		outcomes[id] = "succeeded"
	}
	for _, f := range summary.Failures {
		outcomes[f.RecordID] = "failed"
		errTexts[f.RecordID] = f.Error
	}
	for _, s := range summary.Skipped {
		outcomes[s.RecordID] = "skipped"
		errTexts[s.RecordID] = s.Reason
	}

	report := &BatchReport{
		Batch:          summary,
		Reconciliation: recon,
		GeneratedAt:    time.Now(),
	}
	var verified []*models.PaymentRecord
	for _, r := range records {
		outcome, ok := outcomes[r.ID]
		if !ok {
			outcome = "not dispatched"
		}
		report.Lines = append(report.Lines, RecordLine{
			Record:  r,
			Outcome: outcome,
			Error:   errTexts[r.ID],
			Verdict: verdicts[r.ID],
		})
		if r.Verification == models.VerificationConfirmed {
			verified = append(verified, r)
		}
	}

	rasSummary, err := ras.Summarize(ras.FromRecords(verified))
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("ras not computed: %v", err))
	} else {
		report.Ras = rasSummary
	}
	return report
}

// ReportGenerator generates batch reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *BatchReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("batch report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *BatchReport, writer io.Writer) error {
	b := report.Batch
	fmt.Fprintf(writer, "VERIFICATION REPORT\n")
	fmt.Fprintf(writer, "Batch: %s\n", b.ID)
	fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	if b.FinishedAt != nil {
		fmt.Fprintf(writer, "Duration: %v\n", b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(writer, "\n=== SUMMARY ===\n")

	tw := table.NewWriter()
	tw.SetOutputMirror(writer)
	tw.AppendHeader(table.Row{"Metric", "Count", "Share"})
	targets := len(b.Targets)
	tw.AppendRow(table.Row{"Dispatched", targets, ""})
	tw.AppendRow(table.Row{"Succeeded", len(b.Succeeded), fmt.Sprintf("%.1f%%", rg.calculatePercentage(len(b.Succeeded), targets))})
	tw.AppendRow(table.Row{"Failed", len(b.Failures), fmt.Sprintf("%.1f%%", rg.calculatePercentage(len(b.Failures), targets))})
	tw.AppendRow(table.Row{"Skipped", len(b.Skipped), ""})
	tw.AppendSeparator()
	r := report.Reconciliation
	tw.AppendRow(table.Row{"Terms match", r.Matched, fmt.Sprintf("%.1f%%", rg.calculatePercentage(r.Matched, r.Total))})
	tw.AppendRow(table.Row{"Terms do not match", r.Mismatched, fmt.Sprintf("%.1f%%", rg.calculatePercentage(r.Mismatched, r.Total))})
	tw.AppendRow(table.Row{"Awaiting verification", r.Pending, ""})
	tw.Render()

	if rg.config.IncludeRas {
		fmt.Fprintf(writer, "\n=== RAS ===\n")
		if report.Ras == nil || report.Ras.WeightedDay == nil {
			fmt.Fprintf(writer, "Weighted due day: n/a\n")
		} else {
			fmt.Fprintf(writer, "Weighted due day: %d (over %d records, total %s)\n",
				*report.Ras.WeightedDay, report.Ras.Count, report.Ras.TotalWeight.String())
		}
	}

	if rg.config.IncludeRecords && len(report.Lines) > 0 {
		fmt.Fprintf(writer, "\n=== RECORDS ===\n")
		rt := table.NewWriter()
		rt.SetOutputMirror(writer)
		rt.AppendHeader(table.Row{"ID", "Customer", "Kind", "Amount", "Due", "Outcome", "Verdict", "Error"})
		for _, line := range rg.sortedLines(report.Lines) {
			rec := line.Record
			rt.AppendRow(table.Row{rec.ID, rec.CustomerID, rec.Kind, rec.Amount, rec.DueDate,
				line.Outcome, line.Verdict.Label(), line.Error})
		}
		rt.Render()
	}

	if rg.config.IncludeSkipped && len(b.Skipped) > 0 {
		fmt.Fprintf(writer, "\n=== SKIPPED ===\n")
		st := table.NewWriter()
		st.SetOutputMirror(writer)
		st.AppendHeader(table.Row{"ID", "Code", "Reason"})
		for _, s := range b.Skipped {
			st.AppendRow(table.Row{s.RecordID, s.Code, s.Reason})
		}
		st.Render()
	}

	for _, w := range report.Warnings {
		fmt.Fprintf(writer, "WARNING: %s\n", w)
	}
	return nil
}

func (rg *ReportGenerator) generateJSONReport(report *BatchReport, writer io.Writer) error {
	output := map[string]interface{}{
		"batch":          report.Batch,
		"reconciliation": report.Reconciliation,
		"generated_at":   report.GeneratedAt,
	}
	if rg.config.IncludeRecords {
		output["records"] = report.Lines
	}
	if rg.config.IncludeRas && report.Ras != nil {
		output["ras"] = report.Ras
	}
	if len(report.Warnings) > 0 {
		output["warnings"] = report.Warnings
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

var recordHeaders = []string{
	"ID", "Customer_ID", "Kind", "Amount", "Due_Date", "Day_Of_Year",
	"Verification", "Reported_Amount", "Reported_Due_Date", "Outcome", "Verdict", "Error",
}

func lineFields(line RecordLine) []string {
	rec := line.Record
	return []string{
		fmt.Sprint(rec.ID),
		fmt.Sprint(rec.CustomerID),
		string(rec.Kind),
		rec.Amount,
		rec.DueDate,
		rec.DayOfYear,
		rec.Verification.String(),
		rec.ReportedAmount,
		rec.ReportedDueDate,
		line.Outcome,
		string(line.Verdict),
		line.Error,
	}
}

func (rg *ReportGenerator) generateCSVReport(report *BatchReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(recordHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, line := range rg.sortedLines(report.Lines) {
		if err := csvWriter.Write(lineFields(line)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", line.Record.ID, err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

const (
	recordsSheet = "Records"
	summarySheet = "Summary"
)

func (rg *ReportGenerator) generateXLSXReport(report *BatchReport, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return err
	}
	for i, h := range recordHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(recordsSheet, cell, h)
	}
	for row, line := range rg.sortedLines(report.Lines) {
		for col, v := range lineFields(line) {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(recordsSheet, cell, v)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Batch", report.Batch.ID},
		{"Dispatched", len(report.Batch.Targets)},
		{"Succeeded", len(report.Batch.Succeeded)},
		{"Failed", len(report.Batch.Failures)},
		{"Skipped", len(report.Batch.Skipped)},
		{"Terms match", report.Reconciliation.Matched},
		{"Terms do not match", report.Reconciliation.Mismatched},
	}
	if report.Ras != nil && report.Ras.WeightedDay != nil {
		rows = append(rows, []interface{}{"Weighted due day", *report.Ras.WeightedDay})
	}
	for i, row := range rows {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	return f.Write(writer)
}

// WriteRecordTable prints records as a console table with their verdicts
func WriteRecordTable(writer io.Writer, records []*models.PaymentRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(writer)
	tw.AppendHeader(table.Row{"ID", "Customer", "Kind", "Amount", "Due", "Status", "Verification", "Verdict", "Error"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.ID, r.CustomerID, r.Kind, r.Amount, r.DueDate, r.Status,
			r.Verification.String(), matcher.ReconcileRecord(r).Label(), r.VerificationError})
	}
	tw.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d records", len(records))})
	tw.Style().Format.Footer = text.FormatDefault
	tw.Render()
}

func (rg *ReportGenerator) sortedLines(lines []RecordLine) []RecordLine {
	if !rg.config.SortByAmount {
		return lines
	}
	sorted := append([]RecordLine(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, errA := sorted[i].Record.AmountDecimal()
		b, errB := sorted[j].Record.AmountDecimal()
		if errA != nil {
			a = decimal.Zero
		}
		if errB != nil {
			b = decimal.Zero
		}
		return a.GreaterThan(b)
	})
	return sorted
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
