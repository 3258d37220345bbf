package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/internal/parsers"
	"instrument-verification-service/internal/reporter"
	"instrument-verification-service/internal/store"
	"instrument-verification-service/pkg/errors"

	"github.com/spf13/cobra"
)

// Flags for the records commands
var (
	importFile      string
	importStrict    bool
	importDelimiter string
	importSheet     string
	importNoHeader  bool
	listCustomer int64
	listFlag     string
	listDueFrom  string
	listDueTo    string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage stored check and cash records",
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import records from a YAML, CSV or XLSX file",
	Long: `Import reads a YAML document with a top-level "records" list, a CSV file
or the first sheet of an XLSX workbook. Sheets need the columns customer_id,
kind, amount and due_date; serial_number, day_of_year and status are optional
and Persian header names are accepted. Invalid entries are reported and
skipped unless --strict is set.

Example YAML file:
  records:
    - customer_id: 42
      kind: check
      serial_number: "778812"
      amount: "۱۲,۵۰۰,۰۰۰"
      due_date: "1404/07/25"
      day_of_year: "205"`,
	RunE: runImport,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records with their verification state",
	Long: `List prints records as a table. Due dates are compared as local calendar
dates, so --due-from 1404/7/1 and --due-to ۱۴۰۴/۰۷/۳۰ are both accepted. With
only one of the two set, records due on exactly that date are listed.`,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one record",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var clearErrorCmd = &cobra.Command{
	Use:   "clear-error ID",
	Short: "Reset a failed or stuck verification so the record can be retried",
	Args:  cobra.ExactArgs(1),
	RunE:  runClearError,
}

var setStatusCmd = &cobra.Command{
	Use:   "set-status ID STATUS",
	Short: "Record an approval decision for a record",
	Long: `Set-status moves a record to one of: pending_expert, pending_treasury,
rejected_expert, rejected_treasury, final_confirmed.`,
	Args: cobra.ExactArgs(2),
	RunE: runSetStatus,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(importCmd, listCmd, showCmd, clearErrorCmd, setStatusCmd)

	importCmd.Flags().StringVar(&importFile, "file", "", "YAML file to import (required)")
	importCmd.Flags().BoolVar(&importStrict, "strict", false, "abort when any entry is invalid")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", ",", "CSV field delimiter")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet to read (default: first sheet)")
	importCmd.Flags().BoolVar(&importNoHeader, "no-header", false, "CSV/XLSX file has no header row")
	importCmd.MarkFlagRequired("file")

	listCmd.Flags().Int64Var(&listCustomer, "customer", 0, "only this customer's records")
	listCmd.Flags().StringVar(&listFlag, "flag", "", "only records with this verification flag (unset, pending, confirmed, rejected)")
	listCmd.Flags().StringVar(&listDueFrom, "due-from", "", "start of the due date range, inclusive")
	listCmd.Flags().StringVar(&listDueTo, "due-to", "", "end of the due date range, inclusive")
}

// loadImportFile picks the sheet parser or the YAML loader by extension
func loadImportFile(ctx context.Context) ([]*models.PaymentRecord, []*errors.ImportError, error) {
	if !parsers.SupportsFile(importFile) {
		return store.LoadRecordsFile(importFile)
	}

	config := parsers.DefaultRecordParserConfig()
	config.HasHeader = !importNoHeader
	config.Sheet = importSheet
	if r := []rune(importDelimiter); len(r) == 1 {
		config.Delimiter = r[0]
	} else {
		return nil, nil, errors.ValidationError(errors.CodeInvalidFormat, "delimiter", importDelimiter, nil).
			WithSuggestion("Use a single character delimiter such as ',' or ';'")
	}

	parser, err := parsers.NewRecordParser(config)
	if err != nil {
		return nil, nil, err
	}
	return parser.ParseFile(ctx, importFile)
}

func runImport(cmd *cobra.Command, args []string) error {
	recs, importErrs, err := loadImportFile(cmd.Context())
	if err != nil {
		return err
	}
	if len(importErrs) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), errors.FormatImportErrorsForUser(importErrs))
		if importStrict {
			return errors.ParseError(errors.CodeInvalidData, importFile, 0, importErrs[0]).
				WithSuggestion("Fix the entries above or rerun without --strict")
		}
	}
	if len(recs) == 0 {
		return errors.ParseError(errors.CodeInvalidData, importFile, 0, fmt.Errorf("no valid records")).
			WithSuggestion("The file needs a top-level 'records' list")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.records.ImportRecords(ctx, recs)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "import", err)
	}
	customers := make(map[int64]bool)
	for _, r := range recs {
		if !customers[r.CustomerID] {
			customers[r.CustomerID] = true
			a.invalidate(ctx, r.CustomerID)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records (ids %d-%d), skipped %d invalid entries\n",
		len(ids), ids[0], ids[len(ids)-1], len(importErrs))
	return nil
}

// listFilter builds a record filter from the list flags
func listFilter() (models.RecordFilter, error) {
	filter := models.RecordFilter{CustomerID: listCustomer}

	if listFlag != "" {
		flag, err := models.ParseVerificationFlag(listFlag)
		if err != nil {
			return filter, errors.ValidationError(errors.CodeInvalidData, "flag", listFlag, err)
		}
		filter.Flag = &flag
	}

	for _, raw := range []struct{ field, value string }{{"due-from", listDueFrom}, {"due-to", listDueTo}} {
		if raw.value == "" {
			continue
		}
		d, err := dates.ParseCalendarDate(raw.value)
		if err != nil {
			return filter, errors.ValidationError(errors.CodeInvalidDate, raw.field, raw.value, err)
		}
		filter.DueRange = append(filter.DueRange, d)
	}
	return filter, nil
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := listFilter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var recs []*models.PaymentRecord
	if filter.CustomerID > 0 && filter.Flag == nil && len(filter.DueRange) == 0 {
		recs, err = a.cache.CustomerRecords(ctx, filter.CustomerID, func(ctx context.Context) ([]*models.PaymentRecord, error) {
			return a.records.ListRecords(ctx, filter)
		})
	} else {
		recs, err = a.records.ListRecords(ctx, filter)
	}
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "list", err)
	}

	reporter.WriteRecordTable(cmd.OutOrStdout(), recs)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.records.GetRecord(ctx, id)
	if err != nil {
		return recordError("get", id, err)
	}
	reporter.WriteRecordTable(cmd.OutOrStdout(), []*models.PaymentRecord{rec})
	return nil
}

func runClearError(cmd *cobra.Command, args []string) error {
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.records.GetRecord(ctx, id)
	if err != nil {
		return recordError("get", id, err)
	}
	cleared, err := a.records.ClearError(ctx, id)
	if err != nil {
		return recordError("clear-error", id, err)
	}

	if !cleared {
		fmt.Fprintf(cmd.OutOrStdout(), "Record %d has nothing to clear (verification: %s)\n", id, rec.Verification)
		return nil
	}
	a.invalidate(ctx, rec.CustomerID)
	fmt.Fprintf(cmd.OutOrStdout(), "Record %d cleared\n", id)
	return nil
}

func runSetStatus(cmd *cobra.Command, args []string) error {
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}
	status := models.Status(strings.ToLower(strings.TrimSpace(args[1])))
	if !status.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "status", args[1], nil).
			WithSuggestion("Use pending_expert, pending_treasury, rejected_expert, rejected_treasury or final_confirmed")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appConfig, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.records.GetRecord(ctx, id)
	if err != nil {
		return recordError("get", id, err)
	}
	if err := a.records.UpdateStatus(ctx, id, status); err != nil {
		return recordError("set-status", id, err)
	}
	a.invalidate(ctx, rec.CustomerID)

	fmt.Fprintf(cmd.OutOrStdout(), "Record %d status: %s -> %s\n", id, rec.Status, status)
	return nil
}

// recordError maps repository errors onto storage errors
func recordError(op string, id int64, err error) error {
	code := errors.CodeStorageFailure
	if stderrors.Is(err, store.ErrNotFound) {
		code = errors.CodeRecordNotFound
	}
	return errors.StorageError(code, op, err).WithContext("record_id", id)
}
