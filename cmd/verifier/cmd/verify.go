package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"instrument-verification-service/cmd/verifier/config"
	"instrument-verification-service/internal/matcher"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/internal/reporter"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"github.com/spf13/cobra"
)

// Flags for the verify command
var (
	verifyIDs      []int64
	verifyCustomer int64
	outputFormat   string
	outputFile     string
)

// verifyCmd runs a batch verification and prints its report
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a batch of records against the registry",
	Long: `Verify dispatches one registry call per record, staggered by
verification.stagger, and waits for every call to settle. Records that are
already confirmed, in flight or carrying an uncleared error are skipped.

Examples:
  # Every record of a customer
  verifier verify --customer 42

  # Selected records with a spreadsheet report
  verifier verify --ids 3,4,9 --format xlsx --output batch.xlsx`,

	PreRunE: validateVerifyFlags,
	RunE:    runVerify,
}

// verifyOneCmd verifies a single record
var verifyOneCmd = &cobra.Command{
	Use:   "verify-one ID",
	Short: "Verify one record and wait for the result",
	Long: `Verify-one calls the registry for a single record. A record whose last
attempt failed is cleared and retried.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyOne,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(verifyOneCmd)

	verifyCmd.Flags().Int64SliceVar(&verifyIDs, "ids", nil, "record ids to verify")
	verifyCmd.Flags().Int64Var(&verifyCustomer, "customer", 0, "verify every record of this customer")
	verifyCmd.Flags().StringVarP(&outputFormat, "format", "f", "console", "report format (console, json, csv, xlsx)")
	verifyCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file path (default: stdout)")
}

func validateVerifyFlags(cmd *cobra.Command, args []string) error {
	if len(verifyIDs) == 0 && verifyCustomer <= 0 {
		return errors.ValidationError(errors.CodeMissingField, "ids", nil, nil).
			WithSuggestion("Pass --ids or --customer")
	}
	if len(verifyIDs) > 0 && verifyCustomer > 0 {
		return errors.ValidationError(errors.CodeInvalidData, "customer", verifyCustomer, nil).
			WithSuggestion("Use either --ids or --customer, not both")
	}
	for _, id := range verifyIDs {
		if id <= 0 {
			return errors.ValidationError(errors.CodeOutOfRange, "ids", id, nil)
		}
	}

	if err := config.CreateReportConfig(outputFormat).Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidFormat, "format", outputFormat, err).
			WithSuggestion("Use one of: console, json, csv, xlsx")
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		info, err := os.Stat(dir)
		if err != nil {
			return errors.FileError(errors.CodeFileNotFound, dir, err)
		}
		if !info.IsDir() {
			return errors.FileError(errors.CodeFileNotFound, dir, fmt.Errorf("not a directory"))
		}
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appConfig, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := batchTargets(ctx, a)
	if err != nil {
		return err
	}

	log := logger.WithComponent("verify")
	session := a.orchestrator.VerifyBatch(ctx, ids, func(id int64, errText string) {
		if errText != "" {
			log.WithField("record_id", id).Warnf("Verification failed: %s", errText)
			return
		}
		log.WithField("record_id", id).Debug("Verification succeeded")
	})

	summary, err := session.Wait(ctx)
	if err != nil {
		// a second interrupt terminates immediately
		stop()
		fmt.Fprintln(os.Stderr, "Interrupted; waiting for dispatched verifications to settle (interrupt again to abort)")
		<-session.Done()
		return errors.Wrap(err, errors.CategoryVerification, errors.CodeTimeout, "batch interrupted; no report was written").
			WithContext("batch", session.ID())
	}

	records, err := a.records.ListRecords(ctx, models.RecordFilter{IDs: ids})
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "list", err)
	}
	report := reporter.BuildBatchReport(summary, records)

	generator, err := reporter.NewSafeReportGenerator(config.CreateReportConfig(outputFormat), log)
	if err != nil {
		return err
	}

	output := os.Stdout
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer output.Close()
	}
	if err := generator.GenerateReportSafely(report, output); err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "\nBatch %s finished: %d dispatched, %d succeeded, %d failed, %d skipped.\n",
			summary.ID, len(summary.Targets), len(summary.Succeeded), len(summary.Failures), len(summary.Skipped))
	}
	return nil
}

// batchTargets resolves the --ids or --customer selection
func batchTargets(ctx context.Context, a *app) ([]int64, error) {
	if len(verifyIDs) > 0 {
		return verifyIDs, nil
	}

	records, err := a.records.ListRecords(ctx, models.RecordFilter{CustomerID: verifyCustomer})
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list", err)
	}
	if len(records) == 0 {
		return nil, errors.New(errors.CategoryStorage, errors.CodeRecordNotFound,
			fmt.Sprintf("customer %d has no records", verifyCustomer))
	}
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids, nil
}

func runVerifyOne(cmd *cobra.Command, args []string) error {
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appConfig, true)
	if err != nil {
		return err
	}
	defer a.Close()

	verifyErr := a.orchestrator.VerifyOne(ctx, id)

	rec, err := a.records.GetRecord(ctx, id)
	if err == nil {
		reporter.WriteRecordTable(cmd.OutOrStdout(), []*models.PaymentRecord{rec})
		if verifyErr == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "\nRecord %d: %s\n", id, matcher.ReconcileRecord(rec).Label())
		}
	}
	return verifyErr
}

func parseRecordID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ValidationError(errors.CodeInvalidData, "id", raw, err).
			WithSuggestion("Record ids are positive integers")
	}
	return id, nil
}
