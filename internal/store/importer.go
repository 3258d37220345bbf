package store

import (
	"bytes"
	"os"

	"instrument-verification-service/internal/models"
	"instrument-verification-service/pkg/errors"

	"gopkg.in/yaml.v3"
)

// RecordFile is the YAML document accepted by LoadRecordsFile
type RecordFile struct {
	Records []*models.PaymentRecord `yaml:"records"`
}

// DefaultMaxImportErrors stops collecting after this many bad entries
const DefaultMaxImportErrors = 50

// LoadRecordsFile decodes records from a YAML file and validates each entry.
// Valid records are returned even when some entries fail; the failures are
// returned separately so the caller can report them.
func LoadRecordsFile(path string) ([]*models.PaymentRecord, []*errors.ImportError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, nil, errors.FileError("", path, err)
	}
	return DecodeRecords(path, data)
}

// DecodeRecords is LoadRecordsFile for an in-memory document; source names it in errors
func DecodeRecords(source string, data []byte) ([]*models.PaymentRecord, []*errors.ImportError, error) {
	var doc RecordFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, err)
	}

	collector := errors.NewImportErrorCollector(DefaultMaxImportErrors)
	valid := make([]*models.PaymentRecord, 0, len(doc.Records))
	for i, rec := range doc.Records {
		entry := i + 1
		if rec == nil {
			if !collector.Add(errors.NewImportError(errors.CodeInvalidData,
				&errors.EntryContext{Source: source, Entry: entry}, "empty record entry", nil)) {
				break
			}
			continue
		}
		if err := rec.Validate(); err != nil {
			if !collector.Add(errors.ImportErrorFrom(source, entry, err)) {
				break
			}
			continue
		}
		valid = append(valid, rec)
	}

	return valid, collector.GetErrors(), nil
}
