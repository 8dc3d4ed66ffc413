package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/HendryAvila/docket/internal/doc"
	"github.com/HendryAvila/docket/internal/failure"
)

// Local reads documents from the serving host's filesystem. Local failures
// are never transient.
type Local struct {
	MaxBytes int64
}

func NewLocal(maxBytes int64) *Local {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &Local{MaxBytes: maxBytes}
}

func (l *Local) Source() doc.Source { return doc.SourceLocal }

func (l *Local) Fetch(_ context.Context, ref doc.Ref) doc.Outcome {
	content, err := readLimited(ref.Locator, l.MaxBytes)
	if err != nil {
		return doc.OutcomeFromError(err, 1)
	}
	return doc.Succeeded(content, 1)
}

func readLimited(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure.Wrap(err, failure.CategoryNotFound, "local_not_found", "check the category directory", false)
		}
		return nil, failure.Wrap(err, failure.CategoryIOFailure, "local_open", "", false)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, failure.Wrap(err, failure.CategoryIOFailure, "local_stat", "", false)
	}
	if info.IsDir() {
		return nil, failure.Wrap(fmt.Errorf("%s is a directory", path), failure.CategoryInvalidInput, "local_is_dir", "", false)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, failure.Wrap(err, failure.CategoryIOFailure, "local_read", "", false)
	}
	if int64(len(content)) > maxBytes {
		return nil, tooLarge(path, maxBytes)
	}
	return content, nil
}

func tooLarge(locator string, maxBytes int64) error {
	return failure.Wrap(
		fmt.Errorf("%s exceeds the %d byte document limit", locator, maxBytes),
		failure.CategoryInvalidInput, "document_too_large", "raise fetch.max_document_bytes", false)
}
