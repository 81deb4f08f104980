package slidebank

import (
	"errors"

	"github.com/slidebank/slidebank/ingest"
	"github.com/slidebank/slidebank/query"
	"github.com/slidebank/slidebank/stitch"
)

// Errors returned by App. Those defined by subpackages are re-exported so
// callers only need this package for errors.Is checks.
var (
	// ErrNoFiles is returned by IngestFiles for an empty path list.
	ErrNoFiles = ingest.ErrNoFiles

	// ErrAlreadyExists marks a skipped deck whose content hash is already
	// stored. It is an expected outcome, not a failure.
	ErrAlreadyExists = ingest.ErrAlreadyExists

	// ErrUnsupportedFile marks a skipped path without a .pptx extension.
	ErrUnsupportedFile = ingest.ErrUnsupportedFile

	// ErrEngineFailure marks a deck the presentation engine could not read.
	ErrEngineFailure = ingest.ErrEngineFailure

	// ErrBatchFatal is returned when the presentation engine could not be
	// started at all. The whole batch is aborted.
	ErrBatchFatal = ingest.ErrBatchFatal

	// ErrNoSelection is returned by StitchSlides for an empty id list.
	ErrNoSelection = stitch.ErrNoSelection

	// ErrSlideNotFound is returned when a slide id is not in the store.
	ErrSlideNotFound = stitch.ErrSlideNotFound

	// ErrInvalidCriteria is returned for malformed search criteria.
	ErrInvalidCriteria = query.ErrInvalidCriteria

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("slidebank: invalid configuration")

	// ErrClosed is returned when operating on a closed App.
	ErrClosed = errors.New("slidebank: closed")
)
