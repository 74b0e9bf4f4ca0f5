// Package ingest reads evidence exports (XLSX workbooks, CSV extracts from
// complaint and sales systems) and normalizes rows into evidence atoms with
// deterministic content-derived IDs. Ingestion is idempotent end to end:
// the same export always produces the same atoms.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	// Charset names the source encoding (e.g. "latin1", "windows-1252").
	// Complaint-register exports are frequently not UTF-8. Empty means
	// the input is read as-is.
	Charset    string
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads a CSV export and sends rows to a channel.
// Caller must consume the returned row channel. Errors are sent on the
// error channel; both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		if opts.Charset != "" {
			enc, err := htmlindex.Get(opts.Charset)
			if err != nil {
				errCh <- eris.Wrapf(err, "ingest: unsupported charset %q", opts.Charset)
				return
			}
			r = enc.NewDecoder().Reader(r)
		}

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read csv row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV reads an entire CSV export into memory and returns the header
// and data rows. Convenience wrapper over StreamCSV for small exports.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) (header []string, rows [][]string, err error) {
	headerCh := make(chan []string, 1)
	if opts.HasHeader {
		opts.HeaderCh = headerCh
	}

	rowCh, errCh := StreamCSV(ctx, r, opts)
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, nil, err
	}

	select {
	case header = <-headerCh:
	default:
	}
	return header, rows, nil
}
