package bulkmailer

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
)

const utf8BOM = "\uFEFF"

// Row is one parsed CSV record keyed by header name.
type Row struct {
	// Line is the 1-based input line the record started on.
	Line int

	columns []string
	values  map[string]string
}

// NewRow builds a row from parallel header and value slices.
// Values without a header are keyed "_<index>"; headers without a value are omitted.
func NewRow(line int, headers, fields []string) Row {
	r := Row{Line: line, values: make(map[string]string, len(fields))}
	for i, v := range fields {
		name := "_" + strconv.Itoa(i)
		if i < len(headers) {
			name = headers[i]
		}
		if _, seen := r.values[name]; !seen {
			r.columns = append(r.columns, name)
		}
		r.values[name] = v
	}
	return r
}

// Get returns the value of column name.
func (r Row) Get(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Email returns the trimmed recipient address from the email column.
func (r Row) Email() string {
	return strings.TrimSpace(r.values["email"])
}

// Columns returns the column names in input order.
func (r Row) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Map returns a copy of the row suitable as template variables.
func (r Row) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Len returns the number of columns present.
func (r Row) Len() int {
	return len(r.columns)
}

// RowReader pulls rows from a CSV stream one at a time.
type RowReader struct {
	r       *csv.Reader
	opts    CSVOptions
	headers []string
	started bool
}

// NewRowReader wraps r. Options are assumed validated.
func NewRowReader(r io.Reader, opts CSVOptions) *RowReader {
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.Comment = opts.Comment
	cr.TrimLeadingSpace = opts.TrimLeadingSpace
	cr.FieldsPerRecord = -1

	var headers []string
	if len(opts.Headers) > 0 {
		headers = append(headers, opts.Headers...)
	}
	return &RowReader{r: cr, opts: opts, headers: headers}
}

// Headers returns the column names, once known.
func (rr *RowReader) Headers() []string {
	return rr.headers
}

// Next returns the next row, io.EOF at the end of input, or a *StreamError.
func (rr *RowReader) Next() (Row, error) {
	if !rr.started {
		rr.started = true
		if err := rr.start(); err != nil {
			return Row{}, err
		}
	}

	fields, err := rr.read()
	if err != nil {
		return Row{}, err
	}
	line, _ := rr.r.FieldPos(0)
	return NewRow(line, rr.headers, fields), nil
}

func (rr *RowReader) start() error {
	for i := 0; i < rr.opts.SkipLines; i++ {
		if _, err := rr.read(); err != nil {
			return err
		}
	}
	if rr.headers != nil {
		return nil
	}

	fields, err := rr.read()
	if err != nil {
		return err
	}
	headers := make([]string, len(fields))
	for i, h := range fields {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		headers[i] = strings.TrimSpace(h)
	}
	rr.headers = headers
	return nil
}

func (rr *RowReader) read() ([]string, error) {
	fields, err := rr.r.Read()
	if err == nil {
		return fields, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	se := &StreamError{Err: err}
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		se.Line = pe.Line
	}
	return nil, se
}
