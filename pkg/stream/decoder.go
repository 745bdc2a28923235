// Package stream decodes goscour JSONL record streams.
//
// Its main consumer is rm --from-list: a listing produced by ls (or a
// dry-run plan produced by rm --dry-run) is reviewed offline and then
// replayed as the removal source, so the exact set of keys a human
// approved is the set submitted for deletion.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/3leaps/goscour/pkg/output"
)

// DefaultMaxLineBytes bounds a single JSONL line.
const DefaultMaxLineBytes = 1 << 20

// Decoder reads one output.Record per line.
type Decoder struct {
	r            *bufio.Reader
	maxLineBytes int
	line         int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxLineBytes: DefaultMaxLineBytes}
}

func (d *Decoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
		return
	}
	d.maxLineBytes = n
}

// Next returns the next record in the stream. Blank lines are skipped so
// hand-trimmed listings stay valid input. Returns io.EOF after the last
// record; any malformed line is an error naming its line number.
func (d *Decoder) Next() (output.Record, error) {
	for {
		line, err := readLineLimited(d.r, d.maxLineBytes)
		if err != nil {
			return output.Record{}, err
		}
		d.line++
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec output.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return output.Record{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return rec, nil
	}
}

func readLineLimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			return nil, errors.New("jsonl line exceeds max bytes")
		}
		if err == nil {
			return bytes.TrimSuffix(out, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}
