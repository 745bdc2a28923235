package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/3leaps/goscour/pkg/output"
	"github.com/3leaps/goscour/pkg/remove"
)

// ListSource adapts a decoded record stream into removal candidates.
//
// Object records (ls, stat output) and plan records (rm --dry-run
// output) become candidates. Every other record type is skipped, so a
// whole run transcript can be replayed, not just a bare listing. A
// malformed line is fatal: a half-readable candidate list must stop the
// run rather than delete a different set than the one reviewed.
type ListSource struct {
	dec *Decoder
}

func NewListSource(r io.Reader) *ListSource {
	return &ListSource{dec: NewDecoder(r)}
}

// Next implements remove.Source.
func (s *ListSource) Next(ctx context.Context) (remove.Candidate, error) {
	for {
		if err := ctx.Err(); err != nil {
			return remove.Candidate{}, err
		}

		rec, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return remove.Candidate{}, io.EOF
			}
			return remove.Candidate{}, fmt.Errorf("decode candidate list: %w", err)
		}

		switch rec.Type {
		case output.TypeObject:
			var obj output.ObjectRecord
			if err := json.Unmarshal(rec.Data, &obj); err != nil {
				return remove.Candidate{}, fmt.Errorf("decode %s payload: %w", rec.Type, err)
			}
			if obj.Key == "" {
				return remove.Candidate{}, fmt.Errorf("%s record with empty key", rec.Type)
			}
			return remove.Candidate{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         obj.ETag,
				LastModified: obj.LastModified,
			}, nil

		case output.TypePlan:
			var plan output.PlanRecord
			if err := json.Unmarshal(rec.Data, &plan); err != nil {
				return remove.Candidate{}, fmt.Errorf("decode %s payload: %w", rec.Type, err)
			}
			if plan.Key == "" {
				return remove.Candidate{}, fmt.Errorf("%s record with empty key", rec.Type)
			}
			return remove.Candidate{
				Key:          plan.Key,
				Size:         plan.Size,
				LastModified: plan.LastModified,
			}, nil

		default:
			// Progress, summary, skip and error records carry no
			// candidates; replaying past them keeps transcripts valid.
			continue
		}
	}
}

var _ remove.Source = (*ListSource)(nil)
