package scanner

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"chainsight/metrics"
	"chainsight/models"
	"chainsight/utils"
)

// FetchFunc fetches all logs in [from, to]. Production wires this to
// FilterLogs through the failover executor; tests inject fakes.
type FetchFunc func(ctx context.Context, from, to uint64) ([]types.Log, error)

// SplitPolicy selects how the scanner reacts to over-large ranges.
// LinearBackoff walks a cursor with a mutable chunk size; BinarySplit
// recursively halves the failing range.
type SplitPolicy int

const (
	LinearBackoff SplitPolicy = iota
	BinarySplit
)

// Progress is pushed to the optional observer after every chunk attempt.
type Progress struct {
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
	Cursor    uint64 `json:"cursor"`
	ChunkSize uint64 `json:"chunk_size"`
	Logs      int    `json:"logs"`
}

// Options tunes one scan invocation.
type Options struct {
	SeedChunk   uint64
	MinChunk    uint64
	MaxChunk    uint64
	Policy      SplitPolicy
	Classifier  *Classifier
	MaxFailures int // consecutive failures before early termination

	RateLimitBackoff time.Duration
	TransientBackoff time.Duration

	OnProgress func(Progress)

	// Sleep is swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) fill() {
	if o.SeedChunk == 0 {
		o.SeedChunk = 2000
	}
	if o.MinChunk == 0 {
		o.MinChunk = 50
	}
	if o.MaxChunk == 0 {
		o.MaxChunk = 10000
	}
	if o.Classifier == nil {
		o.Classifier = NewClassifier()
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 5
	}
	if o.RateLimitBackoff == 0 {
		o.RateLimitBackoff = 1200 * time.Millisecond
	}
	if o.TransientBackoff == 0 {
		o.TransientBackoff = 300 * time.Millisecond
	}
	if o.Sleep == nil {
		o.Sleep = utils.Sleep
	}
}

// Result is the scan outcome: the logs plus the coverage report and chunk
// accounting the aggregators use for completeness labeling.
type Result struct {
	Logs          []types.Log
	Coverage      models.Coverage
	SuccessChunks int
	FailedChunks  int
}

// Scan walks [from, to] adapting the per-request span to provider behavior.
// It never fails outright on provider trouble: early termination reports the
// scanned boundary through the coverage instead. The returned error is
// non-nil only for context cancellation.
func Scan(ctx context.Context, from, to uint64, fetch FetchFunc, opts Options) (*Result, error) {
	opts.fill()
	if to < from {
		to = from
	}

	var res *Result
	var err error
	switch opts.Policy {
	case BinarySplit:
		res, err = scanBinary(ctx, from, to, fetch, &opts)
	default:
		res, err = scanLinear(ctx, from, to, fetch, &opts)
	}

	requested := to - from + 1
	res.Coverage.RequestedBlocks = requested
	if res.Coverage.ScannedBlocks > requested {
		res.Coverage.ScannedBlocks = requested
	}
	// Degraded only below full coverage; throttling alone does not count.
	res.Coverage.Degraded = res.Coverage.ScannedBlocks < requested
	metrics.ObserveScanDone(res.Coverage.Percent(), res.Coverage.Degraded)
	return res, err
}

func scanLinear(ctx context.Context, from, to uint64, fetch FetchFunc, opts *Options) (*Result, error) {
	res := &Result{}
	chunk := clamp(opts.SeedChunk, opts.MinChunk, opts.MaxChunk)
	pinned := false // set once a provider reports its hard range limit
	cursor := from
	consecFailures := 0

	for cursor <= to {
		if err := ctx.Err(); err != nil {
			res.Coverage.ScannedBlocks = cursor - from
			return res, err
		}

		end := cursor + chunk - 1
		if end > to {
			end = to
		}

		logs, err := fetch(ctx, cursor, end)
		if err == nil {
			res.Logs = append(res.Logs, logs...)
			res.SuccessChunks++
			consecFailures = 0
			metrics.ObserveChunk("success", chunk)
			report(opts, from, to, end+1, chunk, len(res.Logs))
			cursor = end + 1
			if !pinned && chunk < opts.MaxChunk {
				chunk = clamp(chunk*2, opts.MinChunk, opts.MaxChunk)
			}
			continue
		}

		res.FailedChunks++
		consecFailures++
		cls := opts.Classifier.Classify(err)

		switch cls.Class {
		case ClassRangeExceeded:
			metrics.ObserveChunk("range_exceeded", chunk)
			if cls.RangeLimit > 0 {
				// The provider told us its hard limit: pin the chunk there
				// for the rest of the scan. No penalty, retry in place.
				chunk = cls.RangeLimit
				pinned = true
			} else if !pinned {
				chunk = halve(chunk, opts.MinChunk)
			}
		case ClassRateLimited:
			metrics.ObserveChunk("rate_limited", chunk)
			res.Coverage.RateLimited = true
			if !pinned {
				chunk = halve(chunk, opts.MinChunk)
			}
			if serr := opts.Sleep(ctx, opts.RateLimitBackoff); serr != nil {
				res.Coverage.ScannedBlocks = cursor - from
				return res, serr
			}
		default:
			metrics.ObserveChunk("error", chunk)
			if !pinned {
				chunk = halve(chunk, opts.MinChunk)
			}
			if serr := opts.Sleep(ctx, opts.TransientBackoff); serr != nil {
				res.Coverage.ScannedBlocks = cursor - from
				return res, serr
			}
		}

		if consecFailures >= opts.MaxFailures {
			// Graceful early termination at the stuck cursor.
			break
		}
	}

	res.Coverage.ScannedBlocks = cursor - from
	return res, nil
}

// scanBinary attempts the full range and recursively halves failing spans.
// Left halves run first so an early abort leaves a contiguous scanned
// prefix whenever the failures cluster on the right edge.
func scanBinary(ctx context.Context, from, to uint64, fetch FetchFunc, opts *Options) (*Result, error) {
	st := &binaryState{res: &Result{}, opts: opts, fetch: fetch}
	err := st.walk(ctx, from, to)
	return st.res, err
}

type binaryState struct {
	res            *Result
	opts           *Options
	fetch          FetchFunc
	consecFailures int
	aborted        bool
}

func (s *binaryState) walk(ctx context.Context, from, to uint64) error {
	if s.aborted {
		return nil
	}
	if err := ctx.Err(); err != nil {
		s.aborted = true
		return err
	}

	span := to - from + 1
	logs, err := s.fetch(ctx, from, to)
	if err == nil {
		s.res.Logs = append(s.res.Logs, logs...)
		s.res.SuccessChunks++
		s.res.Coverage.ScannedBlocks += span
		s.consecFailures = 0
		metrics.ObserveChunk("success", span)
		report(s.opts, from, to, to+1, span, len(s.res.Logs))
		return nil
	}

	s.res.FailedChunks++
	s.consecFailures++
	cls := s.opts.Classifier.Classify(err)

	switch cls.Class {
	case ClassRateLimited:
		metrics.ObserveChunk("rate_limited", span)
		s.res.Coverage.RateLimited = true
		if s.consecFailures >= s.opts.MaxFailures {
			s.aborted = true
			return nil
		}
		if serr := s.opts.Sleep(ctx, s.opts.RateLimitBackoff); serr != nil {
			s.aborted = true
			return serr
		}
		return s.walk(ctx, from, to)
	case ClassRangeExceeded:
		metrics.ObserveChunk("range_exceeded", span)
	default:
		metrics.ObserveChunk("error", span)
		if serr := s.opts.Sleep(ctx, s.opts.TransientBackoff); serr != nil {
			s.aborted = true
			return serr
		}
	}

	if s.consecFailures >= s.opts.MaxFailures {
		s.aborted = true
		return nil
	}
	if span <= s.opts.MinChunk || span == 1 {
		// Cannot split further; give this span up and move on.
		return nil
	}

	mid := from + span/2 - 1
	if err := s.walk(ctx, from, mid); err != nil {
		return err
	}
	return s.walk(ctx, mid+1, to)
}

func report(opts *Options, from, to, cursor, chunk uint64, logs int) {
	if opts.OnProgress != nil {
		opts.OnProgress(Progress{From: from, To: to, Cursor: cursor, ChunkSize: chunk, Logs: logs})
	}
}

func halve(chunk, floor uint64) uint64 {
	chunk /= 2
	if chunk < floor {
		chunk = floor
	}
	return chunk
}

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
