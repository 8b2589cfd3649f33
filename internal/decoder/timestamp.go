package decoder

import (
	"time"

	"github.com/rpattn/tddf/internal/domain"
)

// Resolution is the timestamp chosen for a record and the rule that produced it.
type Resolution struct {
	Timestamp time.Time
	Source    domain.TimestampSource
}

// BusinessDate is the calendar date of the timestamp, as a UTC midnight value.
func (r Resolution) BusinessDate() time.Time {
	y, m, d := r.Timestamp.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FileContext carries per-file facts that later records can fall back on.
type FileContext struct {
	Filename *FilenameMetadata
	// BatchDate is the date of the most recent batch header seen in the file.
	BatchDate *time.Time
}

// TimestampResolver picks the best timestamp for a record.
type TimestampResolver struct {
	location *time.Location
	now      func() time.Time
}

// ResolverOption customizes a TimestampResolver.
type ResolverOption func(*TimestampResolver)

// WithClock overrides the clock used for the ingest fallback.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *TimestampResolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewTimestampResolver returns a resolver interpreting record dates in loc.
func NewTimestampResolver(loc *time.Location, opts ...ResolverOption) *TimestampResolver {
	if loc == nil {
		loc = time.UTC
	}
	r := &TimestampResolver{location: loc, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Location returns the zone record dates are interpreted in.
func (r *TimestampResolver) Location() *time.Location { return r.location }

// Resolve applies the priority order: detail date and time, batch date,
// filename date, ingestion time.
func (r *TimestampResolver) Resolve(record domain.DecodedRecord, file FileContext) Resolution {
	switch view := View(record).(type) {
	case Detail:
		if view.TransactionDate != nil {
			return Resolution{
				Timestamp: r.atTime(*view.TransactionDate, view.TransactionTime),
				Source:    domain.TimestampRecordDetail,
			}
		}
		if file.BatchDate != nil {
			return Resolution{Timestamp: r.atMidnight(*file.BatchDate), Source: domain.TimestampRecordBatch}
		}
	case BatchHeader:
		if view.BatchDate != nil {
			return Resolution{Timestamp: r.atMidnight(*view.BatchDate), Source: domain.TimestampRecordBatch}
		}
	}

	if file.Filename != nil {
		return Resolution{Timestamp: file.Filename.ProcessedAt.In(r.location), Source: domain.TimestampFilename}
	}
	return Resolution{Timestamp: r.now().In(r.location), Source: domain.TimestampIngestFallback}
}

func (r *TimestampResolver) atMidnight(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.location)
}

// atTime combines a date with an HHMMSS clock value; an invalid clock value
// leaves the timestamp at midnight.
func (r *TimestampResolver) atTime(date time.Time, clock string) time.Time {
	base := r.atMidnight(date)
	if len(clock) != 6 || !allDigits(clock) {
		return base
	}
	parsed, err := time.Parse("150405", clock)
	if err != nil {
		return base
	}
	return base.Add(time.Duration(parsed.Hour())*time.Hour +
		time.Duration(parsed.Minute())*time.Minute +
		time.Duration(parsed.Second())*time.Second)
}
