package decoder

import (
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

var filenamePattern = regexp.MustCompile(`_TDDF_(\d+)_(\d{8})_(\d{6})\.[^.]+$`)

// FilenameMetadata is what a structured upload filename reveals.
type FilenameMetadata struct {
	Sequence    int64
	ProcessedAt time.Time
}

// ParseFilename extracts the processing date and time from names such as
// VERMNTSB.6759_TDDF_2400_07142025_083001.TSYSO. It reports false when the
// name does not follow that pattern or carries an impossible date.
func ParseFilename(name string, loc *time.Location) (FilenameMetadata, bool) {
	if loc == nil {
		loc = time.UTC
	}
	match := filenamePattern.FindStringSubmatch(filepath.Base(name))
	if match == nil {
		return FilenameMetadata{}, false
	}
	sequence, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return FilenameMetadata{}, false
	}
	processedAt, err := time.ParseInLocation("01022006150405", match[2]+match[3], loc)
	if err != nil {
		return FilenameMetadata{}, false
	}
	if processedAt.Year() < minYear || processedAt.Year() > maxYear {
		return FilenameMetadata{}, false
	}
	return FilenameMetadata{Sequence: sequence, ProcessedAt: processedAt}, true
}
