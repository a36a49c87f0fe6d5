package timesync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2/1/2006 15:04",
	"2/1/06 15:04",
	"2006-1-2 15:04",
	"2/1/2006",
	"2/1/06",
}

// ParseTime accepts an epoch, "dd/mm/yyyy hh:mm", "yyyy-mm-dd hh:mm" or
// "dd/mm/yyyy". Dates are read as UTC.
func ParseTime(raw string) (uint32, error) {
	raw = strings.Join(strings.Fields(raw), " ")
	if secs, err := strconv.ParseUint(raw, 10, 32); err == nil && uint32(secs) > MinEpoch {
		return uint32(secs), nil
	}
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err != nil {
			continue
		}
		unix := t.Unix()
		if unix < 0 || unix > int64(MaxEpoch) {
			return 0, ErrTooFarFuture
		}
		return uint32(unix), nil
	}
	return 0, fmt.Errorf("timesync: unrecognized time %q (use dd/mm/yyyy hh:mm or epoch)", raw)
}
