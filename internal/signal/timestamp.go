package signal

import (
	"regexp"
	"strings"
	"time"
)

type timestampFormat struct {
	re      *regexp.Regexp
	layouts []string
	// normalize rewrites the matched text before parsing.
	normalize func(string) string
}

// Checked in order; the first pattern that occurs anywhere in the text wins.
var timestampFormats = []timestampFormat{
	{
		re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d{1,9})?(?:Z|[+-]\d{2}:?\d{2})?`),
		layouts: []string{
			"2006-01-02T15:04:05Z07:00",
			"2006-01-02T15:04:05Z0700",
			"2006-01-02T15:04:05",
		},
		normalize: func(s string) string {
			s = strings.Replace(s, " ", "T", 1)
			return strings.Replace(s, ",", ".", 1)
		},
	},
	{
		re:      regexp.MustCompile(`\b\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}\b`),
		layouts: []string{"01/02/2006 15:04:05"},
	},
	{
		re:      regexp.MustCompile(`\b\d{2}-\d{2}-\d{4} \d{2}:\d{2}:\d{2}\b`),
		layouts: []string{"02-01-2006 15:04:05"},
	},
	{
		// syslog carries no year; the raw text is kept but no time is derived.
		re: regexp.MustCompile(`\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) [ \d]\d \d{2}:\d{2}:\d{2}\b`),
	},
}

// findTimestamp returns the first recognizable timestamp in text. The time
// is zero when the token was found but could not be interpreted.
func findTimestamp(text string) (time.Time, string) {
	for _, f := range timestampFormats {
		raw := f.re.FindString(text)
		if raw == "" {
			continue
		}
		v := raw
		if f.normalize != nil {
			v = f.normalize(v)
		}
		for _, layout := range f.layouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), raw
			}
		}
		return time.Time{}, raw
	}
	return time.Time{}, ""
}
