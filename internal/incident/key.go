package incident

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/linnemanlabs/faultline/internal/signal"
)

const maxKeyMessageLen = 200

// CorrelationKey derives the dedup key of a signal: the exception kind plus
// the primary frame. Signals without a frame fall back to a normalized
// message so that recurring frameless errors still collapse.
func CorrelationKey(sig *signal.Signal) string {
	var b strings.Builder
	b.WriteString(sig.Kind)
	b.WriteByte('|')
	if f := sig.Primary; f != nil {
		b.WriteString(f.Class)
		b.WriteByte('.')
		b.WriteString(f.Method)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(f.Line))
		if f.File != "" {
			b.WriteByte('@')
			b.WriteString(f.File)
		}
		return b.String()
	}
	b.WriteString("msg:")
	b.WriteString(normalizeMessage(sig.Message))
	return b.String()
}

// normalizeMessage lowercases, masks digits and collapses whitespace so ids
// and counters embedded in messages do not split duplicates.
func normalizeMessage(msg string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(msg)) {
		switch {
		case unicode.IsDigit(r):
			r = '#'
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
		if b.Len() >= maxKeyMessageLen {
			break
		}
	}
	return b.String()
}
