package classify

import (
	"regexp"
	"strings"

	"github.com/linnemanlabs/faultline/internal/signal"
)

var nullReferenceKinds = map[string]bool{
	"NullPointerException":   true,
	"NullReferenceException": true,
}

var (
	jsNullAccessRe = regexp.MustCompile(`(?i)cannot read propert(?:y|ies)\b.*\bof (?:undefined|null)|(?:undefined|null) is not an object`)

	configKindRe = regexp.MustCompile(`(?i)(?:config(?:uration)?(?:exception|error)|placeholderresolution|invalidconnectionstring|missingenv|improperlyconfigured)`)

	configMessageRe = regexp.MustCompile(`(?i)` +
		`could not resolve placeholder` +
		`|failed to configure a datasource` +
		`|(?:missing|required|unresolved|undefined|invalid|unset)\b[^\n]*\b(?:property|properties|placeholder|config(?:uration)?|setting|environment variable|env var|connection string|datasource|url)\b` +
		`|\b(?:property|setting|environment variable|env var|config(?:uration)? key)\b[^\n]*\b(?:is )?(?:missing|not set|not defined|required|empty)\b`)

	envNameRe = regexp.MustCompile(`^'[A-Z][A-Z0-9_]{2,}'$`)
)

// IsNullReference reports whether sig is a null or nil dereference in any
// of the supported runtimes.
func IsNullReference(sig *signal.Signal) bool {
	short := sig.ShortKind()
	switch {
	case nullReferenceKinds[short]:
		return true
	case strings.HasPrefix(sig.Kind, "runtime.") || sig.Kind == "panic":
		return strings.Contains(sig.Message, "nil pointer dereference")
	case short == "AttributeError":
		return strings.Contains(sig.Message, "'NoneType'")
	case short == "TypeError":
		return jsNullAccessRe.MatchString(sig.Message)
	}
	return false
}

// IsMissingConfiguration reports whether the kind or message of sig points
// at absent or invalid configuration.
func IsMissingConfiguration(sig *signal.Signal) bool {
	if configKindRe.MatchString(sig.Kind) {
		return true
	}
	// os.environ["NAME"] lookups surface as a bare KeyError on the name.
	if sig.ShortKind() == "KeyError" && envNameRe.MatchString(strings.TrimSpace(sig.Message)) {
		return true
	}
	return configMessageRe.MatchString(sig.Message)
}
