package sandbox

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	dangerousChars   = []rune{'|', ';', '&', '$', '`', '(', ')', '{', '}', '<', '>', '\n', '\r', 0}
	placeholderRegex = regexp.MustCompile(`\$\{[^}]*\}`)
)

// ValidateArgument rejects shell metacharacters in a user supplied value.
// '&' is accepted inside http(s) URLs where it separates query parameters.
func ValidateArgument(value string) error {
	isURL := strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
	for _, ch := range dangerousChars {
		if ch == '&' && isURL {
			continue
		}
		if strings.ContainsRune(value, ch) {
			return fmt.Errorf("%w: forbidden character %s in %q", ErrInvalidArgument, describeChar(ch), clip(value, 50))
		}
	}
	return nil
}

// ExpandArgs substitutes ${name} placeholders in template with params.
// Every param value is validated before substitution, so trusted templates may
// still carry shell syntax while user values cannot. A placeholder left over
// after substitution is an error.
func ExpandArgs(template []string, params map[string]string) ([]string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ValidateArgument(params[k]); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
	}

	out := make([]string, 0, len(template))
	for _, arg := range template {
		for _, k := range keys {
			arg = strings.ReplaceAll(arg, "${"+k+"}", params[k])
		}
		if m := placeholderRegex.FindString(arg); m != "" {
			return nil, fmt.Errorf("%w: unsubstituted placeholder %s: parameter not provided", ErrInvalidArgument, m)
		}
		out = append(out, arg)
	}
	return out, nil
}

func describeChar(ch rune) string {
	switch ch {
	case '\n':
		return "newline"
	case '\r':
		return "carriage return"
	case 0:
		return "null byte"
	default:
		return fmt.Sprintf("'%c'", ch)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
