package export

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// TokenLength is the length of generated package tokens.
const TokenLength = 10

var dashes = regexp.MustCompile("-+")

// packageToken returns the base name of the produced package: the caller's
// filename when usable, a random token otherwise.
func packageToken(filename string) string {
	if token := sanitizeFilename(filename); token != "" {
		return token
	}
	return randomToken()
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:TokenLength]
}

// sanitizeFilename cleans a caller supplied name:
// 1. Known package extensions are dropped
// 2. Spaces become dashes
// 3. Only letters, digits, dash, underscore and dot survive
// 4. Leading/trailing dashes and dots are trimmed
// 5. Truncated to 64 chars
func sanitizeFilename(name string) string {
	for _, ext := range []string{".tar.gz", ".tgz", ".yml", ".yaml"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "-")

	var builder strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			builder.WriteRune(r)
		}
	}

	result := dashes.ReplaceAllString(builder.String(), "-")
	result = strings.Trim(result, "-.")
	if len(result) > 64 {
		result = result[:64]
	}
	return result
}
