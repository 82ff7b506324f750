package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	hexAddr     = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	goroutineID = regexp.MustCompile(`goroutine \d+`)
)

// NormalizeStack strips what varies between two occurrences of the same
// failure: surrounding whitespace, blank lines, pointer values and
// goroutine ids.
func NormalizeStack(stack string) string {
	lines := strings.Split(stack, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = goroutineID.ReplaceAllString(line, "goroutine N")
		line = hexAddr.ReplaceAllString(line, "0x?")
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// StackHash hashes the normalized stack.
func StackHash(stack string) string {
	return shortHash(NormalizeStack(stack))
}

// Fingerprint identifies an error by type and stack. The message is left
// out so interpolated values do not split a group.
func Fingerprint(errorType, stackHash string) string {
	return shortHash(errorType + "|" + stackHash)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
