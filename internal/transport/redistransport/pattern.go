package redistransport

import "strings"

// matchSubject implements the normative subject-wildcard semantics from
// §4.1: '*' matches exactly one token, '>' matches the remainder and must
// be the pattern's last token.
func matchSubject(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, pt := range pTokens {
		if pt == ">" {
			return true
		}
		if i >= len(sTokens) {
			return false
		}
		if pt != "*" && pt != sTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(sTokens)
}
