package artifact

import (
	"encoding/json"
	"net"
	"regexp"
	"strings"

	"github.com/recallkit/recallkit/pkg/types"
)

// Per-recognizer confidence levels. These reflect how unambiguous each
// pattern is, not how often it appears.
const (
	confEmail      = 0.95
	confURLScheme  = 0.95
	confURLBare    = 0.8
	confUUID       = 1.0
	confIPv4       = 0.95
	confIPv6       = 0.9
	confDateISO    = 1.0
	confDateLocale = 0.8
	confMoney      = 0.85
	confJSON       = 1.0
	confFilePath   = 0.7
	confIBAN       = 0.85
	confPhone      = 0.7
)

var (
	// Unicode-aware local part and domain; international addresses match.
	emailPattern = regexp.MustCompile(`[\p{L}\p{N}._%+\-]+@[\p{L}\p{N}](?:[\p{L}\p{N}\-]*[\p{L}\p{N}])?(?:\.[\p{L}\p{N}](?:[\p{L}\p{N}\-]*[\p{L}\p{N}])?)+`)

	schemeURLPattern = regexp.MustCompile(`\b(?:https?|ftp)://[^\s<>"'` + "`" + `]+`)
	bareURLPattern   = regexp.MustCompile(`\b(?:www\.)?[a-zA-Z0-9][a-zA-Z0-9\-]*(?:\.[a-zA-Z0-9][a-zA-Z0-9\-]*)*\.[a-zA-Z]{2,}(?:/[^\s<>"']*)?`)

	// Strict v4: version nibble 4, variant in [89ab].
	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}\b`)

	ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	// Candidate shapes only; net.ParseIP is the arbiter.
	ipv6Pattern = regexp.MustCompile(`[0-9a-fA-F]{0,4}(?::[0-9a-fA-F]{0,4}){2,7}`)

	isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?\b`)
	// Locale-ambiguous numeric dates: 12/31/2024, 31.12.2024, 2024/12/31.
	localeDatePattern = regexp.MustCompile(`\b\d{1,4}[/.]\d{1,2}[/.]\d{1,4}\b`)

	moneySymbolPattern = regexp.MustCompile(`[$€£¥₹]\s?\d[\d.,]*|\d[\d.,]*\s?[$€£¥₹]`)
	moneyCodePattern   = regexp.MustCompile(`\b(?:USD|EUR|GBP|JPY|CHF|CAD|AUD|NZD|INR|CNY|SEK|NOK|DKK|PLN|BRL|MXN|ZAR|KRW)\s?\d[\d.,]*`)

	absPathPattern = regexp.MustCompile(`(?:[A-Za-z]:\\|\\\\|~/|\./|\.\./|/)[^\s:*?"<>|,;]+`)
	relPathPattern = regexp.MustCompile(`\b[\w.\-]+(?:[/\\][\w.\-]+)+\b`)

	ibanPattern = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Za-z0-9]{11,30}\b`)

	phonePattern     = regexp.MustCompile(`\+?\d[\d\-. ()]{5,20}\d`)
	nonDigitPattern  = regexp.MustCompile(`\D`)
	numericTokenOnly = regexp.MustCompile(`^[\d/.\\\-]+$`)
)

// bareTLDs bounds the bare-domain recognizer: without a scheme, only tokens
// ending in a common TLD are treated as URLs, which keeps filenames like
// config.yaml out.
var bareTLDs = map[string]struct{}{
	"com": {}, "org": {}, "net": {}, "io": {}, "dev": {}, "ai": {},
	"co": {}, "edu": {}, "gov": {}, "app": {}, "me": {}, "info": {},
	"uk": {}, "de": {}, "fr": {}, "es": {}, "it": {}, "nl": {}, "se": {},
	"jp": {}, "cn": {}, "in": {}, "br": {}, "au": {}, "ca": {}, "ch": {},
}

func detectEmails(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan
	for _, raw := range emailPattern.FindAllString(text, -1) {
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactEmail,
			RawValue:        raw,
			NormalizedValue: strings.ToLower(raw),
			Confidence:      confEmail,
		})
	}
	return spans
}

// detectURLs finds scheme-prefixed URLs at high confidence and bare domains
// at lower confidence. Bare domains are normalized by prepending https://.
func detectURLs(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan

	schemeRanges := schemeURLPattern.FindAllStringIndex(text, -1)
	for _, loc := range schemeRanges {
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)")
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactURL,
			RawValue:        raw,
			NormalizedValue: raw,
			Confidence:      confURLScheme,
		})
	}

	for _, loc := range bareURLPattern.FindAllStringIndex(text, -1) {
		if overlapsAny(loc, schemeRanges) {
			continue
		}
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)")
		// Emails and version-like tokens fall out here.
		if strings.Contains(raw, "@") || !strings.Contains(raw, ".") {
			continue
		}
		if loc[0] > 0 && text[loc[0]-1] == '@' {
			continue
		}
		host := raw
		if slash := strings.IndexByte(host, '/'); slash >= 0 {
			host = host[:slash]
		}
		tld := strings.ToLower(host[strings.LastIndexByte(host, '.')+1:])
		if _, ok := bareTLDs[tld]; !ok {
			continue
		}
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactURL,
			RawValue:        raw,
			NormalizedValue: "https://" + raw,
			Confidence:      confURLBare,
		})
	}

	return spans
}

func detectUUIDs(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan
	for _, raw := range uuidPattern.FindAllString(text, -1) {
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactUUID,
			RawValue:        raw,
			NormalizedValue: strings.ToLower(raw),
			Confidence:      confUUID,
		})
	}
	return spans
}

// detectIPs validates every candidate with net.ParseIP so octet ranges and
// compressed v6 forms are exact rather than approximated in the pattern.
func detectIPs(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan

	for _, raw := range ipv4Pattern.FindAllString(text, -1) {
		ip := net.ParseIP(raw)
		if ip == nil || ip.To4() == nil {
			continue
		}
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactIPv4,
			RawValue:        raw,
			NormalizedValue: ip.String(),
			Confidence:      confIPv4,
		})
	}

	for _, raw := range ipv6Pattern.FindAllString(text, -1) {
		if !strings.Contains(raw, ":") {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil || ip.To4() != nil {
			continue
		}
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactIPv6,
			RawValue:        raw,
			NormalizedValue: ip.String(),
			Confidence:      confIPv6,
		})
	}

	return spans
}

// detectDates matches ISO-8601 timestamps at full confidence and unions in
// locale-ambiguous numeric formats (12/31/2024, 31.12.2024) at reduced
// confidence, skipping any span that overlaps an ISO match.
func detectDates(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan

	isoRanges := isoDatePattern.FindAllStringIndex(text, -1)
	for _, loc := range isoRanges {
		raw := text[loc[0]:loc[1]]
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactDate,
			RawValue:        raw,
			NormalizedValue: raw,
			Confidence:      confDateISO,
		})
	}

	for _, loc := range localeDatePattern.FindAllStringIndex(text, -1) {
		if overlapsAny(loc, isoRanges) {
			continue
		}
		raw := text[loc[0]:loc[1]]
		if !plausibleNumericDate(raw) {
			continue
		}
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactDate,
			RawValue:        raw,
			NormalizedValue: raw,
			Confidence:      confDateLocale,
		})
	}

	return spans
}

// plausibleNumericDate filters locale-ambiguous candidates down to ones where
// some part could be a year and the others could be day/month.
func plausibleNumericDate(raw string) bool {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '.' })
	if len(parts) != 3 {
		return false
	}
	hasYear := false
	for _, p := range parts {
		if len(p) == 4 {
			hasYear = true
		}
		if len(p) > 4 {
			return false
		}
	}
	// Two-digit-everything forms (01/02/03) are accepted; fully ambiguous
	// but that is this recognizer's documented role.
	return hasYear || (len(parts[0]) <= 2 && len(parts[1]) <= 2 && len(parts[2]) == 2)
}

// detectMoney finds currency-symbol-adjacent and currency-code-prefixed
// amounts. Normalization strips thousands separators.
func detectMoney(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan
	seen := make(map[string]struct{})

	for _, raw := range append(moneySymbolPattern.FindAllString(text, -1), moneyCodePattern.FindAllString(text, -1)...) {
		raw = strings.TrimRight(strings.TrimSpace(raw), ".,")
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactMoney,
			RawValue:        raw,
			NormalizedValue: strings.ReplaceAll(raw, ",", ""),
			Confidence:      confMoney,
		})
	}
	return spans
}

// detectJSON scans for balanced {...} / [...] substrings and keeps only those
// that actually parse. Failed parses are silently dropped.
func detectJSON(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan

	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end := matchBracket(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if isInterestingJSON(candidate) && json.Valid([]byte(candidate)) {
			spans = append(spans, types.ArtifactSpan{
				Type:            types.ArtifactJSON,
				RawValue:        candidate,
				NormalizedValue: candidate,
				Confidence:      confJSON,
			})
			// Skip past this value; nested JSON is part of the outer span.
			i = end
		}
	}

	return spans
}

// isInterestingJSON rejects degenerate candidates ("[]", "{}", "[1]") that are
// far more likely to be prose or code than a structured value worth keeping.
func isInterestingJSON(candidate string) bool {
	if len(candidate) < 7 {
		return false
	}
	if candidate[0] == '{' {
		return strings.Contains(candidate, ":")
	}
	return strings.Contains(candidate, ",") || strings.Contains(candidate, "{")
}

// matchBracket returns the index of the bracket closing the one at start,
// honoring JSON string literals and escapes, or -1 if unbalanced.
func matchBracket(text string, start int) int {
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// detectFilePaths matches POSIX and Windows path tokens longer than 5 chars
// containing a separator. Intentionally permissive; downstream consumers
// treat path spans as weak signals.
func detectFilePaths(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan
	seen := make(map[string]struct{})

	// Rooted candidates starting with a bare "/" count only at a token
	// boundary, otherwise "internal/api" would lose its first segment.
	var absRanges [][]int
	for _, loc := range absPathPattern.FindAllStringIndex(text, -1) {
		if text[loc[0]] == '/' && loc[0] > 0 {
			if prev := text[loc[0]-1]; !isPathBoundary(prev) {
				continue
			}
		}
		absRanges = append(absRanges, loc)
	}

	candidates := make([][2]int, 0, len(absRanges))
	for _, loc := range absRanges {
		candidates = append(candidates, [2]int{loc[0], loc[1]})
	}
	for _, loc := range relPathPattern.FindAllStringIndex(text, -1) {
		if overlapsAny(loc, absRanges) {
			continue
		}
		candidates = append(candidates, [2]int{loc[0], loc[1]})
	}

	for _, loc := range candidates {
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)")
		if len(raw) <= 5 || isURLTail(text, loc[0], raw) {
			continue
		}
		if !strings.ContainsAny(raw, `/\`) {
			continue
		}
		// Slash-separated digit runs are dates, not paths.
		if numericTokenOnly.MatchString(raw) {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactFilePath,
			RawValue:        raw,
			NormalizedValue: raw,
			Confidence:      confFilePath,
		})
	}
	return spans
}

// isPathBoundary reports whether a byte can legitimately precede a rooted path.
func isPathBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '"', '\'', '(', '[', '=', ',':
		return true
	}
	return false
}

// isURLTail reports whether a path candidate is really the tail of a URL.
func isURLTail(text string, start int, raw string) bool {
	if strings.Contains(raw, "://") {
		return true
	}
	prefix := text[:start]
	if strings.HasPrefix(raw, "//") && strings.HasSuffix(prefix, ":") {
		return true
	}
	return strings.HasSuffix(prefix, "://") || strings.HasSuffix(strings.ToLower(prefix), "www.")
}

// detectIBANs matches country code + check digits + alphanumeric body.
// Checksum verification is deliberately not performed.
func detectIBANs(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan
	for _, raw := range ibanPattern.FindAllString(text, -1) {
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactIBAN,
			RawValue:        raw,
			NormalizedValue: strings.ToUpper(raw),
			Confidence:      confIBAN,
		})
	}
	return spans
}

// detectPhones matches digit groups joined by separators or a leading plus,
// with 7-15 digits after stripping. Eight-digit tokens shaped like YYYYMMDD
// starting 19/20 are excluded as probable dates. This heuristic has known
// false negatives (some 9-digit numbers read as dates elsewhere) and is
// documented as such rather than treated as an exact contract.
func detectPhones(text string) []types.ArtifactSpan {
	var spans []types.ArtifactSpan

	// Spans already claimed by a date recognizer are never phones. This goes
	// beyond the bare YYYYMMDD exclusion and is a deliberate trade-off:
	// dotted European dates (31.12.2024) would otherwise strip to plausible
	// digit counts.
	dateRanges := isoDatePattern.FindAllStringIndex(text, -1)
	for _, loc := range localeDatePattern.FindAllStringIndex(text, -1) {
		if plausibleNumericDate(text[loc[0]:loc[1]]) {
			dateRanges = append(dateRanges, loc)
		}
	}

	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		if overlapsAny(loc, dateRanges) {
			continue
		}
		raw := text[loc[0]:loc[1]]
		if !strings.ContainsAny(raw, "+-. ()") {
			continue
		}
		digits := nonDigitPattern.ReplaceAllString(raw, "")
		if len(digits) < 7 || len(digits) > 15 {
			continue
		}
		if looksLikeCompactDate(digits) {
			continue
		}
		normalized := digits
		if strings.HasPrefix(strings.TrimSpace(raw), "+") {
			normalized = "+" + digits
		}
		spans = append(spans, types.ArtifactSpan{
			Type:            types.ArtifactPhone,
			RawValue:        raw,
			NormalizedValue: normalized,
			Confidence:      confPhone,
		})
	}
	return spans
}

// looksLikeCompactDate reports whether a digit string is shaped like YYYYMMDD
// with a 19xx/20xx year.
func looksLikeCompactDate(digits string) bool {
	if len(digits) != 8 {
		return false
	}
	if !strings.HasPrefix(digits, "19") && !strings.HasPrefix(digits, "20") {
		return false
	}
	month := digits[4:6]
	day := digits[6:8]
	return month >= "01" && month <= "12" && day >= "01" && day <= "31"
}

// overlapsAny reports whether loc intersects any of the given index ranges.
func overlapsAny(loc []int, ranges [][]int) bool {
	for _, r := range ranges {
		if loc[0] < r[1] && r[0] < loc[1] {
			return true
		}
	}
	return false
}
