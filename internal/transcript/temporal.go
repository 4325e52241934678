package transcript

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Enricher annotates German relative-date phrases with absolute hints
// computed against the call timestamp, so the extractor sees "vor 3 Jahren
// [≈2023]" instead of having to do date math itself.
type Enricher struct {
	reference time.Time
}

// NewEnricher builds an enricher anchored at the given reference timestamp.
// A zero timestamp anchors at the current time.
func NewEnricher(referenceUnixSecs int64) *Enricher {
	ref := time.Now()
	if referenceUnixSecs > 0 {
		ref = time.Unix(referenceUnixSecs, 0)
	}
	return &Enricher{reference: ref}
}

var monthNumbers = map[string]time.Month{
	"januar": time.January, "februar": time.February, "märz": time.March,
	"april": time.April, "mai": time.May, "juni": time.June,
	"juli": time.July, "august": time.August, "september": time.September,
	"oktober": time.October, "november": time.November, "dezember": time.December,
}

var temporalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)vor\s+\d+\s+(?:jahr(?:en)?|monat(?:en)?|woche(?:n)?|tag(?:en)?)`),
	regexp.MustCompile(`(?i)seit\s+\d+\s+(?:jahr(?:en)?|monat(?:en)?)`),
	regexp.MustCompile(`(?i)seit\s+(?:januar|februar|märz|april|mai|juni|juli|august|september|oktober|november|dezember)\s+\d{4}`),
	regexp.MustCompile(`(?i)letzt(?:es|en|em)\s+(?:jahr|monat|woche)`),
	regexp.MustCompile(`(?i)nächst(?:es|en|em)\s+(?:jahr|monat)`),
	regexp.MustCompile(`(?i)dies(?:es|en|em)\s+(?:jahr|monat)`),
	regexp.MustCompile(`20[0-3]\d`),
}

// Enrich annotates every turn, keeping the original text alongside.
func (e *Enricher) Enrich(turns []Turn) []Turn {
	enriched := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		enriched = append(enriched, Turn{
			Speaker:  turn.Speaker,
			Text:     e.annotate(turn.Text),
			Original: turn.Text,
		})
	}
	return enriched
}

type annotation struct {
	pos  int
	text string
}

func (e *Enricher) annotate(text string) string {
	var annotations []annotation
	for _, re := range temporalPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			expr := text[loc[0]:loc[1]]
			if hint := e.parseExpression(expr); hint != "" {
				annotations = append(annotations, annotation{pos: loc[1], text: fmt.Sprintf(" [%s]", hint)})
			}
		}
	}

	// Insert back to front so byte positions stay valid.
	sort.Slice(annotations, func(i, j int) bool { return annotations[i].pos > annotations[j].pos })

	enriched := text
	for _, ann := range annotations {
		tail := enriched[ann.pos:]
		if len(tail) > 10 {
			tail = tail[:10]
		}
		if strings.Contains(tail, "[") {
			continue
		}
		enriched = enriched[:ann.pos] + ann.text + enriched[ann.pos:]
	}
	return enriched
}

var (
	agoRe       = regexp.MustCompile(`(?i)^vor\s+(\d+)\s+(jahr(?:en)?|monat(?:en)?|woche(?:n)?|tag(?:en)?)`)
	sinceRe     = regexp.MustCompile(`(?i)^seit\s+(\d+)\s+(jahr(?:en)?|monat(?:en)?)`)
	sinceDateRe = regexp.MustCompile(`(?i)^seit\s+(januar|februar|märz|april|mai|juni|juli|august|september|oktober|november|dezember)\s+(\d{4})`)
	lastRe      = regexp.MustCompile(`(?i)^letzt(?:es|en|em)\s+(jahr|monat|woche)`)
	nextRe      = regexp.MustCompile(`(?i)^nächst(?:es|en|em)\s+(jahr|monat)`)
	thisRe      = regexp.MustCompile(`(?i)^dies(?:es|en|em)\s+(jahr|monat)`)
	yearRe      = regexp.MustCompile(`^(20[0-3]\d)`)
)

func (e *Enricher) parseExpression(expr string) string {
	lower := strings.ToLower(expr)

	if m := agoRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch {
		case strings.HasPrefix(m[2], "jahr"):
			return fmt.Sprintf("≈%d", e.reference.AddDate(-n, 0, 0).Year())
		case strings.HasPrefix(m[2], "monat"):
			t := e.reference.AddDate(0, -n, 0)
			return fmt.Sprintf("≈%02d/%d", t.Month(), t.Year())
		case strings.HasPrefix(m[2], "woche"):
			t := e.reference.AddDate(0, 0, -7*n)
			return "≈" + t.Format("02.01.2006")
		default:
			t := e.reference.AddDate(0, 0, -n)
			return "≈" + t.Format("02.01.2006")
		}
	}

	if m := sinceRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(m[2], "jahr") {
			return fmt.Sprintf("Start ≈%d", e.reference.AddDate(-n, 0, 0).Year())
		}
		t := e.reference.AddDate(0, -n, 0)
		return fmt.Sprintf("Start ≈%02d/%d", t.Month(), t.Year())
	}

	if m := sinceDateRe.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[2])
		month := monthNumbers[m[1]]
		start := time.Date(year, month, 1, 0, 0, 0, 0, e.reference.Location())
		years := e.reference.Sub(start).Hours() / 24 / 365.25
		if years >= 1 {
			return fmt.Sprintf("Start %d, vor ca. %.1f J", year, years)
		}
		months := int(e.reference.Sub(start).Hours() / 24 / 30)
		return fmt.Sprintf("Start %d, vor ca. %d M", year, months)
	}

	if m := lastRe.FindStringSubmatch(lower); m != nil {
		switch m[1] {
		case "jahr":
			return strconv.Itoa(e.reference.Year() - 1)
		case "monat":
			t := e.reference.AddDate(0, -1, 0)
			return fmt.Sprintf("%02d/%d", t.Month(), t.Year())
		default:
			_, week := e.reference.AddDate(0, 0, -7).ISOWeek()
			return fmt.Sprintf("KW %d", week)
		}
	}

	if m := nextRe.FindStringSubmatch(lower); m != nil {
		if m[1] == "jahr" {
			return strconv.Itoa(e.reference.Year() + 1)
		}
		t := e.reference.AddDate(0, 1, 0)
		return fmt.Sprintf("%02d/%d", t.Month(), t.Year())
	}

	if m := thisRe.FindStringSubmatch(lower); m != nil {
		if m[1] == "jahr" {
			return strconv.Itoa(e.reference.Year())
		}
		return fmt.Sprintf("%02d/%d", e.reference.Month(), e.reference.Year())
	}

	if m := yearRe.FindStringSubmatch(expr); m != nil {
		year, _ := strconv.Atoi(m[1])
		diff := e.reference.Year() - year
		switch {
		case diff > 0:
			return fmt.Sprintf("vor %d J", diff)
		case diff < 0:
			return fmt.Sprintf("in %d J", -diff)
		default:
			return "aktuell"
		}
	}

	return ""
}

// Context summarizes the temporal frame of a call: the call date plus every
// year mentioned in the dialogue.
type Context struct {
	CallDate       string `json:"call_date"`
	CallYear       int    `json:"call_year"`
	CallMonth      int    `json:"call_month"`
	MentionedYears []int  `json:"mentioned_years"`
}

var mentionedYearRe = regexp.MustCompile(`\b(20[0-2]\d)\b`)

// ExtractContext builds the temporal context summary for the metadata
// envelope.
func (e *Enricher) ExtractContext(turns []Turn) Context {
	yearSet := make(map[int]bool)
	for _, turn := range turns {
		for _, m := range mentionedYearRe.FindAllString(turn.Text, -1) {
			if year, err := strconv.Atoi(m); err == nil {
				yearSet[year] = true
			}
		}
	}
	years := make([]int, 0, len(yearSet))
	for year := range yearSet {
		years = append(years, year)
	}
	sort.Ints(years)

	return Context{
		CallDate:       e.reference.Format("2006-01-02"),
		CallYear:       e.reference.Year(),
		CallMonth:      int(e.reference.Month()),
		MentionedYears: years,
	}
}
