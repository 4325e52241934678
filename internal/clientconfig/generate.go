package clientconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/callpilot/protofill/internal/protocol"
)

// Generate builds a best-effort config from a protocol template. It is used
// when no hand-maintained config exists for the template yet; the output is
// meant to be reviewed and adjusted by a human.
func Generate(p *protocol.Protocol) *Config {
	cfg := &Config{
		ClientID:            fmt.Sprintf("template_%d", p.ID),
		TemplateID:          p.ID,
		HeuristicRules:      generateHeuristicRules(p),
		InfoPageNames:       extractInfoPageNames(p),
		Grounding:           ExtractGrounding(p),
		MustCriteria:        extractMustCriteria(p),
		QualificationGroups: extractQualificationGroups(p),
		RoutingRules:        []RoutingRule{},
		ImplicitDefaults:    generateImplicitDefaults(p),
	}
	return cfg
}

// WriteYAML writes the config with a short provenance header.
func WriteYAML(cfg *Config, templateName, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "# Auto-generated config for: %s\n", templateName)
	fmt.Fprintf(&buf, "# Template ID: %d\n", cfg.TemplateID)
	buf.WriteString("# Generated from protocol template\n\n")
	buf.Write(body)

	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var (
	hoursInQuestionRe = regexp.MustCompile(`(\d+)\s*(wochenstunden|stunden)`)
	trainingRe        = regexp.MustCompile(`fortbildung|qualifizierung`)
	salaryRe          = regexp.MustCompile(`vergütung|gehalt`)
	routingHintRe     = regexp.MustCompile(`weiterleiten|routing`)
)

func generateHeuristicRules(p *protocol.Protocol) []HeuristicRule {
	var rules []HeuristicRule
	seen := make(map[string]bool)

	add := func(rule HeuristicRule) {
		key := rule.Pattern + "|" + string(rule.Type)
		if !seen[key] {
			seen[key] = true
			rules = append(rules, rule)
		}
	}

	for _, item := range p.Items() {
		q := strings.ToLower(item.Question)
		if item.Type == "" || item.Type == string(protocol.TypeInfo) {
			continue
		}

		if trainingRe.MatchString(q) {
			add(HeuristicRule{Pattern: "nachweis.*(fortbildungen|qualifizierungen)", Type: protocol.TypeTextList, Confidence: 0.90})
		}
		if strings.Contains(q, "vollzeit") {
			if m := hoursInQuestionRe.FindStringSubmatch(q); m != nil {
				add(HeuristicRule{Pattern: fmt.Sprintf("(vollzeit|wochenstunden|%s)", m[1]), Type: protocol.TypeYesNo, Confidence: 0.90})
			}
		}
		if salaryRe.MatchString(q) {
			add(HeuristicRule{Pattern: "vergütung.*(tv-l|tarif|€|euro)", Type: protocol.TypeYesNoWithDetails, Confidence: 0.88})
		}
		if routingHintRe.MatchString(q) {
			add(HeuristicRule{Pattern: "alternativ.*weiterleiten", Type: protocol.TypeRoutingRule, Confidence: 0.93})
		}
	}

	return rules
}

func extractInfoPageNames(p *protocol.Protocol) []string {
	var names []string
	seen := make(map[string]bool)
	for _, page := range p.Pages {
		for _, item := range page.Items {
			if item.Type == string(protocol.TypeInfo) && !seen[page.Name] {
				seen[page.Name] = true
				names = append(names, page.Name)
			}
		}
	}
	return names
}

func extractMustCriteria(p *protocol.Protocol) []MustCriterion {
	var criteria []MustCriterion
	for _, item := range p.Items() {
		if strings.HasPrefix(strings.ToLower(item.Question), "zwingend:") {
			question := item.Question
			// Truncate on rune boundaries so umlauts survive the cut.
			if runes := []rune(question); len(runes) > 60 {
				question = string(runes[:60])
			}
			criteria = append(criteria, MustCriterion{
				ItemID:   item.ID,
				Expected: true,
				ErrorMsg: fmt.Sprintf("Zwingendes Kriterium nicht erfüllt: %s...", question),
			})
		}
	}
	return criteria
}

// qualification categories used to group related questions into OR-groups.
var qualificationCategories = []struct {
	name     string
	keywords []string
	patterns []*regexp.Regexp
}{
	{
		name:     "ausbildung",
		keywords: []string{"ausbildung", "studium", "abschluss", "qualifikation"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`ausbildung\s+(?:als|zum|zur)\s+([\w\s,\-]+(?:\s+oder\s+[\w\s,\-]+)*)`),
			regexp.MustCompile(`abschluss\s+(?:als|in)\s+([\w\s,\-]+(?:\s+oder\s+[\w\s,\-]+)*)`),
		},
	},
	{
		name:     "erfahrung",
		keywords: []string{"berufserfahrung", "jahre erfahrung", "erfahrung in", "erfahrung als"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`erfahrung\s+(?:als|in)\s+([\w\s,\-]+)`),
		},
	},
	{
		name:     "zertifikate",
		keywords: []string{"zertifikat", "zertifizierung", "lizenz", "berechtigung", "nachweis"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`zertifikat\s+([\w\s,\-]+(?:\s+oder\s+[\w\s,\-]+)*)`),
		},
	},
	{
		name:     "sprachen",
		keywords: []string{"sprachkenntnisse", "deutschkenntnisse", "englischkenntnisse"},
	},
	{
		name:     "fuehrerschein",
		keywords: []string{"führerschein", "fahrerlaubnis"},
	},
}

func extractQualificationGroups(p *protocol.Protocol) []QualificationGroup {
	categorized := make(map[string][]protocol.Item)

	for _, item := range p.Items() {
		q := strings.ToLower(item.Question)
		if item.Type == string(protocol.TypeInfo) || item.Type == string(protocol.TypeRecruiterInstruction) {
			continue
		}
		// Zwingend-prefixed questions already live in must_criteria.
		if strings.HasPrefix(q, "zwingend:") {
			continue
		}
		for _, cat := range qualificationCategories {
			if containsAny(q, cat.keywords) {
				categorized[cat.name] = append(categorized[cat.name], item)
				break
			}
		}
	}

	var groups []QualificationGroup
	counter := 1
	for _, cat := range qualificationCategories {
		items := categorized[cat.name]
		if len(items) == 0 {
			continue
		}

		var options []QualificationOption
		if len(items) == 1 && strings.Contains(strings.ToLower(items[0].Question), " oder ") {
			options = splitAlternatives(items[0], cat.patterns)
		}
		if len(options) == 0 {
			for _, item := range items {
				options = append(options, QualificationOption{
					ItemID:      item.ID,
					Description: truncate(item.Question, 100),
					Weight:      1.0,
				})
			}
		}

		groups = append(groups, QualificationGroup{
			GroupID:     fmt.Sprintf("qual_group_%d", counter),
			Name:        fmt.Sprintf("Qualifikation: %s", titleCase(cat.name)),
			Logic:       "OR",
			Options:     options,
			MinRequired: 1,
			IsMandatory: true,
			ErrorMsg:    fmt.Sprintf("Keine der erforderlichen %s-Qualifikationen erfüllt", cat.name),
		})
		counter++
	}

	return groups
}

var alternativeSplitRe = regexp.MustCompile(`\s+oder\s+|,\s*(?:oder\s+)?`)

// splitAlternatives turns "Ausbildung als A, B oder C" into one option per
// alternative, all bound to the same item.
func splitAlternatives(item protocol.Item, patterns []*regexp.Regexp) []QualificationOption {
	q := strings.ToLower(item.Question)
	for _, re := range patterns {
		m := re.FindStringSubmatch(q)
		if m == nil || len(m) < 2 {
			continue
		}
		var options []QualificationOption
		for _, alt := range alternativeSplitRe.Split(m[1], -1) {
			alt = strings.TrimSpace(alt)
			if len(alt) <= 2 {
				continue
			}
			options = append(options, QualificationOption{
				ItemID:      item.ID,
				Description: titleCase(alt),
				Weight:      1.0,
			})
		}
		if len(options) > 0 {
			return options
		}
	}
	return nil
}

func generateImplicitDefaults(p *protocol.Protocol) []ImplicitDefault {
	var defaults []ImplicitDefault
	for _, item := range p.Items() {
		q := strings.ToLower(item.Question)
		if strings.Contains(q, "deutschkenntnisse") && strings.Contains(q, "b2") {
			defaults = append(defaults, ImplicitDefault{
				ItemID:    item.ID,
				Reasoning: "Gespräch wurde auf Deutsch geführt",
				Answer: DefaultAnswer{
					Checked:    protocol.Bool(true),
					Value:      "ja",
					Confidence: 0.8,
					Notes:      "Implizit angenommen (Gespräch auf Deutsch)",
				},
			})
		}
	}
	return defaults
}

// ExtractGrounding pulls client facts out of question texts: weekly hours,
// holiday allowance and tariff names.
func ExtractGrounding(p *protocol.Protocol) map[string]any {
	grounding := make(map[string]any)

	holidayRe := regexp.MustCompile(`(?i)(\d+)\s*tage`)
	tariffRe := regexp.MustCompile(`(?i)(tv-l[^(,]+)`)

	for _, item := range p.Items() {
		q := strings.ToLower(item.Question)

		if strings.Contains(q, "vollzeit") {
			if m := hoursInQuestionRe.FindStringSubmatch(q); m != nil {
				if hours, err := strconv.Atoi(m[1]); err == nil {
					grounding["vollzeit_stunden"] = hours
				}
			}
		}
		if strings.Contains(q, "urlaub") || strings.Contains(q, "jahresurlaub") {
			if m := holidayRe.FindStringSubmatch(item.Question); m != nil {
				if days, err := strconv.Atoi(m[1]); err == nil {
					grounding["urlaub_tage"] = days
				}
			}
		}
		if strings.Contains(q, "tv-l") || strings.Contains(q, "tarif") {
			if m := tariffRe.FindStringSubmatch(item.Question); m != nil {
				grounding["tarifvertrag"] = strings.TrimSpace(m[1])
			}
		}
	}

	return grounding
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		if len(runes) > 0 {
			words[i] = strings.ToUpper(string(runes[0])) + string(runes[1:])
		}
	}
	return strings.Join(words, " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
