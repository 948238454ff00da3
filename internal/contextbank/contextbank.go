// Package contextbank implements the context bank (C8): on every inbound
// message, a set of pre-compiled regexes extract addresses, token symbols,
// networks, URLs, and numbers for inclusion, verbatim, in the model's
// system prompt for that dispatch.
package contextbank

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nexuscore/runtime/pkg/models"
)

var (
	ethAddressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)
	urlPattern        = regexp.MustCompile(`https?://[^\s<>"']+`)
	numberPattern     = regexp.MustCompile(`\b(\d{1,3}(?:,\d{3})*|\d+)(\.\d+)?\s*(k|m|b|thousand|million|billion)?\b`)
	githubOwnerRepo   = regexp.MustCompile(`github\.com/([^/\s]+)/([^/\s?#]+)`)
)

var numberSuffixScale = map[string]float64{
	"k":        1_000,
	"thousand": 1_000,
	"m":        1_000_000,
	"million":  1_000_000,
	"b":        1_000_000_000,
	"billion":  1_000_000_000,
}

// Entry is a static token-symbol or network-identifier entry the scanner
// matches by word boundary, case-insensitively.
type Entry struct {
	Symbol string
	Label  string
}

// Config supplies the static token/network vocab the scanner matches
// against, alongside regex-derived items.
type Config struct {
	Tokens   []Entry
	Networks []Entry
}

// Scanner extracts context-bank items from inbound message text.
type Scanner struct {
	cfg          Config
	tokenRe      *regexp.Regexp
	tokenLookup  map[string]Entry
	networkRe    *regexp.Regexp
	networkLookup map[string]Entry
}

// New compiles a Scanner from the static token/network vocabulary.
func New(cfg Config) *Scanner {
	s := &Scanner{cfg: cfg}
	s.tokenRe, s.tokenLookup = compileVocab(cfg.Tokens)
	s.networkRe, s.networkLookup = compileVocab(cfg.Networks)
	return s
}

func compileVocab(entries []Entry) (*regexp.Regexp, map[string]Entry) {
	lookup := make(map[string]Entry, len(entries))
	if len(entries) == 0 {
		return nil, lookup
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, regexp.QuoteMeta(e.Symbol))
		lookup[strings.ToLower(e.Symbol)] = e
	}
	pattern := `(?i)\b(` + strings.Join(parts, "|") + `)\b`
	return regexp.MustCompile(pattern), lookup
}

// Scan extracts every matching item from text, deduplicated by
// (item_type, lowercased value).
func (s *Scanner) Scan(text string) []models.ContextBankItem {
	seen := make(map[string]struct{})
	var items []models.ContextBankItem

	add := func(item models.ContextBankItem) {
		itemType, key := item.Key()
		dedupKey := string(itemType) + "\x00" + key
		if _, ok := seen[dedupKey]; ok {
			return
		}
		seen[dedupKey] = struct{}{}
		items = append(items, item)
	}

	for _, raw := range urlPattern.FindAllString(text, -1) {
		url := strings.TrimRight(raw, ".,;:!?)")
		if m := githubOwnerRepo.FindStringSubmatch(url); m != nil {
			add(models.ContextBankItem{
				Value:    url,
				ItemType: models.ItemGithubURL,
				Label:    fmt.Sprintf("%s/%s", m[1], strings.TrimSuffix(m[2], ".git")),
			})
			continue
		}
		add(models.ContextBankItem{Value: url, ItemType: models.ItemURL})
	}

	for _, addr := range ethAddressPattern.FindAllString(text, -1) {
		add(models.ContextBankItem{Value: strings.ToLower(addr), ItemType: models.ItemEthAddress})
	}

	if s.tokenRe != nil {
		for _, m := range s.tokenRe.FindAllString(text, -1) {
			if entry, ok := s.tokenLookup[strings.ToLower(m)]; ok {
				add(models.ContextBankItem{Value: entry.Symbol, ItemType: models.ItemTokenSymbol, Label: entry.Label})
			}
		}
	}

	if s.networkRe != nil {
		for _, m := range s.networkRe.FindAllString(text, -1) {
			if entry, ok := s.networkLookup[strings.ToLower(m)]; ok {
				add(models.ContextBankItem{Value: entry.Symbol, ItemType: models.ItemNetwork, Label: entry.Label})
			}
		}
	}

	for _, m := range numberPattern.FindAllStringSubmatch(text, -1) {
		value, ok := expandNumber(m)
		if !ok || value < 1 {
			continue
		}
		add(models.ContextBankItem{Value: formatNumber(value), ItemType: models.ItemNumber})
	}

	return items
}

func expandNumber(groups []string) (float64, bool) {
	intPart := strings.ReplaceAll(groups[1], ",", "")
	numStr := intPart + groups[2]
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	if scale, ok := numberSuffixScale[strings.ToLower(groups[3])]; ok {
		n *= scale
	}
	return n, true
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Format groups items for inclusion in the system prompt: URLs (and github
// URLs) first, then addresses, tokens, networks, and numbers.
func Format(items []models.ContextBankItem) string {
	groups := []models.ContextBankItemType{
		models.ItemURL, models.ItemGithubURL,
		models.ItemEthAddress, models.ItemTokenSymbol,
		models.ItemNetwork, models.ItemNumber,
	}

	var b strings.Builder
	for _, groupType := range groups {
		var matched []models.ContextBankItem
		for _, it := range items {
			if it.ItemType == groupType {
				matched = append(matched, it)
			}
		}
		if len(matched) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", groupLabel(groupType))
		for _, it := range matched {
			if it.Label != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", it.Value, it.Label)
			} else {
				fmt.Fprintf(&b, "- %s\n", it.Value)
			}
		}
	}
	return b.String()
}

func groupLabel(t models.ContextBankItemType) string {
	switch t {
	case models.ItemURL:
		return "URLs"
	case models.ItemGithubURL:
		return "GitHub links"
	case models.ItemEthAddress:
		return "Addresses"
	case models.ItemTokenSymbol:
		return "Tokens"
	case models.ItemNetwork:
		return "Networks"
	case models.ItemNumber:
		return "Numbers"
	default:
		return string(t)
	}
}
