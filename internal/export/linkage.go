package export

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/polylab/collector/internal/domain"
)

// linkResult is the outcome of alert linkage. Alerts that match no exported
// market land in unlinked; they surface in the run manifest rather than
// disappearing.
type linkResult struct {
	byMarket map[string][]domain.WhaleAlert
	unlinked []domain.WhaleAlert
}

// linkAlerts assigns whale alerts to the exported markets. Alerts carrying a
// market ID match exactly against it; alerts without one fall back to fuzzy
// title matching, where the best market at or above the threshold wins.
func linkAlerts(alerts []domain.WhaleAlert, markets []domain.Market, threshold float64) linkResult {
	res := linkResult{byMarket: make(map[string][]domain.WhaleAlert)}
	if len(alerts) == 0 {
		return res
	}
	if len(markets) == 0 {
		res.unlinked = alerts
		return res
	}

	byID := make(map[string]bool, len(markets))
	for _, m := range markets {
		byID[m.MarketID] = true
	}

	var untitled []domain.WhaleAlert
	for _, a := range alerts {
		switch {
		case a.MarketID == "":
			untitled = append(untitled, a)
		case byID[a.MarketID]:
			res.byMarket[a.MarketID] = append(res.byMarket[a.MarketID], a)
		default:
			// An ID pointing outside the exported set is an exact miss;
			// fuzzy matching never overrides an explicit identifier.
			res.unlinked = append(res.unlinked, a)
		}
	}

	if len(untitled) == 0 {
		return res
	}

	lev := metrics.NewLevenshtein()
	type candidate struct {
		title    string
		marketID string
	}
	candidates := make([]candidate, 0, len(markets))
	for _, m := range markets {
		if m.Title == "" {
			continue
		}
		candidates = append(candidates, candidate{
			title:    tokenSort(normaliseTitle(m.Title)),
			marketID: m.MarketID,
		})
	}

	for _, a := range untitled {
		alertTitle := tokenSort(normaliseTitle(a.MarketTitle))
		if alertTitle == "" {
			res.unlinked = append(res.unlinked, a)
			continue
		}
		bestScore := 0.0
		bestID := ""
		for _, c := range candidates {
			score := strutil.Similarity(alertTitle, c.title, lev)
			if score > bestScore {
				bestScore = score
				bestID = c.marketID
			}
		}
		if bestScore >= threshold && bestID != "" {
			res.byMarket[bestID] = append(res.byMarket[bestID], a)
		} else {
			res.unlinked = append(res.unlinked, a)
		}
	}
	return res
}

// normaliseTitle lowercases a title and strips punctuation so surface
// differences do not drag the similarity score down.
func normaliseTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenSort reorders a title's words so the similarity metric ignores word
// order, e.g. "trump wins 2024" and "2024 trump wins" compare equal.
func tokenSort(s string) string {
	words := strings.Fields(s)
	sort.Strings(words)
	return strings.Join(words, " ")
}
