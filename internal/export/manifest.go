package export

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/polylab/collector/internal/domain"
)

// manifestAlert is an alert emitted in the manifest's unlinked section. It
// carries no correctness or profit fields: without a market there is no
// resolution to label it against.
type manifestAlert struct {
	MarketID    string   `json:"market_id,omitempty"`
	MarketTitle string   `json:"market_title"`
	Side        string   `json:"side"`
	Value       *float64 `json:"value"`
	Price       *float64 `json:"price"`
	Wallet      string   `json:"wallet"`
	CreatedAt   string   `json:"created_at"`
}

// manifest records what an export run produced, which filters were active,
// and every whale alert that failed to link to an exported market.
type manifest struct {
	RunID          string          `json:"run_id"`
	CreatedAt      string          `json:"created_at"`
	Category       string          `json:"category,omitempty"`
	Platform       string          `json:"platform,omitempty"`
	Markets        int             `json:"markets"`
	Files          []string        `json:"files"`
	LinkedAlerts   int             `json:"linked_alerts"`
	UnlinkedAlerts []manifestAlert `json:"unlinked_alerts"`
}

func manifestAlerts(alerts []domain.WhaleAlert) []manifestAlert {
	out := make([]manifestAlert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, manifestAlert{
			MarketID:    a.MarketID,
			MarketTitle: a.MarketTitle,
			Side:        a.Side,
			Value:       a.Value,
			Price:       a.Price,
			Wallet:      a.Wallet,
			CreatedAt:   a.CreatedAt.UTC().Format(timestampLayout),
		})
	}
	return out
}

func writeManifest(path string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("export: write manifest: %w", err)
	}
	return nil
}
