package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Fingerprint canonicalises a submission and hashes it. Two requests
// that differ only in demand-line order or field whitespace produce
// the same fingerprint and share one computation.
func Fingerprint(sub Submission) string {
	canonical := struct {
		Demand  []DemandInput `json:"demand"`
		Site    SiteInput     `json:"site"`
		Metric  []byte        `json:"metric,omitempty"`
		Options Options       `json:"options"`
	}{
		Demand:  canonicalDemand(sub.Demand),
		Site:    canonicalSite(sub.Site),
		Metric:  sub.MetricFileBytes,
		Options: sub.Options,
	}

	payload, _ := json.Marshal(canonical)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func canonicalDemand(demand []DemandInput) []DemandInput {
	out := make([]DemandInput, len(demand))
	for i, d := range demand {
		out[i] = DemandInput{
			Habitat: strings.TrimSpace(d.Habitat),
			Units:   d.Units,
			Ledger:  strings.ToLower(strings.TrimSpace(d.Ledger)),
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Habitat != out[j].Habitat {
			return out[i].Habitat < out[j].Habitat
		}
		return out[i].Units < out[j].Units
	})
	return out
}

func canonicalSite(site SiteInput) SiteInput {
	return SiteInput{
		Postcode: strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(site.Postcode), " ", "")),
		Address:  strings.ToLower(strings.TrimSpace(site.Address)),
		LPA:      strings.TrimSpace(site.LPA),
		NCA:      strings.TrimSpace(site.NCA),
	}
}
