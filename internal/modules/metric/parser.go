package metric

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/wildcroft/bng-engine/internal/domain"
)

// Sheet-name fragments, matched case-insensitively.
const (
	sheetFragmentArea        = "trading summary area habitats"
	sheetFragmentHedgerow    = "trading summary hedgerows"
	sheetFragmentWatercourse = "trading summary watercourses"
	sheetFragmentHeadline    = "headline results"
)

// Parser reads biodiversity-metric workbooks.
type Parser struct {
	catalog HabitatLookup
	log     zerolog.Logger
}

// NewParser creates a metric parser. The catalog supplies broader types
// for habitats the workbook names; it may be nil in tests.
func NewParser(catalog HabitatLookup, log zerolog.Logger) *Parser {
	return &Parser{
		catalog: catalog,
		log:     log.With().Str("component", "metric_parser").Logger(),
	}
}

// Parse converts workbook bytes into per-ledger demand lists.
// Missing sheets and unreadable rows degrade to warnings, never errors:
// the only hard failure is a workbook excelize cannot open at all.
func (p *Parser) Parse(data []byte) (*ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Wrap(domain.KindInputInvalid, err, "metric file is not a readable workbook")
	}
	defer f.Close()

	result := &ParseResult{Demands: make(map[domain.Ledger][]domain.DemandLine)}

	sheets := f.GetSheetList()
	ledgerSheets := map[domain.Ledger]string{
		domain.LedgerArea:        findSheet(sheets, sheetFragmentArea),
		domain.LedgerHedgerow:    findSheet(sheets, sheetFragmentHedgerow),
		domain.LedgerWatercourse: findSheet(sheets, sheetFragmentWatercourse),
	}

	remainingSurplus := make(map[domain.Ledger]float64)

	for _, ledger := range domain.Ledgers {
		sheet := ledgerSheets[ledger]
		if sheet == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("missing trading summary sheet for %s ledger", ledger))
			continue
		}

		rows, warnings := p.extractRows(f, sheet)
		result.Warnings = append(result.Warnings, warnings...)

		demands, surplus, offsetWarnings := applyOffsets(ledger, rows)
		result.Warnings = append(result.Warnings, offsetWarnings...)
		result.Demands[ledger] = demands
		remainingSurplus[ledger] = surplus
	}

	p.applyNetGain(f, sheets, remainingSurplus, result)

	p.log.Debug().
		Int("area_lines", len(result.Demands[domain.LedgerArea])).
		Int("hedgerow_lines", len(result.Demands[domain.LedgerHedgerow])).
		Int("watercourse_lines", len(result.Demands[domain.LedgerWatercourse])).
		Int("warnings", len(result.Warnings)).
		Msg("Metric file parsed")

	return result, nil
}

// applyNetGain reads the headline targets and appends a net-gain
// sentinel line per ledger when the target is not absorbed on-site.
func (p *Parser) applyNetGain(f *excelize.File, sheets []string, remainingSurplus map[domain.Ledger]float64, result *ParseResult) {
	headlineSheet := findSheet(sheets, sheetFragmentHeadline)
	if headlineSheet == "" {
		result.Warnings = append(result.Warnings, "missing Headline Results sheet; no net-gain lines emitted")
		return
	}

	headlines, warnings := parseHeadline(f, headlineSheet)
	result.Warnings = append(result.Warnings, warnings...)

	for _, ledger := range domain.Ledgers {
		hl, ok := headlines[ledger]
		if !ok {
			continue
		}

		residual := hl.BaselineUnits*hl.TargetPercent - remainingSurplus[ledger]
		if residual <= 0 {
			// On-site surplus absorbs the target entirely.
			continue
		}

		result.Demands[ledger] = append(result.Demands[ledger], domain.DemandLine{
			Ledger:        ledger,
			HabitatName:   ledger.NetGainHabitat(),
			UnitsRequired: residual,
		})
	}
}

// extractRows walks one trading-summary sheet. Distinctiveness bands
// come from section-header rows ("Medium Distinctiveness"); habitat
// rows between headers inherit the band above them. Rows seen before
// any band header carry an unknown band.
func (p *Parser) extractRows(f *excelize.File, sheet string) ([]Row, []string) {
	var warnings []string

	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, []string{fmt.Sprintf("failed to read sheet %q: %v", sheet, err)}
	}

	habitatCol, unitsCol := findColumns(cells)
	if habitatCol < 0 || unitsCol < 0 {
		return nil, []string{fmt.Sprintf("sheet %q has no recognisable habitat/unit-change columns", sheet)}
	}

	var out []Row
	band := domain.DistinctivenessUnknown

	for _, row := range cells {
		if sectionBand, ok := sectionHeaderBand(row); ok {
			band = sectionBand
			continue
		}
		if isHeaderRow(row) {
			continue
		}

		if habitatCol >= len(row) {
			continue
		}
		habitat := strings.TrimSpace(row[habitatCol])
		if habitat == "" || strings.EqualFold(habitat, "total") {
			continue
		}

		var unitsText string
		if unitsCol < len(row) {
			unitsText = row[unitsCol]
		}
		units, err := parseNumericCell(unitsText)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sheet %q: unreadable unit change %q for %q; treated as 0", sheet, unitsText, habitat))
			units = 0
		}
		if units == 0 {
			continue
		}

		r := Row{Habitat: habitat, Band: band, Units: units}
		if p.catalog != nil {
			if h, ok := p.catalog.Habitat(habitat); ok {
				r.BroaderType = h.BroaderType
			}
		}
		out = append(out, r)
	}

	return out, warnings
}

// findSheet returns the first sheet whose name contains the fragment,
// case-insensitively, or "" when absent.
func findSheet(sheets []string, fragment string) string {
	for _, name := range sheets {
		if strings.Contains(strings.ToLower(name), fragment) {
			return name
		}
	}
	return ""
}

// sectionHeaderBand recognises section-header rows such as
// "Medium Distinctiveness" and returns the band they introduce.
func sectionHeaderBand(row []string) (domain.Distinctiveness, bool) {
	for _, cell := range row {
		lower := strings.ToLower(strings.TrimSpace(cell))
		if lower == "" || !strings.Contains(lower, "distinctiveness") {
			continue
		}
		label := strings.TrimSpace(strings.TrimSuffix(lower, "distinctiveness"))
		label = strings.TrimSuffix(label, " ")
		if band, err := domain.ParseDistinctiveness(label); err == nil {
			return band, true
		}
		// A header mentioning distinctiveness with an unparseable band
		// resets to unknown rather than inheriting the previous section.
		return domain.DistinctivenessUnknown, true
	}
	return domain.DistinctivenessUnknown, false
}

// isHeaderRow recognises the column-header row of a trading summary.
func isHeaderRow(row []string) bool {
	for _, cell := range row {
		lower := strings.ToLower(cell)
		if strings.Contains(lower, "habitat type") || strings.Contains(lower, "habitat name") {
			return true
		}
	}
	return false
}

// findColumns locates the habitat-name and net-unit-change columns from
// the first header row in the sheet.
func findColumns(cells [][]string) (habitatCol, unitsCol int) {
	habitatCol, unitsCol = -1, -1
	for _, row := range cells {
		for i, cell := range row {
			lower := strings.ToLower(cell)
			if habitatCol < 0 && strings.Contains(lower, "habitat") {
				habitatCol = i
			}
			if unitsCol < 0 && (strings.Contains(lower, "net unit change") ||
				strings.Contains(lower, "unit change") ||
				strings.Contains(lower, "units required") ||
				strings.Contains(lower, "unit deficit")) {
				unitsCol = i
			}
		}
		if habitatCol >= 0 && unitsCol >= 0 {
			return habitatCol, unitsCol
		}
	}
	return habitatCol, unitsCol
}

// parseNumericCell reads a workbook numeric cell. Blank cells are 0 by
// the metric-file convention; currency symbols and thousands separators
// are tolerated.
func parseNumericCell(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" || cleaned == "-" {
		return 0, nil
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimPrefix(cleaned, "£")
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	if negative {
		v = -v
	}
	return v, nil
}

// parseHeadline reads the per-ledger baseline units and target percent
// from the Headline Results sheet. Rows are matched by ledger keyword;
// the baseline and target columns are matched by header fragment.
func parseHeadline(f *excelize.File, sheet string) (map[domain.Ledger]headline, []string) {
	var warnings []string
	out := make(map[domain.Ledger]headline)

	cells, err := f.GetRows(sheet)
	if err != nil {
		return out, []string{fmt.Sprintf("failed to read sheet %q: %v", sheet, err)}
	}

	baselineCol, targetCol := -1, -1
	for _, row := range cells {
		for i, cell := range row {
			lower := strings.ToLower(cell)
			if baselineCol < 0 && strings.Contains(lower, "baseline") {
				baselineCol = i
			}
			if targetCol < 0 && strings.Contains(lower, "target") {
				targetCol = i
			}
		}
		if baselineCol >= 0 && targetCol >= 0 {
			break
		}
	}
	if baselineCol < 0 || targetCol < 0 {
		return out, []string{fmt.Sprintf("sheet %q has no recognisable baseline/target columns", sheet)}
	}

	for _, row := range cells {
		ledger, ok := headlineLedger(row)
		if !ok {
			continue
		}
		if baselineCol >= len(row) || targetCol >= len(row) {
			continue
		}

		baseline, err := parseNumericCell(row[baselineCol])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sheet %q: unreadable baseline for %s ledger", sheet, ledger))
			continue
		}
		target, err := parseNumericCell(strings.TrimSuffix(strings.TrimSpace(row[targetCol]), "%"))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sheet %q: unreadable target for %s ledger", sheet, ledger))
			continue
		}
		// Targets may arrive as a fraction (0.1) or a percentage (10).
		if target > 1 {
			target /= 100
		}

		out[ledger] = headline{BaselineUnits: baseline, TargetPercent: target}
	}

	return out, warnings
}

// headlineLedger matches a Headline Results row to its ledger.
func headlineLedger(row []string) (domain.Ledger, bool) {
	for _, cell := range row {
		lower := strings.ToLower(cell)
		switch {
		case strings.Contains(lower, "hedgerow"):
			return domain.LedgerHedgerow, true
		case strings.Contains(lower, "watercourse"):
			return domain.LedgerWatercourse, true
		case strings.Contains(lower, "habitat units") || strings.Contains(lower, "area habitats"):
			return domain.LedgerArea, true
		}
	}
	return "", false
}
