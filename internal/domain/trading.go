package domain

// Default trading ladders. Two call sites share these predicates: the
// metric parser's on-site offsetting and the allocation engine's
// substitute-legality check. Offsetting follows the ladders exactly;
// allocation additionally accepts like-for-like supply (the same habitat
// can always compensate itself off-site).

// AreaOffsetAllowed reports whether an area-ledger surplus may offset a
// deficit under the default ladder:
//   - Very High and High deficits require the same habitat;
//   - Medium deficits accept any Medium of the same broader type, or any
//     High/Very High;
//   - Low (and Very Low) deficits accept any surplus of at least the
//     deficit's band.
func AreaOffsetAllowed(deficitHabitat string, deficitBand Distinctiveness, deficitBroader string,
	surplusHabitat string, surplusBand Distinctiveness, surplusBroader string) bool {
	if !deficitBand.Known() || !surplusBand.Known() {
		return false
	}
	switch deficitBand {
	case VeryHigh, High:
		return surplusHabitat == deficitHabitat
	case Medium:
		if surplusBand >= High {
			return true
		}
		return surplusBand == Medium && surplusBroader == deficitBroader
	default: // Low, Very Low
		return surplusBand >= deficitBand
	}
}

// HedgerowOffsetAllowed reports whether a hedgerow surplus may offset a
// deficit: strictly greater distinctiveness, and Very High deficits are
// never offsetable.
func HedgerowOffsetAllowed(deficitBand, surplusBand Distinctiveness) bool {
	if !deficitBand.Known() || !surplusBand.Known() {
		return false
	}
	if deficitBand == VeryHigh {
		return false
	}
	return surplusBand > deficitBand
}

// WatercourseOffsetAllowed reports whether a watercourse surplus may
// offset a deficit: Very High never; High and Medium need the same
// habitat at equal-or-greater band; Low needs the same habitat at a
// strictly greater band.
func WatercourseOffsetAllowed(deficitHabitat string, deficitBand Distinctiveness,
	surplusHabitat string, surplusBand Distinctiveness) bool {
	if !deficitBand.Known() || !surplusBand.Known() {
		return false
	}
	if deficitBand == VeryHigh {
		return false
	}
	if surplusHabitat != deficitHabitat {
		return false
	}
	switch deficitBand {
	case High, Medium:
		return surplusBand >= deficitBand
	default: // Low, Very Low
		return surplusBand > deficitBand
	}
}

// SupplyLegal reports whether a bank's supply habitat may satisfy a
// demand line under the default ladders. Like-for-like supply is always
// legal; net-gain sentinels accept any habitat of at least Low band in
// their ledger. Explicit trading rules, when present, preempt this
// check entirely (see the allocation engine).
func SupplyLegal(demand DemandLine, supply Habitat) bool {
	if supply.Ledger != demand.Ledger {
		return false
	}
	if demand.IsNetGain() {
		return supply.Distinctiveness >= Low
	}
	if supply.Name == demand.HabitatName {
		return true
	}
	switch demand.Ledger {
	case LedgerArea:
		return AreaOffsetAllowed(demand.HabitatName, demand.Distinctiveness, demand.BroaderType,
			supply.Name, supply.Distinctiveness, supply.BroaderType)
	case LedgerHedgerow:
		return HedgerowOffsetAllowed(demand.Distinctiveness, supply.Distinctiveness)
	case LedgerWatercourse:
		return WatercourseOffsetAllowed(demand.HabitatName, demand.Distinctiveness,
			supply.Name, supply.Distinctiveness)
	}
	return false
}
