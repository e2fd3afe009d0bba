// Package normalize reconciles heterogeneous supplier payloads into the
// canonical component shape. All functions are pure and never fail:
// malformed input degrades to a best-effort partial component.
package normalize

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/partsledger/partsledger/internal/model"
)

// truthy holds the raw values that coerce to boolean true, lowercase.
// Everything else, including empty and missing, coerces to false.
var truthy = map[string]bool{
	"yes":       true,
	"true":      true,
	"1":         true,
	"compliant": true,
	"qualified": true,
}

// CoerceBool maps a raw supplier string onto a strict boolean.
// Case-insensitive; never errors.
func CoerceBool(raw string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(raw))]
}

// lifecycleByKeyword maps supplier lifecycle phrasings onto canonical
// statuses. Checked in order; first containment match wins.
var lifecycleByKeyword = []struct {
	keyword string
	status  model.LifecycleStatus
}{
	{"obsolete", model.LifecycleObsolete},
	{"end of life", model.LifecycleObsolete},
	{"eol", model.LifecycleObsolete},
	{"discontinued", model.LifecycleDiscontinued},
	{"last time buy", model.LifecycleLastTimeBuy},
	{"ltb", model.LifecycleLastTimeBuy},
	{"not recommended", model.LifecycleNRND},
	{"nrnd", model.LifecycleNRND},
	{"preview", model.LifecyclePreview},
	{"pre-release", model.LifecyclePreview},
	{"active", model.LifecycleActive},
	{"production", model.LifecycleActive},
	{"in production", model.LifecycleActive},
}

// CoerceLifecycle maps a raw lifecycle string onto a canonical status.
// Unrecognized values map to LifecycleUnknown, never an error.
func CoerceLifecycle(raw string) model.LifecycleStatus {
	needle := strings.ToLower(strings.TrimSpace(raw))
	needle = strings.ReplaceAll(needle, "_", " ")
	if needle == "" {
		return model.LifecycleUnknown
	}
	for _, m := range lifecycleByKeyword {
		if strings.Contains(needle, m.keyword) {
			return m.status
		}
	}
	return model.LifecycleUnknown
}

// foldTransformer strips diacritics and case-folds for identifier matching.
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
	cases.Fold(),
)

// ManufacturerKey folds a free-text manufacturer name into a stable lookup
// key: diacritics stripped, case-folded, punctuation and corporate suffixes
// dropped. "Microchip Technology Inc." and "microchip technology" collide.
func ManufacturerKey(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = strings.ToLower(name)
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	for len(fields) > 1 {
		switch fields[len(fields)-1] {
		case "inc", "incorporated", "corp", "corporation", "ltd", "llc", "gmbh", "co", "technology", "technologies":
			fields = fields[:len(fields)-1]
		default:
			return strings.Join(fields, " ")
		}
	}
	return strings.Join(fields, " ")
}

// CatalogKey derives the catalog storage key for a component:
// normalized MPN plus folded manufacturer.
func CatalogKey(mpn, manufacturer string) string {
	return strings.ToUpper(strings.TrimSpace(mpn)) + "|" + ManufacturerKey(manufacturer)
}

// Normalize converts a raw supplier payload into a canonical component.
// Pure and deterministic: field names are reconciled through the alias
// table in declared order (last-applied alias wins on conflicts),
// compliance strings are coerced to strict booleans, and recognized
// technical parameters populate ExtractedSpecs. Unrecognized parameters
// are dropped.
func Normalize(raw model.RawSourceResult) model.CanonicalComponent {
	c := model.CanonicalComponent{
		MPN:           strings.ToUpper(strings.TrimSpace(raw.MPN)),
		Manufacturer:  strings.TrimSpace(raw.Manufacturer),
		Category:      strings.TrimSpace(raw.Category),
		Description:   strings.TrimSpace(raw.Description),
		DatasheetURL:  strings.TrimSpace(raw.DatasheetURL),
		Lifecycle:     CoerceLifecycle(raw.Lifecycle),
		UnitPrice:     raw.UnitPrice,
		StockQty:      raw.StockQty,
		LeadTimeDays:  raw.LeadTimeDays,
		SupplierCount: raw.SupplierCount,
		Source:        raw.Source,
		NormalizedAt:  raw.FetchedAt,
	}
	if c.NormalizedAt.IsZero() {
		c.NormalizedAt = time.Now().UTC()
	}

	if len(raw.Parameters) == 0 {
		return c
	}

	// Lowercase the raw parameter keys once for case-insensitive matching.
	// Keys are visited in sorted order so two raw keys that collapse to
	// the same lowered form always resolve the same way.
	rawKeys := make([]string, 0, len(raw.Parameters))
	for k := range raw.Parameters {
		rawKeys = append(rawKeys, k)
	}
	sort.Strings(rawKeys)
	params := make(map[string]string, len(raw.Parameters))
	for _, k := range rawKeys {
		params[strings.ToLower(strings.TrimSpace(k))] = raw.Parameters[k]
	}

	// Compliance fields: walk aliases in declared order so the last alias
	// that matches a raw key wins when keys conflict.
	for _, a := range table.Compliance {
		v, ok := params[strings.ToLower(a.Name)]
		if !ok {
			continue
		}
		val := CoerceBool(v)
		switch a.Field {
		case "rohs_compliant":
			c.RoHSCompliant = &val
		case "reach_compliant":
			c.REACHCompliant = &val
		case "aec_qualified":
			c.AECQualified = &val
		}
	}

	// Technical specs: controlled vocabulary only; same ordering rule.
	for _, a := range table.Specs {
		v, ok := params[strings.ToLower(a.Name)]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if c.ExtractedSpecs == nil {
			c.ExtractedSpecs = make(map[model.SpecKey]string)
		}
		c.ExtractedSpecs[model.SpecKey(a.Key)] = v
	}

	return c
}
