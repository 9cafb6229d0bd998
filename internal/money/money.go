// Package money formats and parses Indian rupee amounts as they appear in
// lead budgets and deal values.
package money

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/crm/internal/crmerr"
)

const (
	Crore    = 10_000_000
	Lakh     = 100_000
	Thousand = 1_000
)

// FormatINR renders amount in the pipeline's short form:
// "₹3.7 Cr", "₹7.1 L" or "₹4k". Thousands are truncated, not rounded.
func FormatINR(amount int64) string {
	if amount < 0 {
		amount = 0
	}
	switch {
	case amount >= Crore:
		return fmt.Sprintf("₹%.1f Cr", float64(amount)/Crore)
	case amount >= Lakh:
		return fmt.Sprintf("₹%.1f L", float64(amount)/Lakh)
	default:
		return fmt.Sprintf("₹%dk", amount/Thousand)
	}
}

var (
	numberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	wordRe   = regexp.MustCompile(`[A-Za-z]+`)
)

var units = map[string]int64{
	"cr":     Crore,
	"crore":  Crore,
	"crores": Crore,
	"l":      Lakh,
	"lac":    Lakh,
	"lacs":   Lakh,
	"lakh":   Lakh,
	"lakhs":  Lakh,
	"k":      Thousand,
}

// ParseINR reads a free-text budget such as "₹3.73 Cr", "45 Lakh" or
// "Rs 8,50,000". A range like "₹4 Cr - ₹6 Cr" or "₹4.15-5 Cr" yields its
// lower bound, scaled by the first unit that follows it.
func ParseINR(text string) (int64, error) {
	loc := numberRe.FindStringIndex(text)
	if loc == nil {
		return 0, crmerr.Validation("parse amount", "no amount in %q", text)
	}
	num := strings.ReplaceAll(text[loc[0]:loc[1]], ",", "")

	mult := int64(1)
	for _, w := range wordRe.FindAllString(text[loc[1]:], -1) {
		if m, ok := units[strings.ToLower(w)]; ok {
			mult = m
			break
		}
	}

	whole, frac, _ := strings.Cut(num, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, crmerr.Validation("parse amount", "invalid amount %q", num)
	}
	if w > math.MaxInt64/mult {
		return 0, crmerr.Validation("parse amount", "amount %q is too large", text)
	}
	total := w * mult

	// Scale the fractional digits without going through float64 so that
	// "3.73 Cr" is exactly 37,300,000.
	if frac != "" {
		scale := int64(1)
		digits := int64(0)
		for _, r := range frac {
			if scale >= mult {
				break
			}
			scale *= 10
			digits = digits*10 + int64(r-'0')
		}
		part := digits * mult / scale
		if total > math.MaxInt64-part {
			return 0, crmerr.Validation("parse amount", "amount %q is too large", text)
		}
		total += part
	}
	return total, nil
}
