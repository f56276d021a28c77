// Package format renders amounts, percentages and dates for a locale.
//
// Core packages produce plain decimal and date values; this package is the
// only place where locale-specific separators, currency symbols and date
// layouts are applied.
package format

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"fintrack/internal/core"
)

// DefaultLocale is used whenever a locale tag cannot be parsed.
const DefaultLocale = "en"

// Formatter formats values for a single locale and currency.
type Formatter struct {
	tag      language.Tag
	printer  *message.Printer
	currency currency.Unit
	symbol   string
}

// New returns a Formatter for the given BCP 47 locale and ISO 4217 currency.
// Unknown locales fall back to English; unknown currencies fall back to EUR.
func New(locale, currencyCode string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.MustParse(DefaultLocale)
	}
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(currencyCode)))
	if err != nil {
		unit = currency.EUR
	}
	p := message.NewPrinter(tag)
	return &Formatter{
		tag:      tag,
		printer:  p,
		currency: unit,
		symbol:   p.Sprint(currency.Symbol(unit)),
	}
}

// Locale returns the resolved locale tag.
func (f *Formatter) Locale() string { return f.tag.String() }

// CurrencyCode returns the ISO 4217 code amounts are rendered in.
func (f *Formatter) CurrencyCode() string { return f.currency.String() }

// Number formats v with exactly decimals fraction digits and locale grouping.
func (f *Formatter) Number(v float64, decimals int) string {
	return f.printer.Sprint(number.Decimal(v,
		number.MinFractionDigits(decimals),
		number.MaxFractionDigits(decimals)))
}

// nbsp keeps a trailing symbol on the same line as its amount.
const nbsp = "\u00a0"

// Currency formats an amount with the currency symbol placed the way the
// locale's language conventionally places it.
func (f *Formatter) Currency(amount decimal.Decimal) string {
	neg := amount.IsNegative()
	body := f.Number(amount.Abs().InexactFloat64(), 2)
	var out string
	if symbolAfter(f.tag) {
		out = body + nbsp + f.symbol
	} else {
		out = f.symbol + body
	}
	if neg {
		return "-" + out
	}
	return out
}

// Percent formats a percentage value (44.44 -> "44.4%").
func (f *Formatter) Percent(v float64) string {
	return f.Number(v, 1) + "%"
}

// Date formats a calendar day using the locale's conventional numeric layout.
func (f *Formatter) Date(d core.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(dateLayout(f.tag))
}

// Month formats a "YYYY-MM" key as a month heading.
func (f *Formatter) Month(yearMonth string) string {
	d, err := core.ParseDate(yearMonth + "-01")
	if err != nil {
		return yearMonth
	}
	return d.Time.Format(monthLayout(f.tag))
}

// ParseAmount accepts user input written with the locale's grouping and
// decimal separators ("1.234,50" in de, "1,234.50" in en).
func (f *Formatter) ParseAmount(s string) (decimal.Decimal, error) {
	group, dec := f.separators()
	s = strings.TrimSpace(s)
	if group != 0 {
		s = strings.ReplaceAll(s, string(group), "")
	}
	for _, space := range []string{" ", nbsp, "\u202f"} {
		s = strings.ReplaceAll(s, space, "")
	}
	if dec != '.' {
		s = strings.ReplaceAll(s, string(dec), ".")
	}
	return core.ParseAmount(s)
}

// separators derives the grouping and decimal runes by formatting a sample number.
// group is zero when the locale does not group four-digit numbers.
func (f *Formatter) separators() (group, dec rune) {
	sample := f.printer.Sprint(number.Decimal(1234.5,
		number.MinFractionDigits(1), number.MaxFractionDigits(1)))
	dec = '.'
	if r, _ := utf8.DecodeRuneInString(sample[1:]); r != utf8.RuneError && (r < '0' || r > '9') {
		group = r
	}
	if r, _ := utf8.DecodeLastRuneInString(strings.TrimSuffix(sample, "5")); r != utf8.RuneError {
		dec = r
	}
	return group, dec
}

func baseLanguage(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

func symbolAfter(tag language.Tag) bool {
	switch baseLanguage(tag) {
	case "de", "fr", "it", "es", "pt", "nl", "pl", "ru", "sv", "fi", "cs":
		return true
	}
	return false
}

func dateLayout(tag language.Tag) string {
	switch baseLanguage(tag) {
	case "en":
		if region, _ := tag.Region(); region.String() == "US" {
			return "01/02/2006"
		}
		return "02/01/2006"
	case "de", "ru", "pl", "fi", "cs":
		return "02.01.2006"
	case "ja", "zh", "ko":
		return "2006/01/02"
	case "sv":
		return "2006-01-02"
	default:
		return "02/01/2006"
	}
}

func monthLayout(tag language.Tag) string {
	switch baseLanguage(tag) {
	case "ja", "zh", "ko":
		return "2006/01"
	case "de", "ru", "pl", "fi", "cs":
		return "01.2006"
	default:
		return "01/2006"
	}
}
