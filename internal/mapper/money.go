package mapper

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ehr/pmsync/internal/upstream"
)

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// ParseMoney turns a wire amount ("125.5", 125.5, "$1,234.50 USD",
// "(20.00)") into a decimal. Anything unparseable is zero.
func ParseMoney(m upstream.Money) decimal.Decimal {
	s := strings.TrimSpace(string(m))
	if s == "" {
		return decimal.Zero
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = nonNumeric.ReplaceAllString(s, "")
	if s == "" || s == "-" || s == "." {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	if negative {
		d = d.Neg()
	}
	return d
}

// firstMoney parses the first non-empty source.
func firstMoney(vals ...upstream.Money) decimal.Decimal {
	for _, v := range vals {
		if strings.TrimSpace(string(v)) != "" {
			return ParseMoney(v)
		}
	}
	return decimal.Zero
}

func moneyToWire(d decimal.Decimal) upstream.Money {
	return upstream.Money(d.String())
}
