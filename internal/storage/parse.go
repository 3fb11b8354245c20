package storage

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var nonInt = regexp.MustCompile(`[^\d-]`)

// ToInt parses a loosely formatted integer cell ("1,200", " 3 pcs").
// Anything unparseable is 0.
func ToInt(s string) int {
	n, err := strconv.Atoi(nonInt.ReplaceAllString(s, ""))
	if err != nil {
		return 0
	}
	return n
}

func ParsePrice(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// ParseTime returns the zero time when s matches no known layout.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
