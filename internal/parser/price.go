package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/deal-scraper/internal/models"
)

const amountPattern = `(\d+(?:,\d+)*(?:\.\d+)?)`

// PriceExtractor locates a plausible price in three passes of decreasing
// reliability: structured meta fields, known price display regions and a
// full-text scan. The first in-range candidate wins.
type PriceExtractor struct {
	metaRules        []FieldRule
	displaySelectors []string
	currencyPatterns []*regexp.Regexp
	bareNumber       *regexp.Regexp
}

func NewPriceExtractor() *PriceExtractor {
	return &PriceExtractor{
		metaRules:        PriceMetaRules,
		displaySelectors: PriceDisplaySelectors,
		currencyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`₹\s*` + amountPattern),
			regexp.MustCompile(`Rs\.?\s*` + amountPattern),
			regexp.MustCompile(`INR\s*` + amountPattern),
			regexp.MustCompile(amountPattern + `\s*₹`),
		},
		bareNumber: regexp.MustCompile(`^\s*` + amountPattern + `\s*$`),
	}
}

func (e *PriceExtractor) Extract(doc *goquery.Document) *float64 {
	if price := e.fromMeta(doc); price != nil {
		return price
	}
	if price := e.fromDisplayRegions(doc); price != nil {
		return price
	}
	return e.fromPageText(doc)
}

// ParseText returns the first in-range currency amount found in s.
func (e *PriceExtractor) ParseText(s string) *float64 {
	for _, pattern := range e.currencyPatterns {
		if m := pattern.FindStringSubmatch(s); len(m) > 1 {
			if price, ok := parseAmount(m[1]); ok {
				return &price
			}
		}
	}
	return nil
}

func (e *PriceExtractor) fromMeta(doc *goquery.Document) *float64 {
	for _, rule := range e.metaRules {
		sel := doc.Find(rule.Selector).First()
		if sel.Length() == 0 {
			continue
		}

		content, _ := sel.Attr(rule.Attr)
		if strings.TrimSpace(content) == "" {
			content, _ = sel.Attr("value")
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		if price := e.ParseText(content); price != nil {
			return price
		}
		if m := e.bareNumber.FindStringSubmatch(content); len(m) > 1 {
			if price, ok := parseAmount(m[1]); ok {
				return &price
			}
		}
	}
	return nil
}

func (e *PriceExtractor) fromDisplayRegions(doc *goquery.Document) *float64 {
	for _, selector := range e.displaySelectors {
		var found *float64
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return true
			}
			found = e.ParseText(text)
			return found == nil
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func (e *PriceExtractor) fromPageText(doc *goquery.Document) *float64 {
	text := doc.Text()
	for _, pattern := range e.currencyPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if price, ok := parseAmount(m[1]); ok {
				return &price
			}
		}
	}
	return nil
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, models.PriceInRange(v)
}
