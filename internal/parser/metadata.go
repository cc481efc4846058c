package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/deal-scraper/internal/models"
)

const (
	minTitleLength       = 5
	minDescriptionLength = 10
)

// MetadataParser extracts title, description, image and price from retailer
// product pages using the package priority tables.
type MetadataParser struct {
	titleRules       []FieldRule
	descriptionRules []FieldRule
	imageRules       []FieldRule
	prices           *PriceExtractor
}

func NewMetadataParser() *MetadataParser {
	return &MetadataParser{
		titleRules:       TitleRules,
		descriptionRules: DescriptionRules,
		imageRules:       ImageRules,
		prices:           NewPriceExtractor(),
	}
}

func (p *MetadataParser) Extract(html string, sourceURL string) (*models.Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	md := &models.Metadata{
		Title:       p.extractTitle(doc),
		Description: p.extractDescription(doc),
		ImageURL:    p.extractImage(doc, sourceURL),
		Price:       p.prices.Extract(doc),
	}

	if md.Title == "" {
		md.Title = models.NoTitle
	}
	if md.Description == "" {
		md.Description = models.NoDescription
	}

	return md, nil
}

func (p *MetadataParser) ExtractPrice(doc *goquery.Document) *float64 {
	return p.prices.Extract(doc)
}

func (p *MetadataParser) extractTitle(doc *goquery.Document) string {
	return firstMatch(doc, p.titleRules, func(s string) bool {
		return utf8.RuneCountInString(s) > minTitleLength && !models.IsPlaceholderTitle(s)
	})
}

func (p *MetadataParser) extractDescription(doc *goquery.Document) string {
	return firstMatch(doc, p.descriptionRules, func(s string) bool {
		return utf8.RuneCountInString(s) > minDescriptionLength
	})
}

func (p *MetadataParser) extractImage(doc *goquery.Document, sourceURL string) string {
	for _, rule := range p.imageRules {
		sel := doc.Find(rule.Selector).First()
		if sel.Length() == 0 {
			continue
		}

		var raw string
		if rule.Attr != "" {
			raw, _ = sel.Attr(rule.Attr)
		} else {
			raw = imageSource(sel)
		}

		if resolved := resolveImageURL(strings.TrimSpace(raw), sourceURL); resolved != "" {
			return resolved
		}
	}
	return ""
}

// firstMatch walks the rules in order and returns the first value accepted by ok.
func firstMatch(doc *goquery.Document, rules []FieldRule, ok func(string) bool) string {
	for _, rule := range rules {
		sel := doc.Find(rule.Selector).First()
		if sel.Length() == 0 {
			continue
		}

		var value string
		if rule.Attr != "" {
			value, _ = sel.Attr(rule.Attr)
		} else {
			value = sel.Text()
		}

		value = normalizeSpace(value)
		if value != "" && ok(value) {
			return value
		}
	}
	return ""
}

func imageSource(sel *goquery.Selection) string {
	for _, attr := range imageAttrs {
		v, exists := sel.Attr(attr)
		if !exists || strings.TrimSpace(v) == "" {
			continue
		}
		if attr == "data-a-dynamic-image" {
			if first := firstDynamicImage(v); first != "" {
				return first
			}
			continue
		}
		return v
	}
	return ""
}

// firstDynamicImage returns the first key of Amazon's data-a-dynamic-image
// JSON object, which maps image URLs to their dimensions.
func firstDynamicImage(raw string) string {
	dec := json.NewDecoder(strings.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	key, _ := tok.(string)
	return key
}

func resolveImageURL(raw, sourceURL string) string {
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}

	base, err := url.Parse(sourceURL)
	if err != nil || !base.IsAbs() {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
