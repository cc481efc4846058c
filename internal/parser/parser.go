package parser

// FieldRule is one entry of a priority table: the selector to query and the
// attribute to read. An empty Attr reads the element text.
type FieldRule struct {
	Selector string
	Attr     string
}

func metaRule(selector string) FieldRule {
	return FieldRule{Selector: selector, Attr: "content"}
}

func textRule(selector string) FieldRule {
	return FieldRule{Selector: selector}
}

// Ordered from structured metadata to retailer-specific markup. The first
// candidate passing the field's plausibility check wins.
var (
	TitleRules = []FieldRule{
		metaRule(`meta[property="og:title"]`),
		metaRule(`meta[name="twitter:title"]`),
		textRule("title"),
		textRule("h1"),
		textRule("#productTitle"),
		textRule(".product-title"),
	}

	DescriptionRules = []FieldRule{
		metaRule(`meta[property="og:description"]`),
		metaRule(`meta[name="description"]`),
		metaRule(`meta[name="twitter:description"]`),
		textRule(".product-description"),
		textRule("#feature-bullets"),
	}

	// Image rules on <img> elements leave Attr empty and go through imageAttrs.
	ImageRules = []FieldRule{
		metaRule(`meta[property="og:image"]`),
		metaRule(`meta[name="twitter:image"]`),
		textRule("img[data-old-hires]"),
		textRule("img[data-a-dynamic-image]"),
		textRule("#landingImage"),
		textRule(".a-dynamic-image"),
		textRule(".product-image img"),
		textRule(".main-image img"),
	}

	PriceMetaRules = []FieldRule{
		metaRule(`meta[property="product:price:amount"]`),
		metaRule(`meta[property="og:price:amount"]`),
		metaRule(`meta[name="price"]`),
	}

	PriceDisplaySelectors = []string{
		".a-price-whole",
		".a-price .a-offscreen",
		".a-price-range .a-price .a-offscreen",
		".a-price.a-text-price.a-size-medium.apexPriceToPay .a-offscreen",
		".a-price-current .a-price-whole",
		".a-price-current .a-offscreen",
		"[data-price]",
		".price",
		".notranslate",
		"#priceblock_dealprice",
		"#priceblock_ourprice",
		".a-size-medium.a-color-price",
		".a-price.a-text-price.a-size-medium.apexPriceToPay",
		".a-price-symbol + .a-price-whole",
	}
)

var imageAttrs = []string{"src", "data-old-hires", "data-a-dynamic-image", "data-src"}
