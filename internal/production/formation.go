package production

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stitchline/stitchline/internal/orders"
)

const defaultLocation = "front"

// Source identifies the upstream record a set of batches is formed from.
type Source struct {
	Type               SourceType
	ID                 string
	NetworkID          *string
	FulfillmentStoreID *string
	Priority           int
	DueAt              *time.Time
}

// SourceLine is one raw line item handed to formation.
type SourceLine struct {
	OrderID     string
	BulkOrderID string
	Line        orders.Line
}

// draft is a batch about to be inserted.
type draft struct {
	GroupKey string
	Method   Method
	Items    []Item
}

// NormalizeMethod maps free-form decoration methods onto the supported set.
// The explicit method wins; the product default is used when it is empty.
func NormalizeMethod(explicit, fallback string) Method {
	raw := strings.TrimSpace(explicit)
	if raw == "" {
		raw = strings.TrimSpace(fallback)
	}
	key := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToUpper(raw))
	switch key {
	case "DTF", "DIRECT_TO_FILM":
		return MethodDTF
	case "EMBROIDERY", "EMB", "EMBROIDERED":
		return MethodEmbroidery
	case "SCREEN", "SCREEN_PRINT", "SCREENPRINT", "SCREEN_PRINTING":
		return MethodScreen
	default:
		return MethodOther
	}
}

// NormalizeLocation returns the first non-empty placement, lower-cased, or "front".
func NormalizeLocation(locations []string) string {
	for _, loc := range locations {
		if trimmed := strings.TrimSpace(loc); trimmed != "" {
			return cases.Lower(language.Und).String(trimmed)
		}
	}
	return defaultLocation
}

// StableStringify encodes v as JSON with object keys sorted at every depth,
// so payloads that differ only in key order encode identically.
func StableStringify(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	switch raw := v.(type) {
	case json.RawMessage:
		if len(bytes.TrimSpace(raw)) == 0 {
			return "", nil
		}
		decoded, err := decodeJSON(raw)
		if err != nil {
			return "", err
		}
		v = decoded
	case []byte:
		if len(bytes.TrimSpace(raw)) == 0 {
			return "", nil
		}
		decoded, err := decodeJSON(raw)
		if err != nil {
			return "", err
		}
		v = decoded
	}
	// encoding/json writes map keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	out := strings.TrimSuffix(buf.String(), "\n")
	if out == "null" {
		return "", nil
	}
	return out, nil
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("production: decode personalization: %w", err)
	}
	return v, nil
}

// GroupKey builds the key items must share to land in one batch.
func GroupKey(method Method, location, productID, variantID string, designID *string, personalization any) (string, error) {
	summary, err := StableStringify(personalization)
	if err != nil {
		return "", err
	}
	design := ""
	if designID != nil {
		design = *designID
	}
	return strings.Join([]string{string(method), location, productID, variantID, design, summary}, "|"), nil
}

// groupLines partitions source lines into drafts ordered by first appearance.
func groupLines(lines []SourceLine) ([]draft, error) {
	index := make(map[string]int)
	var drafts []draft
	for _, sl := range lines {
		line := sl.Line
		if line.Qty <= 0 {
			continue
		}
		method := NormalizeMethod(line.DecorationMethod, line.DefaultMethod)
		location := NormalizeLocation(line.DecorationLocations)
		var summary any
		if len(line.PersonalizationSummary) > 0 {
			summary = line.PersonalizationSummary
		}
		key, err := GroupKey(method, location, line.ProductID, line.VariantID, line.DesignID, summary)
		if err != nil {
			return nil, err
		}
		var personalization any
		if summary != nil {
			if personalization, err = decodeJSON(line.PersonalizationSummary); err != nil {
				return nil, err
			}
		}
		item := Item{
			OrderID:                optional(sl.OrderID),
			BulkOrderID:            optional(sl.BulkOrderID),
			ProductID:              line.ProductID,
			VariantID:              line.VariantID,
			DesignID:               line.DesignID,
			Location:               location,
			Qty:                    line.Qty,
			PersonalizationSummary: personalization,
			AssetRef:               append([]string{}, line.AssetURLs...),
		}
		i, ok := index[key]
		if !ok {
			i = len(drafts)
			index[key] = i
			drafts = append(drafts, draft{GroupKey: key, Method: method})
		}
		drafts[i].Items = append(drafts[i].Items, item)
	}
	return drafts, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sortBatches(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].CreatedAt.Before(batches[j].CreatedAt)
		}
		return batches[i].GroupKey < batches[j].GroupKey
	})
}
