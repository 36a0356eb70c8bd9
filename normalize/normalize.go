// Package normalize converts the backend's heterogeneous list payloads into
// one canonical page shape. Upstream endpoints disagree about structure -
// bare arrays, {data: [...]}, {courses: [...]}, nested pagination objects,
// cursor-style next/prev pointers - and this package absorbs all of them.
//
// Normalize never fails: a malformed payload degrades to an empty page with
// TotalPages 0, which downstream views must render as "no results", not as a
// fetch error.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Page is the canonical shape of one page of list results.
type Page struct {
	Items        []any
	CurrentPage  int
	TotalPages   int
	TotalItems   int
	ItemsPerPage int
}

// Params carries what the caller asked the server for, used to fill gaps the
// payload leaves open.
type Params struct {
	Page  int // requested page; 0 => unknown
	Limit int // requested page size; 0 => unknown
}

// Shape tags the recognized upstream payload families.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeArray
	ShapeDataWrapper
	ShapeCursor
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeDataWrapper:
		return "data_wrapper"
	case ShapeCursor:
		return "cursor"
	default:
		return "unknown"
	}
}

// itemListFields are probed in order for the item list inside object-shaped
// payloads.
var itemListFields = []string{"data", "courses", "items"}

// Detect classifies a decoded payload. Raw JSON bytes are decoded first;
// undecodable input is ShapeUnknown.
func Detect(payload any) Shape {
	payload = decodeRaw(payload)
	switch v := payload.(type) {
	case []any:
		return ShapeArray
	case map[string]any:
		if _, ok := itemList(v); !ok {
			return ShapeUnknown
		}
		if _, ok := pageOf(v, "next"); ok {
			return ShapeCursor
		}
		if _, ok := pageOf(v, "prev"); ok {
			return ShapeCursor
		}
		return ShapeDataWrapper
	default:
		return ShapeUnknown
	}
}

// Normalize converts payload into a Page. Pagination is derived in order:
// an explicit pagination object, top-level count/page fields, cursor
// next/prev pointers, and finally the requested params.
func Normalize(payload any, p Params) Page {
	payload = decodeRaw(payload)
	switch Detect(payload) {
	case ShapeArray:
		return derive(nil, payload.([]any), p)
	case ShapeDataWrapper, ShapeCursor:
		obj := payload.(map[string]any)
		items, _ := itemList(obj)
		return derive(obj, items, p)
	default:
		return Page{}
	}
}

func derive(obj map[string]any, items []any, p Params) Page {
	var (
		current, totalPages, totalItems, per int
		haveCurrent, havePages, haveItems    bool
	)

	switch {
	case obj == nil:
		// bare array: params only
	case hasPagination(obj):
		pag := obj["pagination"].(map[string]any)
		current, haveCurrent = intField(pag, "currentPage", "page")
		totalPages, havePages = intField(pag, "totalPages", "pages")
		totalItems, haveItems = intField(pag, "totalItems", "totalCount", "count")
		per, _ = intField(pag, "itemsPerPage", "limit", "perPage")
	case hasAny(obj, "currentPage", "totalPages", "totalItems", "totalCount", "count"):
		current, haveCurrent = intField(obj, "currentPage", "page")
		totalPages, havePages = intField(obj, "totalPages")
		totalItems, haveItems = intField(obj, "totalItems", "totalCount", "count")
		per, _ = intField(obj, "itemsPerPage", "limit")
	default:
		if next, ok := pageOf(obj, "next"); ok {
			current, haveCurrent = next-1, true
		} else if prev, ok := pageOf(obj, "prev"); ok {
			current, haveCurrent = prev+1, true
		}
	}

	// requested params fill whatever the payload left open
	if per <= 0 {
		per = p.Limit
	}
	if !haveCurrent || current <= 0 {
		current = p.Page
		if current <= 0 {
			current = 1
		}
	}
	if !haveItems || totalItems < 0 {
		if havePages && per > 0 {
			// payload told us the page count but not the item count
			totalItems = totalPages * per
		} else {
			totalItems = len(items)
		}
	}
	if per <= 0 {
		per = len(items)
	}
	if per > 0 {
		// counts win over a possibly inconsistent payload totalPages
		totalPages = ceilDiv(totalItems, per)
	} else if !havePages {
		totalPages = 0
	}

	// a cursor saying page N exists means at least N pages exist
	if next, ok := pageOf(obj, "next"); ok && next > totalPages && per > 0 {
		totalPages = next
		totalItems = totalPages * per
	}

	if totalPages > 0 {
		if current < 1 {
			current = 1
		}
		if current > totalPages {
			current = totalPages
		}
	}

	return Page{
		Items:        items,
		CurrentPage:  current,
		TotalPages:   totalPages,
		TotalItems:   totalItems,
		ItemsPerPage: per,
	}
}

func decodeRaw(payload any) any {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return payload
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func itemList(obj map[string]any) ([]any, bool) {
	for _, f := range itemListFields {
		if items, ok := obj[f].([]any); ok {
			return items, true
		}
	}
	return nil, false
}

func hasPagination(obj map[string]any) bool {
	_, ok := obj["pagination"].(map[string]any)
	return ok
}

func hasAny(obj map[string]any, names ...string) bool {
	for _, n := range names {
		if _, ok := obj[n]; ok {
			return true
		}
	}
	return false
}

// pageOf reads a cursor pointer like {next: {page: 3}}.
func pageOf(obj map[string]any, field string) (int, bool) {
	if obj == nil {
		return 0, false
	}
	ptr, ok := obj[field].(map[string]any)
	if !ok {
		return 0, false
	}
	return toInt(ptr["page"])
}

func intField(m map[string]any, names ...string) (int, bool) {
	for _, n := range names {
		if v, ok := m[n]; ok {
			if i, ok := toInt(v); ok {
				return i, true
			}
		}
	}
	return 0, false
}

// toInt coerces the numeric spellings JSON payloads actually contain.
// Garbage (NaN, unparseable strings) is a miss, not an error.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
