package querysync

import (
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/unkn0wn-root/querysync/internal/util"
)

// Key identifies one cached resource: an ordered list of segments where
// leading segments mirror the resource taxonomy ("courses", "list", ...) and
// parameter sets collapse into one deterministic trailing segment.
// Two keys are equal iff their IDs are equal; keys sharing leading segments
// form a prefix tree, which is what bulk invalidation walks.
type Key struct {
	parts []string
}

// NewKey builds a key from literal segments. Segments are taken as-is;
// use Seg for free text that may contain the separator.
func NewKey(parts ...string) Key {
	p := make([]string, len(parts))
	copy(p, parts)
	return Key{parts: p}
}

// With returns a new key with the given segments appended.
func (k Key) With(parts ...string) Key {
	p := make([]string, 0, len(k.parts)+len(parts))
	p = append(p, k.parts...)
	p = append(p, parts...)
	return Key{parts: p}
}

// paramsEnc is RFC 8949 Core Deterministic encoding: map keys are sorted on
// encode, so two logically identical parameter sets always serialize to the
// same bytes regardless of insertion order.
var paramsEnc = func() cbor.EncMode {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// WithParams appends one segment derived from p's canonical encoding.
// nil p appends nothing, so parameterless and nil-param keys collide on
// purpose.
func (k Key) WithParams(p any) Key {
	if p == nil {
		return k
	}
	b, err := paramsEnc.Marshal(p)
	if err != nil {
		// chans/funcs and friends; still needs a stable segment
		return k.With("unencodable")
	}
	return k.With(util.ParamHash(b))
}

// Seg escapes free text (ids, queries) for use as a key segment.
func Seg(s string) string {
	return util.Segment(s)
}

// ID is the serialized form of the key. Store tables are addressed by it.
func (k Key) ID() string {
	return strings.Join(k.parts, ".")
}

// Parts returns a copy of the key's segments.
func (k Key) Parts() []string {
	p := make([]string, len(k.parts))
	copy(p, k.parts)
	return p
}

// HasPrefix reports whether prefix's segments are a leading subsequence of
// k's. Every key has the empty key as a prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.parts) > len(k.parts) {
		return false
	}
	for i, s := range prefix.parts {
		if k.parts[i] != s {
			return false
		}
	}
	return true
}

func (k Key) IsZero() bool { return len(k.parts) == 0 }

// ListParams are the parameters of a paginated list query.
type ListParams struct {
	Page    int               `cbor:"page"`
	Limit   int               `cbor:"limit"`
	Filters map[string]string `cbor:"filters,omitempty"`
}

// Course/instructor key taxonomy. Prefix builders (no trailing params) exist
// for the invalidation side: deleting a course invalidates CourseListPrefix
// and its CourseDetail key but leaves instructor.* untouched.

func CourseListPrefix() Key { return NewKey("courses", "list") }

func CourseList(p ListParams) Key { return CourseListPrefix().WithParams(p) }

func CourseDetail(id string) Key { return NewKey("courses", "detail", Seg(id)) }

func CourseSearchPrefix() Key { return NewKey("courses", "search") }

func CourseSearch(query string, filters map[string]string) Key {
	return CourseSearchPrefix().With(Seg(query)).WithParams(filters)
}

func CourseReviews(courseID string) Key { return NewKey("courses", "reviews", Seg(courseID)) }

func Wishlist() Key { return NewKey("courses", "wishlist") }

func WishlistStatus(courseID string) Key {
	return NewKey("courses", "wishlistStatus", Seg(courseID))
}

func InstructorPrefix() Key { return NewKey("instructor") }

func InstructorCourses(p ListParams) Key {
	return NewKey("instructor", "list").WithParams(p)
}

func InstructorAnalytics(courseID string) Key {
	return NewKey("instructor", "analytics", Seg(courseID))
}
