package querysync

import "github.com/unkn0wn-root/querysync/normalize"

// Canned intents for the product's write paths. Each takes the caller's
// CommitFunc (the actual backend call) and wires up the keys, optimistic
// patch, and invalidation the operation needs.

// WishlistToggleIntent optimistically flips a course's wishlist flag and
// reverts it if the server rejects the toggle. inWishlist is the target
// state.
func WishlistToggleIntent(courseID string, inWishlist bool, commit CommitFunc) Intent {
	return Intent{
		ID:   "wishlist-toggle:" + courseID,
		Keys: []Key{WishlistStatus(courseID), CourseDetail(courseID)},
		Invalidates: []Key{
			WishlistStatus(courseID),
			CourseDetail(courseID),
			Wishlist(),
		},
		Patch:           PatchObject(func(m map[string]any) { m["isInWishlist"] = inWishlist }),
		Commit:          commit,
		RollbackOnError: true,
	}
}

// ReviewHelpfulIntent optimistically adjusts a review's helpful counter
// inside the course's cached review page. delta is +1 (mark helpful) or -1
// (unmark).
func ReviewHelpfulIntent(courseID, reviewID string, delta int, commit CommitFunc) Intent {
	key := CourseReviews(courseID)
	return Intent{
		ID:              "review-helpful:" + reviewID,
		Keys:            []Key{key},
		Patch:           patchReviewHelpful(reviewID, delta),
		Commit:          commit,
		RollbackOnError: true,
	}
}

// EnrollIntent enrolls the user in a course. Free courses flip isEnrolled
// optimistically; paid courses carry no patch at all, so the UI only ever
// shows enrollment the server has confirmed.
func EnrollIntent(courseID string, free bool, commit CommitFunc) Intent {
	in := Intent{
		ID:   "enroll:" + courseID,
		Keys: []Key{CourseDetail(courseID)},
		Invalidates: []Key{
			CourseDetail(courseID),
			CourseListPrefix(),
		},
		Commit: commit,
	}
	if free {
		in.Patch = PatchObject(func(m map[string]any) { m["isEnrolled"] = true })
		in.RollbackOnError = true
	}
	return in
}

// PatchObject lifts a mutation of a JSON object into an entry patch. The
// entry's object is shallow-copied first, so the pre-patch snapshot stays
// untouched; entries holding non-object data pass through unchanged.
func PatchObject(mutate func(map[string]any)) func(Entry) Entry {
	return func(e Entry) Entry {
		obj, ok := e.Data.(map[string]any)
		if !ok {
			return e
		}
		next := make(map[string]any, len(obj)+1)
		for k, v := range obj {
			next[k] = v
		}
		mutate(next)
		e.Data = next
		return e
	}
}

// patchReviewHelpful finds the review by id in the cached page (or plain
// list) and bumps its helpful counter on a copied item.
func patchReviewHelpful(reviewID string, delta int) func(Entry) Entry {
	return func(e Entry) Entry {
		switch d := e.Data.(type) {
		case normalize.Page:
			d.Items = bumpReviewIn(d.Items, reviewID, delta)
			e.Data = d
		case []any:
			e.Data = bumpReviewIn(d, reviewID, delta)
		}
		return e
	}
}

func bumpReviewIn(items []any, reviewID string, delta int) []any {
	out := make([]any, len(items))
	copy(out, items)
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok || reviewIDOf(m) != reviewID {
			continue
		}
		next := make(map[string]any, len(m))
		for k, v := range m {
			next[k] = v
		}
		switch n := next["helpfulCount"].(type) {
		case float64:
			next["helpfulCount"] = n + float64(delta)
		case int:
			next["helpfulCount"] = n + delta
		case nil:
			next["helpfulCount"] = delta
		}
		out[i] = next
	}
	return out
}

func reviewIDOf(m map[string]any) string {
	for _, f := range []string{"id", "_id", "reviewId"} {
		if s, ok := m[f].(string); ok {
			return s
		}
	}
	return ""
}
