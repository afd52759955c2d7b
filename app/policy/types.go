package policy

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// DefaultPostType is used when no configured post type is eligible
const DefaultPostType = "post"

const termKeySeparator = "_for_"

// Inclusion is the ordered set of post types eligible for the sitemap
type Inclusion []string

func (in Inclusion) Contains(postType string) bool {
	return slices.Contains(in, postType)
}

// TermKey identifies a term excluded for one post type. Term IDs are only
// meaningful together with the post type.
type TermKey struct {
	TermID   int64
	PostType string
}

func (k TermKey) String() string {
	return strconv.FormatInt(k.TermID, 10) + termKeySeparator + k.PostType
}

// ParseTermKey decodes "<termId>_for_<postType>"
func ParseTermKey(raw string) (TermKey, bool) {
	id, postType, found := strings.Cut(raw, termKeySeparator)
	if !found || postType == "" {
		return TermKey{}, false
	}

	termID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || termID <= 0 {
		return TermKey{}, false
	}

	return TermKey{TermID: termID, PostType: postType}, true
}

// Exclusion is the set of excluded (term, post type) pairs
type Exclusion map[TermKey]struct{}

// ParseExclusion builds the exclusion set from stored settings keys.
// Keys that do not decode are skipped.
func ParseExclusion(raw map[string]string) Exclusion {
	ex := make(Exclusion, len(raw))
	for key, value := range raw {
		if value != "on" {
			continue
		}
		if k, ok := ParseTermKey(key); ok {
			ex[k] = struct{}{}
		}
	}
	return ex
}

func (ex Exclusion) Excludes(termID int64, postType string) bool {
	_, ok := ex[TermKey{TermID: termID, PostType: postType}]
	return ok
}

// ByPostType groups excluded term IDs for the given post types, sorted
func (ex Exclusion) ByPostType(postTypes []string) map[string][]int64 {
	out := make(map[string][]int64)
	for k := range ex {
		if slices.Contains(postTypes, k.PostType) {
			out[k.PostType] = append(out[k.PostType], k.TermID)
		}
	}
	for _, ids := range out {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return out
}

// Policy is a resolved inclusion and exclusion pair
type Policy struct {
	Included Inclusion
	Excluded Exclusion
}
