// Package ordering implements the dense sort-order bookkeeping for filter
// buckets. A bucket is the set of one user's filters sharing the same
// placement (uncategorized, a main category, or a subcategory); sort_order
// inside a bucket must always be the contiguous sequence 0..N-1.
//
// Everything here is pure; stores fetch a bucket, call into this package,
// and persist the returned assignments inside their own transaction.
package ordering

import "github.com/mossline/filterhub/internal/model"

type refKind int

const (
	kindUncategorized refKind = iota
	kindCategory
	kindSubcategory
)

// BucketRef identifies a placement as a tagged variant rather than a pair
// of nullable ids, so a subcategory ref always carries its parent and the
// category/subcategory exclusivity invariant cannot be misstated.
type BucketRef struct {
	kind          refKind
	categoryID    int64
	subCategoryID int64
}

func Uncategorized() BucketRef {
	return BucketRef{kind: kindUncategorized}
}

func InCategory(categoryID int64) BucketRef {
	return BucketRef{kind: kindCategory, categoryID: categoryID}
}

func InSubcategory(parentCategoryID, subCategoryID int64) BucketRef {
	return BucketRef{
		kind:          kindSubcategory,
		categoryID:    parentCategoryID,
		subCategoryID: subCategoryID,
	}
}

// RefOf derives the bucket a filter currently sits in from its placement
// columns. A set subcategory id wins over the category id.
func RefOf(f *model.Filter) BucketRef {
	switch {
	case f.SubCategoryID != nil && f.CategoryID != nil:
		return InSubcategory(*f.CategoryID, *f.SubCategoryID)
	case f.CategoryID != nil:
		return InCategory(*f.CategoryID)
	default:
		return Uncategorized()
	}
}

// CategoryID returns the category id and true for category and subcategory
// refs; uncategorized returns false.
func (b BucketRef) CategoryID() (int64, bool) {
	if b.kind == kindUncategorized {
		return 0, false
	}
	return b.categoryID, true
}

// SubcategoryID returns the subcategory id and true for subcategory refs.
func (b BucketRef) SubcategoryID() (int64, bool) {
	if b.kind != kindSubcategory {
		return 0, false
	}
	return b.subCategoryID, true
}

func (b BucketRef) IsUncategorized() bool { return b.kind == kindUncategorized }

// Parent returns the bucket a filter falls back to when its current bucket
// is cleared or deleted: a subcategory demotes to its parent category, a
// category drops to uncategorized.
func (b BucketRef) Parent() BucketRef {
	if b.kind == kindSubcategory {
		return InCategory(b.categoryID)
	}
	return Uncategorized()
}

// Assignment maps one filter to its new sort order.
type Assignment struct {
	FilterID  int64
	SortOrder int
}

// Reindex produces the assignments that compact a bucket back to a dense
// 0..N-1 sequence. The input must already be sorted by current sort_order
// ascending. excludeID names a filter leaving the bucket (0 for none).
// Rows whose order is already correct are omitted, so callers only write
// the rows that actually change.
func Reindex(filters []model.Filter, excludeID int64) []Assignment {
	var assignments []Assignment
	next := 0
	for _, f := range filters {
		if f.ID == excludeID {
			continue
		}
		if f.SortOrder != next {
			assignments = append(assignments, Assignment{FilterID: f.ID, SortOrder: next})
		}
		next++
	}
	return assignments
}

// NextOrder returns the append position for a bucket: max(sort_order)+1,
// or 0 for an empty bucket. Using max rather than len keeps the insert
// correct even if the bucket transiently carries a gap.
func NextOrder(filters []model.Filter) int {
	next := 0
	for _, f := range filters {
		if f.SortOrder >= next {
			next = f.SortOrder + 1
		}
	}
	return next
}
