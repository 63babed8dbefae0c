package ordering

import (
	"testing"

	"github.com/mossline/filterhub/internal/model"
)

func ptr(v int64) *int64 { return &v }

func bucket(orders ...int) []model.Filter {
	filters := make([]model.Filter, len(orders))
	for i, o := range orders {
		filters[i] = model.Filter{ID: int64(i + 1), SortOrder: o}
	}
	return filters
}

func TestReindexAlreadyDense(t *testing.T) {
	got := Reindex(bucket(0, 1, 2), 0)
	if len(got) != 0 {
		t.Errorf("dense bucket should need no writes, got %v", got)
	}
}

func TestReindexCompactsGaps(t *testing.T) {
	// Orders 0, 3, 7 -> rows 2 and 3 move to 1 and 2.
	got := Reindex(bucket(0, 3, 7), 0)
	want := []Assignment{{FilterID: 2, SortOrder: 1}, {FilterID: 3, SortOrder: 2}}
	if len(got) != len(want) {
		t.Fatalf("got %d assignments, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("assignment[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReindexExcludesLeavingFilter(t *testing.T) {
	// Filter 2 (order 1) leaves a dense 3-filter bucket; filter 3 shifts down.
	got := Reindex(bucket(0, 1, 2), 2)
	want := []Assignment{{FilterID: 3, SortOrder: 1}}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReindexEmpty(t *testing.T) {
	if got := Reindex(nil, 0); len(got) != 0 {
		t.Errorf("empty bucket: got %v", got)
	}
	if got := Reindex(bucket(0), 1); len(got) != 0 {
		t.Errorf("bucket reduced to empty: got %v", got)
	}
}

func TestNextOrder(t *testing.T) {
	tests := []struct {
		name   string
		orders []int
		want   int
	}{
		{"empty", nil, 0},
		{"dense", []int{0, 1, 2}, 3},
		{"gapped", []int{0, 4}, 5},
		{"single", []int{0}, 1},
	}
	for _, tt := range tests {
		if got := NextOrder(bucket(tt.orders...)); got != tt.want {
			t.Errorf("%s: NextOrder = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRefOf(t *testing.T) {
	uncat := RefOf(&model.Filter{})
	if !uncat.IsUncategorized() {
		t.Error("filter with no placement should be uncategorized")
	}

	cat := RefOf(&model.Filter{CategoryID: ptr(5)})
	if id, ok := cat.CategoryID(); !ok || id != 5 {
		t.Errorf("CategoryID = %d, %v; want 5, true", id, ok)
	}
	if _, ok := cat.SubcategoryID(); ok {
		t.Error("category ref should have no subcategory id")
	}

	sub := RefOf(&model.Filter{CategoryID: ptr(5), SubCategoryID: ptr(9)})
	if id, ok := sub.SubcategoryID(); !ok || id != 9 {
		t.Errorf("SubcategoryID = %d, %v; want 9, true", id, ok)
	}
	if id, ok := sub.CategoryID(); !ok || id != 5 {
		t.Errorf("parent CategoryID = %d, %v; want 5, true", id, ok)
	}
}

func TestParentFallback(t *testing.T) {
	sub := InSubcategory(5, 9)
	if got := sub.Parent(); got != InCategory(5) {
		t.Errorf("subcategory parent = %v, want InCategory(5)", got)
	}
	if got := InCategory(5).Parent(); !got.IsUncategorized() {
		t.Errorf("category parent = %v, want uncategorized", got)
	}
	if got := Uncategorized().Parent(); !got.IsUncategorized() {
		t.Errorf("uncategorized parent = %v, want uncategorized", got)
	}
}

func TestBucketRefComparable(t *testing.T) {
	// Refs are used as map keys when grouping filters by bucket.
	m := map[BucketRef]int{
		Uncategorized():     1,
		InCategory(3):       2,
		InSubcategory(3, 4): 3,
	}
	if m[InSubcategory(3, 4)] != 3 {
		t.Error("equal subcategory refs should collide")
	}
	if m[InCategory(3)] != 2 {
		t.Error("equal category refs should collide")
	}
}
