package store

import (
	"testing"

	"github.com/mossline/filterhub/internal/apperr"
	"github.com/mossline/filterhub/internal/database"
	"github.com/mossline/filterhub/internal/ordering"
)

func setupCategoryTestDB(t *testing.T) (*CategoryStore, *FilterStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCategoryStore(db), NewFilterStore(db), NewUserStore(db)
}

func TestCreateCategoryAndSubcategory(t *testing.T) {
	cs, _, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")

	cat, err := cs.Create(user.ID, "Science", nil)
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	if cat.Category == nil || cat.SubCategory != nil {
		t.Fatalf("top-level create returned %+v", cat)
	}

	sub, err := cs.Create(user.ID, "Red Packs", &cat.Category.ID)
	if err != nil {
		t.Fatalf("create subcategory: %v", err)
	}
	if sub.SubCategory == nil || sub.SubCategory.ParentID != cat.Category.ID {
		t.Fatalf("subcategory create returned %+v", sub)
	}
}

func TestCreateCategoryDuplicateName(t *testing.T) {
	cs, _, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")
	other := createTestUser(t, us, "b@example.com")

	cat := createTestCategory(t, cs, user.ID, "Science", nil)

	if _, err := cs.Create(user.ID, "Science", nil); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("duplicate category: kind = %v, want CONFLICT", apperr.KindOf(err))
	}
	// Same name under a different user is fine.
	if _, err := cs.Create(other.ID, "Science", nil); err != nil {
		t.Errorf("other user's duplicate name: %v", err)
	}

	createTestCategory(t, cs, user.ID, "Red Packs", &cat.Category.ID)
	if _, err := cs.Create(user.ID, "Red Packs", &cat.Category.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("duplicate subcategory: kind = %v, want CONFLICT", apperr.KindOf(err))
	}
}

func TestCreateSubcategoryMissingParent(t *testing.T) {
	cs, _, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")

	missing := int64(9999)
	if _, err := cs.Create(user.ID, "Orphans", &missing); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("missing parent: kind = %v, want NOT_FOUND", apperr.KindOf(err))
	}
}

func TestRenameCategory(t *testing.T) {
	cs, _, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")
	cat := createTestCategory(t, cs, user.ID, "Science", nil)

	if err := cs.Rename(user.ID, cat.Category.ID, false, "Research"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := getUserCategory(cs.db, user.ID, cat.Category.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Research" {
		t.Errorf("name = %q, want %q", got.Name, "Research")
	}

	// Renaming a missing id is a silent no-op.
	if err := cs.Rename(user.ID, 9999, false, "Ghost"); err != nil {
		t.Errorf("rename missing id: %v", err)
	}
}

func TestDeleteSubcategoryRelocatesFilters(t *testing.T) {
	cs, fs, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")
	cat := createTestCategory(t, cs, user.ID, "Science", nil)
	sub := createTestCategory(t, cs, user.ID, "Red Packs", &cat.Category.ID)

	// One filter already in the parent category, two in the subcategory.
	existing, err := fs.Create(user.ID, CreateFilterInput{Name: "In Parent", CategoryID: &cat.Category.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var subIDs []int64
	for _, name := range []string{"Red A", "Red B"} {
		f, err := fs.Create(user.ID, CreateFilterInput{Name: name, SubCategoryID: &sub.SubCategory.ID})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		subIDs = append(subIDs, f.ID)
	}

	if err := cs.Delete(user.ID, sub.SubCategory.ID, true); err != nil {
		t.Fatalf("delete subcategory: %v", err)
	}

	// Orphans land in the parent category after its existing max order.
	orders := bucketOrders(t, fs, user.ID, ordering.InCategory(cat.Category.ID))
	if len(orders) != 3 {
		t.Fatalf("parent bucket has %d filters, want 3", len(orders))
	}
	if orders[existing.ID] != 0 || orders[subIDs[0]] != 1 || orders[subIDs[1]] != 2 {
		t.Errorf("parent bucket orders = %v, want {%d:0, %d:1, %d:2}", orders, existing.ID, subIDs[0], subIDs[1])
	}
}

func TestDeleteCategoryRelocatesToUncategorized(t *testing.T) {
	cs, fs, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")
	cat := createTestCategory(t, cs, user.ID, "Science", nil)

	f, err := fs.Create(user.ID, CreateFilterInput{Name: "Labs", CategoryID: &cat.Category.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := cs.Delete(user.ID, cat.Category.ID, false); err != nil {
		t.Fatalf("delete category: %v", err)
	}

	got, err := fs.GetByID(f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CategoryID != nil || got.SubCategoryID != nil {
		t.Errorf("filter still placed after category delete: %+v", got)
	}
}

func TestDeleteCategoryLeavesSubcategoriesDangling(t *testing.T) {
	cs, _, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")
	cat := createTestCategory(t, cs, user.ID, "Science", nil)
	sub := createTestCategory(t, cs, user.ID, "Red Packs", &cat.Category.ID)

	if err := cs.Delete(user.ID, cat.Category.ID, false); err != nil {
		t.Fatalf("delete category: %v", err)
	}

	// The subcategory row survives but is invisible in the hierarchy.
	got, err := getSubCategory(cs.db, user.ID, sub.SubCategory.ID)
	if err != nil {
		t.Fatalf("get subcategory: %v", err)
	}
	if got == nil {
		t.Fatal("subcategory row should survive its parent's deletion")
	}

	nodes, err := cs.Hierarchy(user.ID)
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("hierarchy has %d nodes, want 0", len(nodes))
	}
}

func TestDeleteMissingCategory(t *testing.T) {
	cs, _, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")

	if err := cs.Delete(user.ID, 9999, false); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("delete missing: kind = %v, want NOT_FOUND", apperr.KindOf(err))
	}
	if err := cs.Delete(user.ID, 9999, true); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("delete missing sub: kind = %v, want NOT_FOUND", apperr.KindOf(err))
	}
}

func TestHierarchy(t *testing.T) {
	cs, fs, us := setupCategoryTestDB(t)
	user := createTestUser(t, us, "a@example.com")

	wep := createTestCategory(t, cs, user.ID, "Weapons", nil)
	sci := createTestCategory(t, cs, user.ID, "Science", nil)
	red := createTestCategory(t, cs, user.ID, "Red Packs", &sci.Category.ID)

	if _, err := fs.Create(user.ID, CreateFilterInput{Name: "Ammo", CategoryID: &wep.Category.ID}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fs.Create(user.ID, CreateFilterInput{Name: "Labs", SubCategoryID: &red.SubCategory.ID}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Uncategorized filters never show up in the hierarchy.
	if _, err := fs.Create(user.ID, CreateFilterInput{Name: "Loose"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	nodes, err := cs.Hierarchy(user.ID)
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d top-level nodes, want 2", len(nodes))
	}
	// Alphabetical: Science before Weapons.
	if nodes[0].Category.Name != "Science" || nodes[1].Category.Name != "Weapons" {
		t.Fatalf("node order = %q, %q", nodes[0].Category.Name, nodes[1].Category.Name)
	}
	if len(nodes[0].SubCategories) != 1 || nodes[0].SubCategories[0].SubCategory.Name != "Red Packs" {
		t.Errorf("science subcategories = %+v", nodes[0].SubCategories)
	}
	if len(nodes[0].SubCategories[0].Filters) != 1 || nodes[0].SubCategories[0].Filters[0].Name != "Labs" {
		t.Errorf("red pack filters = %+v", nodes[0].SubCategories[0].Filters)
	}
	if len(nodes[1].Filters) != 1 || nodes[1].Filters[0].Name != "Ammo" {
		t.Errorf("weapons filters = %+v", nodes[1].Filters)
	}
	if nodes[1].SubCategories == nil {
		t.Error("empty subcategory list should be non-nil")
	}
}
