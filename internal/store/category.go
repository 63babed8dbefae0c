package store

import (
	"database/sql"
	"fmt"

	"github.com/mossline/filterhub/internal/apperr"
	"github.com/mossline/filterhub/internal/model"
	"github.com/mossline/filterhub/internal/ordering"
)

type CategoryStore struct {
	db *sql.DB
}

func NewCategoryStore(db *sql.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

func scanUserCategory(scanner interface{ Scan(...any) error }) (*model.UserCategory, error) {
	var c model.UserCategory
	err := scanner.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanSubCategory(scanner interface{ Scan(...any) error }) (*model.SubCategory, error) {
	var c model.SubCategory
	err := scanner.Scan(&c.ID, &c.UserID, &c.ParentID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const userCategoryCols = `id, user_id, name, created_at, updated_at`
const subCategoryCols = `id, user_id, parent_id, name, created_at, updated_at`

func getUserCategory(q querier, userID, id int64) (*model.UserCategory, error) {
	row := q.QueryRow(`SELECT `+userCategoryCols+` FROM user_categories WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanUserCategory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func getSubCategory(q querier, userID, id int64) (*model.SubCategory, error) {
	row := q.QueryRow(`SELECT `+subCategoryCols+` FROM sub_categories WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanSubCategory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subcategory: %w", err)
	}
	return c, nil
}

// CreatedCategory is the result of Create: exactly one field is set,
// depending on whether a parent was given.
type CreatedCategory struct {
	Category    *model.UserCategory `json:"category,omitempty"`
	SubCategory *model.SubCategory  `json:"sub_category,omitempty"`
}

// Create adds a top-level category (parentID nil) or a subcategory under an
// existing category. Names must be unique per user at each level.
func (s *CategoryStore) Create(userID int64, name string, parentID *int64) (*CreatedCategory, error) {
	if parentID == nil {
		var count int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM user_categories WHERE user_id = ? AND name = ?`,
			userID, name,
		).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("check category name: %w", err)
		}
		if count > 0 {
			return nil, apperr.Conflict("a category with this name already exists")
		}

		result, err := s.db.Exec(
			`INSERT INTO user_categories (user_id, name) VALUES (?, ?)`,
			userID, name,
		)
		if err != nil {
			return nil, fmt.Errorf("insert category: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		cat, err := getUserCategory(s.db, userID, id)
		if err != nil {
			return nil, err
		}
		return &CreatedCategory{Category: cat}, nil
	}

	parent, err := getUserCategory(s.db, userID, *parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, apperr.NotFound("parent category not found")
	}

	var count int
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM sub_categories WHERE user_id = ? AND parent_id = ? AND name = ?`,
		userID, parent.ID, name,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("check subcategory name: %w", err)
	}
	if count > 0 {
		return nil, apperr.Conflict("a subcategory with this name already exists in this category")
	}

	result, err := s.db.Exec(
		`INSERT INTO sub_categories (user_id, parent_id, name) VALUES (?, ?, ?)`,
		userID, parent.ID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subcategory: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	sub, err := getSubCategory(s.db, userID, id)
	if err != nil {
		return nil, err
	}
	return &CreatedCategory{SubCategory: sub}, nil
}

// Rename updates a category or subcategory name. The update is scoped to
// the owner; a non-owned or absent id updates zero rows and reports no
// error.
func (s *CategoryStore) Rename(userID, id int64, isSub bool, name string) error {
	table := "user_categories"
	if isSub {
		table = "sub_categories"
	}
	_, err := s.db.Exec(
		`UPDATE `+table+` SET name = ?, updated_at = datetime('now') WHERE id = ? AND user_id = ?`,
		name, id, userID,
	)
	if err != nil {
		return fmt.Errorf("rename category: %w", err)
	}
	return nil
}

// Delete relocates every filter directly bucketed in the category (or
// subcategory) into its fallback bucket, then removes the row, all in one
// transaction. Subcategories of a deleted main category are left in place
// with their parent reference intact.
func (s *CategoryStore) Delete(userID, id int64, isSub bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if isSub {
		sub, err := getSubCategory(tx, userID, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return apperr.NotFound("subcategory not found")
		}
		if err := relocateOrphans(tx, userID, ordering.InSubcategory(sub.ParentID, sub.ID)); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM sub_categories WHERE id = ? AND user_id = ?`, id, userID); err != nil {
			return fmt.Errorf("delete subcategory: %w", err)
		}
	} else {
		cat, err := getUserCategory(tx, userID, id)
		if err != nil {
			return err
		}
		if cat == nil {
			return apperr.NotFound("category not found")
		}
		if err := relocateOrphans(tx, userID, ordering.InCategory(cat.ID)); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM user_categories WHERE id = ? AND user_id = ?`, id, userID); err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
	}

	return tx.Commit()
}

// Hierarchy assembles the caller's full two-level tree, every filter list
// pre-ordered by sort_order.
func (s *CategoryStore) Hierarchy(userID int64) ([]model.CategoryNode, error) {
	rows, err := s.db.Query(
		`SELECT `+userCategoryCols+` FROM user_categories WHERE user_id = ? ORDER BY name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var nodes []model.CategoryNode
	index := make(map[int64]int)
	for rows.Next() {
		c, err := scanUserCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		index[c.ID] = len(nodes)
		nodes = append(nodes, model.CategoryNode{Category: *c, Filters: []model.Filter{}, SubCategories: []model.SubCategoryNode{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subRows, err := s.db.Query(
		`SELECT `+subCategoryCols+` FROM sub_categories WHERE user_id = ? ORDER BY name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subcategories: %w", err)
	}
	defer subRows.Close()

	subIndex := make(map[int64][2]int)
	for subRows.Next() {
		sub, err := scanSubCategory(subRows)
		if err != nil {
			return nil, fmt.Errorf("scan subcategory: %w", err)
		}
		i, ok := index[sub.ParentID]
		if !ok {
			// Parent was deleted; the subcategory keeps its dangling
			// reference and stays out of the tree.
			continue
		}
		subIndex[sub.ID] = [2]int{i, len(nodes[i].SubCategories)}
		nodes[i].SubCategories = append(nodes[i].SubCategories, model.SubCategoryNode{SubCategory: *sub, Filters: []model.Filter{}})
	}
	if err := subRows.Err(); err != nil {
		return nil, err
	}

	filterRows, err := s.db.Query(
		`SELECT `+filterCols+` FROM filters WHERE author_id = ? AND category_id IS NOT NULL ORDER BY sort_order ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list categorized filters: %w", err)
	}
	defer filterRows.Close()

	for filterRows.Next() {
		f, err := scanFilter(filterRows)
		if err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		if f.SubCategoryID != nil {
			if pos, ok := subIndex[*f.SubCategoryID]; ok {
				node := &nodes[pos[0]].SubCategories[pos[1]]
				node.Filters = append(node.Filters, *f)
			}
			continue
		}
		if i, ok := index[*f.CategoryID]; ok {
			nodes[i].Filters = append(nodes[i].Filters, *f)
		}
	}
	if err := filterRows.Err(); err != nil {
		return nil, err
	}

	if nodes == nil {
		nodes = []model.CategoryNode{}
	}
	return nodes, nil
}
