package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mossline/filterhub/internal/apperr"
	"github.com/mossline/filterhub/internal/model"
	"github.com/mossline/filterhub/internal/ordering"
)

// querier is satisfied by *sql.DB and *sql.Tx so bucket reads can run both
// standalone and inside a placement transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type FilterStore struct {
	db *sql.DB
}

func NewFilterStore(db *sql.DB) *FilterStore {
	return &FilterStore{db: db}
}

func scanFilter(scanner interface{ Scan(...any) error }) (*model.Filter, error) {
	var f model.Filter
	var categoryID, subCategoryID sql.NullInt64
	var isPublic int

	err := scanner.Scan(
		&f.ID, &f.Name, &f.Description, &f.AuthorID, &f.ImagePath, &isPublic,
		&categoryID, &subCategoryID, &f.SortOrder, &f.ExportCount, &f.Popularity,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.IsPublic = isPublic != 0
	if categoryID.Valid {
		f.CategoryID = &categoryID.Int64
	}
	if subCategoryID.Valid {
		f.SubCategoryID = &subCategoryID.Int64
	}
	return &f, nil
}

const filterCols = `id, name, description, author_id, image_path, is_public, category_id, sub_category_id, sort_order, export_count, popularity, created_at, updated_at`

// FilterItemInput is one requested row of a filter. Exactly one of ItemID
// and CategoryID must be set.
type FilterItemInput struct {
	ItemID          *int64 `json:"item_id"`
	CategoryID      *int64 `json:"category_id"`
	MaxThreshold    int    `json:"max_threshold"`
	BufferThreshold int    `json:"buffer_threshold"`
	MinThreshold    int    `json:"min_threshold"`
}

// CreateFilterInput carries everything needed to create a filter.
type CreateFilterInput struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	ImagePath     string            `json:"image_path"`
	IsPublic      bool              `json:"is_public"`
	CategoryID    *int64            `json:"category_id"`
	SubCategoryID *int64            `json:"sub_category_id"`
	Items         []FilterItemInput `json:"items"`
}

// --- reads ---

func (s *FilterStore) GetByID(id int64) (*model.Filter, error) {
	return getFilter(s.db, id)
}

func getFilter(q querier, id int64) (*model.Filter, error) {
	row := q.QueryRow(`SELECT `+filterCols+` FROM filters WHERE id = ?`, id)
	f, err := scanFilter(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get filter: %w", err)
	}
	if err := loadItems(q, f); err != nil {
		return nil, err
	}
	return f, nil
}

func loadItems(q querier, f *model.Filter) error {
	rows, err := q.Query(
		`SELECT id, filter_id, item_id, category_id, max_threshold, buffer_threshold, min_threshold, sort_order
		 FROM filter_items WHERE filter_id = ? ORDER BY sort_order ASC`,
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("load filter items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.FilterItem
		var itemID, categoryID sql.NullInt64
		err := rows.Scan(
			&it.ID, &it.FilterID, &itemID, &categoryID,
			&it.MaxThreshold, &it.BufferThreshold, &it.MinThreshold, &it.SortOrder,
		)
		if err != nil {
			return fmt.Errorf("scan filter item: %w", err)
		}
		if itemID.Valid {
			it.ItemID = &itemID.Int64
		}
		if categoryID.Valid {
			it.CategoryID = &categoryID.Int64
		}
		f.Items = append(f.Items, it)
	}
	return rows.Err()
}

// bucketFilters returns one bucket's filters ordered by sort_order ascending.
func bucketFilters(q querier, userID int64, ref ordering.BucketRef) ([]model.Filter, error) {
	var where string
	args := []any{userID}

	if subID, ok := ref.SubcategoryID(); ok {
		where = `sub_category_id = ?`
		args = append(args, subID)
	} else if catID, ok := ref.CategoryID(); ok {
		where = `category_id = ? AND sub_category_id IS NULL`
		args = append(args, catID)
	} else {
		where = `category_id IS NULL AND sub_category_id IS NULL`
	}

	rows, err := q.Query(
		`SELECT `+filterCols+` FROM filters WHERE author_id = ? AND `+where+` ORDER BY sort_order ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list bucket filters: %w", err)
	}
	defer rows.Close()

	var filters []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		filters = append(filters, *f)
	}
	return filters, rows.Err()
}

// ListUncategorized returns the caller's uncategorized filters in display order.
func (s *FilterStore) ListUncategorized(userID int64) ([]model.Filter, error) {
	return bucketFilters(s.db, userID, ordering.Uncategorized())
}

// ListPublic returns a page of public filters matching the optional name
// search, most popular first, with the total match count.
func (s *FilterStore) ListPublic(search string, offset, limit int) ([]model.Filter, int, error) {
	where := `is_public = 1`
	var args []any
	if search != "" {
		where += ` AND name LIKE ?`
		args = append(args, "%"+escapeLike(search)+"%")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM filters WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count public filters: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+filterCols+` FROM filters WHERE `+where+` ORDER BY popularity DESC, created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list public filters: %w", err)
	}
	defer rows.Close()

	var filters []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan filter: %w", err)
		}
		filters = append(filters, *f)
	}
	return filters, total, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `%`, ``)
	return strings.ReplaceAll(s, `_`, ``)
}

// --- writes ---

// Create inserts a filter at the end of its destination bucket, with its
// items, in one transaction.
func (s *FilterStore) Create(userID int64, in CreateFilterInput) (*model.Filter, error) {
	destRef, err := resolvePlacement(s.db, userID, in.CategoryID, in.SubCategoryID)
	if err != nil {
		return nil, err
	}
	if err := validateItems(in.Items); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	siblings, err := bucketFilters(tx, userID, destRef)
	if err != nil {
		return nil, err
	}

	var catID, subID sql.NullInt64
	if id, ok := destRef.CategoryID(); ok {
		catID = sql.NullInt64{Int64: id, Valid: true}
	}
	if id, ok := destRef.SubcategoryID(); ok {
		subID = sql.NullInt64{Int64: id, Valid: true}
	}

	result, err := tx.Exec(
		`INSERT INTO filters (name, description, author_id, image_path, is_public, category_id, sub_category_id, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.Description, userID, in.ImagePath, boolToInt(in.IsPublic),
		catID, subID, ordering.NextOrder(siblings),
	)
	if err != nil {
		return nil, fmt.Errorf("insert filter: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := insertItems(tx, id, in.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func insertItems(q querier, filterID int64, items []FilterItemInput) error {
	for i, it := range items {
		var itemID, categoryID sql.NullInt64
		if it.ItemID != nil {
			itemID = sql.NullInt64{Int64: *it.ItemID, Valid: true}
		}
		if it.CategoryID != nil {
			categoryID = sql.NullInt64{Int64: *it.CategoryID, Valid: true}
		}
		_, err := q.Exec(
			`INSERT INTO filter_items (filter_id, item_id, category_id, max_threshold, buffer_threshold, min_threshold, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			filterID, itemID, categoryID, it.MaxThreshold, it.BufferThreshold, it.MinThreshold, i,
		)
		if err != nil {
			return fmt.Errorf("insert filter item: %w", err)
		}
	}
	return nil
}

func validateItems(items []FilterItemInput) error {
	for _, it := range items {
		if (it.ItemID == nil) == (it.CategoryID == nil) {
			return apperr.BadRequest("each filter row must reference exactly one item or one item category")
		}
	}
	return nil
}

// resolvePlacement validates a requested (categoryID, subCategoryID) pair
// against the caller's hierarchy and returns the bucket it names. A set
// subcategory determines its own parent; a mismatched explicit parent is
// rejected.
func resolvePlacement(q querier, userID int64, categoryID, subCategoryID *int64) (ordering.BucketRef, error) {
	if subCategoryID != nil {
		sub, err := getSubCategory(q, userID, *subCategoryID)
		if err != nil {
			return ordering.BucketRef{}, err
		}
		if sub == nil {
			return ordering.BucketRef{}, apperr.NotFound("subcategory not found")
		}
		if categoryID != nil && *categoryID != sub.ParentID {
			return ordering.BucketRef{}, apperr.BadRequest("subcategory does not belong to the given category")
		}
		return ordering.InSubcategory(sub.ParentID, sub.ID), nil
	}
	if categoryID != nil {
		cat, err := getUserCategory(q, userID, *categoryID)
		if err != nil {
			return ordering.BucketRef{}, err
		}
		if cat == nil {
			return ordering.BucketRef{}, apperr.NotFound("category not found")
		}
		return ordering.InCategory(cat.ID), nil
	}
	return ordering.Uncategorized(), nil
}

// Update rewrites a filter's metadata and replaces its items. Placement is
// untouched; moves go through the placement methods below.
func (s *FilterStore) Update(userID, id int64, in CreateFilterInput) (*model.Filter, error) {
	f, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperr.NotFound("filter not found")
	}
	if f.AuthorID != userID {
		return nil, apperr.Forbidden("you do not own this filter")
	}
	if err := validateItems(in.Items); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE filters SET name = ?, description = ?, image_path = ?, is_public = ?, updated_at = datetime('now') WHERE id = ?`,
		in.Name, in.Description, in.ImagePath, boolToInt(in.IsPublic), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update filter: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM filter_items WHERE filter_id = ?`, id); err != nil {
		return nil, fmt.Errorf("clear filter items: %w", err)
	}
	if err := insertItems(tx, id, in.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// Delete removes a filter and compacts the bucket it vacated.
func (s *FilterStore) Delete(userID, id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	f, err := getFilter(tx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return apperr.NotFound("filter not found")
	}
	if f.AuthorID != userID {
		return apperr.Forbidden("you do not own this filter")
	}

	bucket, err := bucketFilters(tx, userID, ordering.RefOf(f))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM filters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	if err := applyAssignments(tx, ordering.Reindex(bucket, f.ID)); err != nil {
		return err
	}

	return tx.Commit()
}

// IncrementExport bumps the export and popularity counters of a filter the
// caller may read (own filter or public).
func (s *FilterStore) IncrementExport(userID, id int64) (*model.Filter, error) {
	f, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperr.NotFound("filter not found")
	}
	if !f.IsPublic && f.AuthorID != userID {
		return nil, apperr.Forbidden("this filter is not public")
	}

	_, err = s.db.Exec(
		`UPDATE filters SET export_count = export_count + 1, popularity = popularity + 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("increment export count: %w", err)
	}
	return s.GetByID(id)
}

// --- placement ---

// MoveToCategory places a filter directly under a main category, compacting
// the bucket it leaves and appending at the end of the destination.
func (s *FilterStore) MoveToCategory(userID, filterID, categoryID int64) (*model.Filter, error) {
	return s.move(userID, filterID, &categoryID, nil)
}

// MoveToSubcategory places a filter in a subcategory; the parent category
// is taken from the subcategory row itself.
func (s *FilterStore) MoveToSubcategory(userID, filterID, subCategoryID int64) (*model.Filter, error) {
	return s.move(userID, filterID, nil, &subCategoryID)
}

// MoveToUncategorized removes a filter from the hierarchy entirely.
func (s *FilterStore) MoveToUncategorized(userID, filterID int64) (*model.Filter, error) {
	return s.move(userID, filterID, nil, nil)
}

// ClearCategory demotes a filter one level: out of its subcategory into the
// parent category, or out of its main category into uncategorized.
func (s *FilterStore) ClearCategory(userID, filterID int64) (*model.Filter, error) {
	f, err := s.GetByID(filterID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperr.NotFound("filter not found")
	}
	if f.AuthorID != userID {
		return nil, apperr.Forbidden("you do not own this filter")
	}

	dest := ordering.RefOf(f).Parent()
	if catID, ok := dest.CategoryID(); ok {
		return s.move(userID, filterID, &catID, nil)
	}
	return s.move(userID, filterID, nil, nil)
}

// move is the single write path for placement changes: one transaction
// covering the source-bucket reindex and the moved row's update.
func (s *FilterStore) move(userID, filterID int64, categoryID, subCategoryID *int64) (*model.Filter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	f, err := getFilter(tx, filterID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperr.NotFound("filter not found")
	}
	if f.AuthorID != userID {
		return nil, apperr.Forbidden("you do not own this filter")
	}

	destRef, err := resolvePlacement(tx, userID, categoryID, subCategoryID)
	if err != nil {
		return nil, err
	}

	srcRef := ordering.RefOf(f)
	src, err := bucketFilters(tx, userID, srcRef)
	if err != nil {
		return nil, err
	}
	if err := applyAssignments(tx, ordering.Reindex(src, f.ID)); err != nil {
		return nil, err
	}

	dest, err := bucketFilters(tx, userID, destRef)
	if err != nil {
		return nil, err
	}
	// The moved filter may still be part of the destination snapshot when
	// the move stays inside one bucket; it must not count toward the append
	// position.
	withoutSelf := dest[:0:0]
	for _, d := range dest {
		if d.ID != f.ID {
			withoutSelf = append(withoutSelf, d)
		}
	}

	var catID, subID sql.NullInt64
	if id, ok := destRef.CategoryID(); ok {
		catID = sql.NullInt64{Int64: id, Valid: true}
	}
	if id, ok := destRef.SubcategoryID(); ok {
		subID = sql.NullInt64{Int64: id, Valid: true}
	}

	_, err = tx.Exec(
		`UPDATE filters SET category_id = ?, sub_category_id = ?, sort_order = ?, updated_at = datetime('now') WHERE id = ?`,
		catID, subID, ordering.NextOrder(withoutSelf), filterID,
	)
	if err != nil {
		return nil, fmt.Errorf("move filter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(filterID)
}

// relocateOrphans moves every filter out of a bucket that is being deleted
// into its fallback bucket, appended after the fallback's current maximum.
// Runs inside the caller's transaction.
func relocateOrphans(tx *sql.Tx, userID int64, ref ordering.BucketRef) error {
	orphans, err := bucketFilters(tx, userID, ref)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	fallback := ref.Parent()
	existing, err := bucketFilters(tx, userID, fallback)
	if err != nil {
		return err
	}

	var catID, subID sql.NullInt64
	if id, ok := fallback.CategoryID(); ok {
		catID = sql.NullInt64{Int64: id, Valid: true}
	}

	next := ordering.NextOrder(existing)
	for _, f := range orphans {
		_, err := tx.Exec(
			`UPDATE filters SET category_id = ?, sub_category_id = ?, sort_order = ?, updated_at = datetime('now') WHERE id = ?`,
			catID, subID, next, f.ID,
		)
		if err != nil {
			return fmt.Errorf("relocate filter: %w", err)
		}
		next++
	}
	return nil
}

func applyAssignments(tx *sql.Tx, assignments []ordering.Assignment) error {
	for _, a := range assignments {
		if _, err := tx.Exec(`UPDATE filters SET sort_order = ? WHERE id = ?`, a.SortOrder, a.FilterID); err != nil {
			return fmt.Errorf("update sort order: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
