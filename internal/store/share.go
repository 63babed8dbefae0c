package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/mossline/filterhub/internal/apperr"
	"github.com/mossline/filterhub/internal/model"
	"github.com/mossline/filterhub/internal/ordering"
)

type ShareStore struct {
	db *sql.DB
}

func NewShareStore(db *sql.DB) *ShareStore {
	return &ShareStore{db: db}
}

func scanShareToken(scanner interface{ Scan(...any) error }) (*model.ShareToken, error) {
	var t model.ShareToken
	var revoked int
	err := scanner.Scan(&t.ID, &t.UserID, &t.Token, &revoked, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Revoked = revoked != 0
	return &t, nil
}

const shareTokenCols = `id, user_id, token, revoked, created_at`

const tokenLength = 21

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// generateShareToken returns a 21-character opaque token, short enough for
// a one-line UI field and URL-safe.
func generateShareToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)&63]
	}
	return string(buf), nil
}

func activeToken(q querier, userID int64) (*model.ShareToken, error) {
	row := q.QueryRow(
		`SELECT `+shareTokenCols+` FROM share_tokens WHERE user_id = ? AND revoked = 0`,
		userID,
	)
	t, err := scanShareToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active token: %w", err)
	}
	return t, nil
}

// GetOrCreateToken returns the user's active token, creating one on first
// access. A concurrent first access is tolerated: the insert ignores the
// single-active-token conflict and the winner's row is re-read.
func (s *ShareStore) GetOrCreateToken(userID int64) (*model.ShareToken, error) {
	t, err := activeToken(s.db, userID)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}

	token, err := generateShareToken()
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO share_tokens (user_id, token) VALUES (?, ?)`,
		userID, token,
	)
	if err != nil {
		return nil, fmt.Errorf("insert share token: %w", err)
	}

	t, err = activeToken(s.db, userID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("share token missing after insert")
	}
	return t, nil
}

// RevokeAndReissue retires the user's current token, creates a fresh one,
// and re-points every existing grant at the new token so recipients keep
// their access while the leaked string stops working. One transaction.
func (s *ShareStore) RevokeAndReissue(userID int64) (*model.ShareToken, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	old, err := activeToken(tx, userID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, apperr.NotFound("you have no share token to revoke")
	}

	if _, err := tx.Exec(`UPDATE share_tokens SET revoked = 1 WHERE id = ?`, old.ID); err != nil {
		return nil, fmt.Errorf("revoke token: %w", err)
	}

	token, err := generateShareToken()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(
		`INSERT INTO share_tokens (user_id, token) VALUES (?, ?)`,
		userID, token,
	)
	if err != nil {
		return nil, fmt.Errorf("insert replacement token: %w", err)
	}
	newID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE shared_filters SET share_token_id = ? WHERE share_token_id = ?`,
		newID, old.ID,
	); err != nil {
		return nil, fmt.Errorf("migrate grants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+shareTokenCols+` FROM share_tokens WHERE id = ?`, newID)
	return scanShareToken(row)
}

// ValidateToken checks a token string without exposing its owner: unknown
// tokens are NotFound, revoked ones Forbidden.
func (s *ShareStore) ValidateToken(token string) error {
	var revoked int
	err := s.db.QueryRow(`SELECT revoked FROM share_tokens WHERE token = ?`, token).Scan(&revoked)
	if err == sql.ErrNoRows {
		return apperr.NotFound("unknown share token")
	}
	if err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	if revoked != 0 {
		return apperr.Forbidden("this share token has been revoked")
	}
	return nil
}

// RecipientByToken resolves a non-revoked token string to its row, or nil.
func (s *ShareStore) RecipientByToken(token string) (*model.ShareToken, error) {
	return recipientByToken(s.db, token)
}

func recipientByToken(q querier, token string) (*model.ShareToken, error) {
	row := q.QueryRow(
		`SELECT `+shareTokenCols+` FROM share_tokens WHERE token = ? AND revoked = 0`,
		token,
	)
	t, err := scanShareToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve recipient token: %w", err)
	}
	return t, nil
}

// checkSender verifies the sender has an active token and is not sharing
// with themselves, and resolves the recipient. Shared by ShareFilter and
// ShareCategory.
func checkSender(q querier, senderID int64, recipientToken string) (*model.ShareToken, error) {
	senderToken, err := activeToken(q, senderID)
	if err != nil {
		return nil, err
	}
	if senderToken == nil {
		return nil, apperr.NotFound("create your own share token before sharing")
	}
	if recipientToken == senderToken.Token {
		return nil, apperr.Forbidden("you cannot share a filter with yourself")
	}

	recipient, err := recipientByToken(q, recipientToken)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, apperr.NotFound("recipient share token not found")
	}
	return recipient, nil
}

// ShareFilter grants one filter to the holder of recipientToken.
func (s *ShareStore) ShareFilter(senderID, filterID int64, recipientToken string) (*model.SharedFilter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	f, err := getFilter(tx, filterID)
	if err != nil {
		return nil, err
	}
	if f == nil || f.AuthorID != senderID {
		return nil, apperr.NotFound("filter not found")
	}

	recipient, err := checkSender(tx, senderID, recipientToken)
	if err != nil {
		return nil, err
	}

	var count int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM shared_filters WHERE filter_id = ? AND share_token_id = ? AND sender_id = ?`,
		filterID, recipient.ID, senderID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("check existing grant: %w", err)
	}
	if count > 0 {
		return nil, apperr.Conflict("this filter is already shared with that token")
	}

	result, err := tx.Exec(
		`INSERT INTO shared_filters (filter_id, share_token_id, sender_id) VALUES (?, ?, ?)`,
		filterID, recipient.ID, senderID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	row := s.db.QueryRow(
		`SELECT id, filter_id, share_token_id, sender_id, created_at FROM shared_filters WHERE id = ?`,
		id,
	)
	var grant model.SharedFilter
	if err := row.Scan(&grant.ID, &grant.FilterID, &grant.ShareTokenID, &grant.SenderID, &grant.CreatedAt); err != nil {
		return nil, fmt.Errorf("read grant: %w", err)
	}
	return &grant, nil
}

// ShareCategorySelector names the set of the sender's filters to share:
// nothing set means uncategorized, a subcategory selects its filters, a
// category selects its direct filters and, with IncludeSubcategories, the
// filters of every subcategory beneath it.
type ShareCategorySelector struct {
	CategoryID           *int64 `json:"category_id"`
	SubCategoryID        *int64 `json:"sub_category_id"`
	IncludeSubcategories bool   `json:"include_subcategories"`
}

// ShareCategory bulk-shares the selected filters, skipping ones already
// granted to the token. Partial overlap is a success with counts; full
// overlap is a conflict.
func (s *ShareStore) ShareCategory(senderID int64, sel ShareCategorySelector, recipientToken string) (*model.ShareCategoryResult, error) {
	if sel.CategoryID != nil && sel.SubCategoryID != nil {
		return nil, apperr.BadRequest("category and subcategory cannot both be given")
	}
	if sel.SubCategoryID != nil && sel.IncludeSubcategories {
		return nil, apperr.BadRequest("include_subcategories does not apply to a subcategory")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	recipient, err := checkSender(tx, senderID, recipientToken)
	if err != nil {
		return nil, err
	}

	filters, err := selectFilters(tx, senderID, sel)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, apperr.NotFound("no filters matched the selection")
	}

	shared, err := grantedFilterIDs(tx, recipient.ID, senderID)
	if err != nil {
		return nil, err
	}

	result := &model.ShareCategoryResult{TotalFilters: len(filters)}
	for _, f := range filters {
		if shared[f.ID] {
			result.AlreadyShared++
			continue
		}
		_, err := tx.Exec(
			`INSERT INTO shared_filters (filter_id, share_token_id, sender_id) VALUES (?, ?, ?)`,
			f.ID, recipient.ID, senderID,
		)
		if err != nil {
			return nil, fmt.Errorf("insert grant: %w", err)
		}
		result.SharedCount++
	}

	if result.SharedCount == 0 {
		return nil, apperr.Conflict("every selected filter is already shared with that token")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func selectFilters(q querier, senderID int64, sel ShareCategorySelector) ([]model.Filter, error) {
	switch {
	case sel.SubCategoryID != nil:
		return bucketFilters(q, senderID, ordering.InSubcategory(0, *sel.SubCategoryID))
	case sel.CategoryID != nil && sel.IncludeSubcategories:
		// Filters in a subcategory carry the parent's category_id, so one
		// predicate covers direct and nested filters.
		rows, err := q.Query(
			`SELECT `+filterCols+` FROM filters WHERE author_id = ? AND category_id = ? ORDER BY sort_order ASC`,
			senderID, *sel.CategoryID,
		)
		if err != nil {
			return nil, fmt.Errorf("list category filters: %w", err)
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
	case sel.CategoryID != nil:
		return bucketFilters(q, senderID, ordering.InCategory(*sel.CategoryID))
	default:
		return bucketFilters(q, senderID, ordering.Uncategorized())
	}
}

func grantedFilterIDs(q querier, tokenID, senderID int64) (map[int64]bool, error) {
	rows, err := q.Query(
		`SELECT filter_id FROM shared_filters WHERE share_token_id = ? AND sender_id = ?`,
		tokenID, senderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list existing grants: %w", err)
	}
	defer rows.Close()

	granted := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		granted[id] = true
	}
	return granted, rows.Err()
}

// ReceivedFilter is one entry of a recipient's inbox.
type ReceivedFilter struct {
	Filter   model.Filter `json:"filter"`
	SenderID int64        `json:"sender_id"`
	SharedAt time.Time    `json:"shared_at"`
}

// ListReceived returns every filter shared with any of the user's tokens,
// newest grant first.
func (s *ShareStore) ListReceived(userID int64) ([]ReceivedFilter, error) {
	rows, err := s.db.Query(
		`SELECT f.id, f.name, f.description, f.author_id, f.image_path, f.is_public,
		        f.category_id, f.sub_category_id, f.sort_order, f.export_count, f.popularity,
		        f.created_at, f.updated_at, sf.sender_id, sf.created_at
		 FROM shared_filters sf
		 INNER JOIN share_tokens st ON sf.share_token_id = st.id
		 INNER JOIN filters f ON sf.filter_id = f.id
		 WHERE st.user_id = ?
		 ORDER BY sf.created_at DESC, sf.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list received filters: %w", err)
	}
	defer rows.Close()

	var received []ReceivedFilter
	for rows.Next() {
		var r ReceivedFilter
		var categoryID, subCategoryID sql.NullInt64
		var isPublic int
		err := rows.Scan(
			&r.Filter.ID, &r.Filter.Name, &r.Filter.Description, &r.Filter.AuthorID,
			&r.Filter.ImagePath, &isPublic, &categoryID, &subCategoryID,
			&r.Filter.SortOrder, &r.Filter.ExportCount, &r.Filter.Popularity,
			&r.Filter.CreatedAt, &r.Filter.UpdatedAt, &r.SenderID, &r.SharedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan received filter: %w", err)
		}
		r.Filter.IsPublic = isPublic != 0
		if categoryID.Valid {
			r.Filter.CategoryID = &categoryID.Int64
		}
		if subCategoryID.Valid {
			r.Filter.SubCategoryID = &subCategoryID.Int64
		}
		received = append(received, r)
	}
	return received, rows.Err()
}

// DeleteSharedFilter lets a recipient drop a grant made to their own
// active token.
func (s *ShareStore) DeleteSharedFilter(userID, filterID int64) error {
	token, err := activeToken(s.db, userID)
	if err != nil {
		return err
	}
	if token == nil {
		return apperr.NotFound("you have no share token")
	}

	result, err := s.db.Exec(
		`DELETE FROM shared_filters WHERE filter_id = ? AND share_token_id = ?`,
		filterID, token.ID,
	)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound("this filter is not shared with you")
	}
	return nil
}
