package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

// termsSubquery flattens term relationships so that a single join can test a
// post against every excluded (post type, term) pair at once.
const termsSubquery = `(
	SELECT tr.object_id, tt.term_id
	FROM term_relationships AS tr
	LEFT OUTER JOIN term_taxonomy AS tt ON tr.term_taxonomy_id = tt.term_taxonomy_id
) AS t`

// PostRepository handles database operations for content posts
type PostRepository struct {
	db *DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *DB) *PostRepository {
	return &PostRepository{db: db}
}

// FindEligible returns published content posts matching the query, newest first.
// Term exclusions are applied as one anti-join covering all post types.
func (r *PostRepository) FindEligible(ctx context.Context, q EligibleQuery) ([]Post, error) {
	if len(q.PostTypes) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(
		"p.id", "p.post_type", "p.permalink", "p.title", "p.published_at",
		"COALESCE(pm2.meta_value, '')",
	).Distinct().From("posts AS p")

	sb.JoinWithOption(sqlbuilder.LeftOuterJoin, "post_meta AS pm",
		"pm.post_id = p.id", sb.Equal("pm.meta_key", MetaSuppressed))
	sb.JoinWithOption(sqlbuilder.LeftOuterJoin, "post_meta AS pm2",
		"pm2.post_id = p.id", sb.Equal("pm2.meta_key", MetaStockTickers))

	sb.Where(
		sb.Equal("p.post_status", StatusPublish),
		sb.Equal("p.object_type", ObjectTypePost),
		sb.In("p.post_type", sqlbuilder.Flatten(q.PostTypes)...),
		"(p.is_robots_noindex = 0 OR p.is_robots_noindex IS NULL)",
		sb.GreaterEqualThan("p.published_at", windowStart(q.Since)),
		sb.Or(sb.IsNull("pm.meta_value"), sb.NotEqual("pm.meta_value", "1")),
	)

	if termConds := excludedTermConditions(sb, q.PostTypes, q.ExcludedTerms); len(termConds) > 0 {
		sb.JoinWithOption(sqlbuilder.LeftOuterJoin, termsSubquery,
			sb.Or(termConds...), "t.object_id = p.id")
		sb.Where(sb.IsNull("t.object_id"))
	}

	sb.OrderBy("p.published_at DESC", "p.id DESC")
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var post Post
		var publishedAt int64
		if err := rows.Scan(&post.ID, &post.PostType, &post.Permalink, &post.Title, &publishedAt, &post.StockTickers); err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		post.PublishedAt = time.Unix(publishedAt, 0).UTC()
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}

	return posts, nil
}

// windowStart converts since to the whole-second column resolution, rounding
// up so a post stored at second s is never older than the window allows
func windowStart(since time.Time) int64 {
	start := since.Unix()
	if since.Nanosecond() > 0 {
		start++
	}
	return start
}

// excludedTermConditions builds one "(type AND term IN ...)" clause per post
// type that has excluded terms. Types are visited in query order so the
// generated SQL is stable.
func excludedTermConditions(sb *sqlbuilder.SelectBuilder, postTypes []string, excluded map[string][]int64) []string {
	var conds []string
	for _, postType := range postTypes {
		termIDs := excluded[postType]
		if len(termIDs) == 0 {
			continue
		}
		conds = append(conds, sb.And(
			sb.Equal("p.post_type", postType),
			sb.In("t.term_id", sqlbuilder.Flatten(termIDs)...),
		))
	}
	return conds
}

// TermsForPosts loads term associations for many posts in one query
func (r *PostRepository) TermsForPosts(ctx context.Context, postIDs []int64) (map[int64]map[string][]int64, error) {
	terms := make(map[int64]map[string][]int64, len(postIDs))
	if len(postIDs) == 0 {
		return terms, nil
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("tr.object_id", "tt.taxonomy", "tt.term_id").
		From("term_relationships AS tr").
		Join("term_taxonomy AS tt", "tr.term_taxonomy_id = tt.term_taxonomy_id").
		Where(sb.In("tr.object_id", sqlbuilder.Flatten(postIDs)...)).
		OrderBy("tr.object_id", "tt.taxonomy", "tt.term_id")

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query post terms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID, termID int64
		var taxonomy string
		if err := rows.Scan(&postID, &taxonomy, &termID); err != nil {
			return nil, fmt.Errorf("failed to scan term row: %w", err)
		}
		if terms[postID] == nil {
			terms[postID] = make(map[string][]int64)
		}
		terms[postID][taxonomy] = append(terms[postID][taxonomy], termID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating term rows: %w", err)
	}

	return terms, nil
}

// ExcludableTermIDs returns the post's terms in taxonomies that belong to
// postType and are shown in the UI
func (r *PostRepository) ExcludableTermIDs(ctx context.Context, postID int64, postType string) ([]int64, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("DISTINCT tt.term_id").
		From("term_relationships AS tr").
		Join("term_taxonomy AS tt", "tr.term_taxonomy_id = tt.term_taxonomy_id").
		Join("taxonomy_post_types AS tpt", "tpt.taxonomy = tt.taxonomy", sb.Equal("tpt.post_type", postType)).
		Join("taxonomies AS tx", "tx.name = tt.taxonomy", "tx.show_ui = 1").
		Where(sb.Equal("tr.object_id", postID)).
		OrderBy("tt.term_id")

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query excludable terms: %w", err)
	}
	defer rows.Close()

	var termIDs []int64
	for rows.Next() {
		var termID int64
		if err := rows.Scan(&termID); err != nil {
			return nil, fmt.Errorf("failed to scan term id: %w", err)
		}
		termIDs = append(termIDs, termID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating term ids: %w", err)
	}

	return termIDs, nil
}

// IsSuppressed reports whether the per-post news exclusion flag is set
func (r *PostRepository) IsSuppressed(ctx context.Context, postID int64) (bool, error) {
	var value sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT meta_value FROM post_meta WHERE post_id = ? AND meta_key = ?`,
		postID, MetaSuppressed).Scan(&value)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get suppression flag: %w", err)
	}

	return value.Valid && value.String == "1", nil
}

// PublicPostTypes returns the registered public post types in registration order
func (r *PostRepository) PublicPostTypes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM post_types WHERE public = 1 ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get public post types: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan post type: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post types: %w", err)
	}

	return names, nil
}

func (r *PostRepository) PostTypeExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM post_types WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check post type: %w", err)
	}
	return count > 0, nil
}

// LastPublishedAt returns the newest publish time of any published content
// post, or nil when there is none
func (r *PostRepository) LastPublishedAt(ctx context.Context) (*time.Time, error) {
	var publishedAt sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(published_at) FROM posts WHERE post_status = ? AND object_type = ?`,
		StatusPublish, ObjectTypePost).Scan(&publishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get last publish date: %w", err)
	}

	if !publishedAt.Valid {
		return nil, nil
	}

	t := time.Unix(publishedAt.Int64, 0).UTC()
	return &t, nil
}

// SavePost inserts or updates a post with its meta and term relationships
// and returns the post ID
func (r *PostRepository) SavePost(ctx context.Context, post PostInput) (int64, error) {
	if post.ObjectType == "" {
		post.ObjectType = ObjectTypePost
	}
	if post.Status == "" {
		post.Status = StatusPublish
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var guid sql.NullString
	if post.GUID != "" {
		guid = sql.NullString{String: post.GUID, Valid: true}
	}

	var noindex sql.NullInt64
	if post.RobotsNoindex {
		noindex = sql.NullInt64{Int64: 1, Valid: true}
	}

	args := []any{guid, post.ObjectType, post.PostType, post.Status, post.Permalink,
		post.Title, post.PublishedAt.Unix(), noindex}

	var id int64
	switch {
	case post.ID != 0:
		err = tx.QueryRowContext(ctx, `
			INSERT INTO posts (id, guid, object_type, post_type, post_status, permalink, title, published_at, is_robots_noindex)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				guid = excluded.guid,
				object_type = excluded.object_type,
				post_type = excluded.post_type,
				post_status = excluded.post_status,
				permalink = excluded.permalink,
				title = excluded.title,
				published_at = excluded.published_at,
				is_robots_noindex = excluded.is_robots_noindex,
				updated_at = CAST(strftime('%s', 'now') AS INTEGER)
			RETURNING id
		`, append([]any{post.ID}, args...)...).Scan(&id)
	case guid.Valid:
		err = tx.QueryRowContext(ctx, `
			INSERT INTO posts (guid, object_type, post_type, post_status, permalink, title, published_at, is_robots_noindex)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (guid) DO UPDATE SET
				object_type = excluded.object_type,
				post_type = excluded.post_type,
				post_status = excluded.post_status,
				permalink = excluded.permalink,
				title = excluded.title,
				published_at = excluded.published_at,
				is_robots_noindex = excluded.is_robots_noindex,
				updated_at = CAST(strftime('%s', 'now') AS INTEGER)
			RETURNING id
		`, args...).Scan(&id)
	default:
		err = tx.QueryRowContext(ctx, `
			INSERT INTO posts (guid, object_type, post_type, post_status, permalink, title, published_at, is_robots_noindex)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, args...).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upsert post: %w", err)
	}

	if err := saveMeta(ctx, tx, id, MetaSuppressed, boolMeta(post.Suppressed)); err != nil {
		return 0, err
	}
	if err := saveMeta(ctx, tx, id, MetaStockTickers, post.StockTickers); err != nil {
		return 0, err
	}
	if err := replaceTerms(ctx, tx, id, post.Terms); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit post: %w", err)
	}

	return id, nil
}

func boolMeta(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func saveMeta(ctx context.Context, tx *sql.Tx, postID int64, key, value string) error {
	if value == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_meta WHERE post_id = ? AND meta_key = ?`, postID, key); err != nil {
			return fmt.Errorf("failed to delete post meta %s: %w", key, err)
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)
		ON CONFLICT (post_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value
	`, postID, key, value)
	if err != nil {
		return fmt.Errorf("failed to save post meta %s: %w", key, err)
	}
	return nil
}

func replaceTerms(ctx context.Context, tx *sql.Tx, postID int64, terms map[string][]int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM term_relationships WHERE object_id = ?`, postID); err != nil {
		return fmt.Errorf("failed to clear term relationships: %w", err)
	}

	taxonomies := make([]string, 0, len(terms))
	for taxonomy := range terms {
		taxonomies = append(taxonomies, taxonomy)
	}
	sort.Strings(taxonomies)

	for _, taxonomy := range taxonomies {
		for _, termID := range terms[taxonomy] {
			slug := strconv.FormatInt(termID, 10)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO terms (term_id, name, slug) VALUES (?, ?, ?) ON CONFLICT (term_id) DO NOTHING`,
				termID, slug, slug); err != nil {
				return fmt.Errorf("failed to ensure term %d: %w", termID, err)
			}

			var ttID int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO term_taxonomy (term_id, taxonomy) VALUES (?, ?)
				ON CONFLICT (term_id, taxonomy) DO UPDATE SET taxonomy = excluded.taxonomy
				RETURNING term_taxonomy_id
			`, termID, taxonomy).Scan(&ttID)
			if err != nil {
				return fmt.Errorf("failed to ensure term taxonomy %d/%s: %w", termID, taxonomy, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO term_relationships (object_id, term_taxonomy_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				postID, ttID); err != nil {
				return fmt.Errorf("failed to relate term %d: %w", termID, err)
			}
		}
	}

	return nil
}
