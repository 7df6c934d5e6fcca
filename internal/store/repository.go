package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/post-pipeline/internal/domain"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Repository implements domain.PostRepository on top of database/sql. It
// speaks to PostgreSQL in production and SQLite in development and tests.
type Repository struct {
	db     *sql.DB
	driver string
}

// Open connects to the database, verifies the connection, applies pending
// migrations and returns a new Repository. The caller should call Close
// when the repository is no longer needed.
func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite && !strings.Contains(dsn, "foreign_keys") {
		dsn = withQueryParam(dsn, "_pragma=foreign_keys(1)")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(ctx, db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer at a time.
		db.SetMaxOpenConns(1)
	}

	return &Repository{db: db, driver: driver}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreatePost inserts a new post and sets its ID.
func (r *Repository) CreatePost(ctx context.Context, post *domain.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	query := r.rebind(`
		INSERT INTO posts (author_id, author_username, content, image_ref, video_ref, shares_count, tags, created_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?)
		RETURNING id`)

	err := r.db.QueryRowContext(ctx, query,
		post.AuthorID,
		post.AuthorName,
		post.Content,
		post.ImageRef,
		post.VideoRef,
		post.CreatedAt,
	).Scan(&post.ID)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	post.SharesCount = 0
	post.Tags = ""
	return nil
}

// GetPost returns a post by ID.
func (r *Repository) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	query := r.rebind(`
		SELECT id, author_id, author_username, content, image_ref, video_ref, shares_count, tags, created_at
		FROM posts
		WHERE id = ?`)

	var p domain.Post
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.AuthorID,
		&p.AuthorName,
		&p.Content,
		&p.ImageRef,
		&p.VideoRef,
		&p.SharesCount,
		&p.Tags,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query post %d: %w", id, err)
	}
	return &p, nil
}

// UpdatePost overwrites the requested fields in a single UPDATE so that
// concurrent writers to other fields are not clobbered.
func (r *Repository) UpdatePost(ctx context.Context, id int64, update domain.PostUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	if update.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *update.Content)
	}
	if update.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, *update.Tags)
	}
	args = append(args, id)

	query := r.rebind(`UPDATE posts SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update post %d: %w", id, err)
	}
	return expectOne(res, "post", id)
}

// IncrementShares adds one to the post's share counter.
func (r *Repository) IncrementShares(ctx context.Context, id int64) (int64, error) {
	query := r.rebind(`UPDATE posts SET shares_count = shares_count + 1 WHERE id = ? RETURNING shares_count`)

	var count int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment shares of post %d: %w", id, err)
	}
	return count, nil
}

// DeletePost removes a post by ID. Comments go with it via ON DELETE CASCADE.
func (r *Repository) DeletePost(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM posts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete post %d: %w", id, err)
	}
	return expectOne(res, "post", id)
}

// CreateComment inserts a comment after checking, in the same transaction,
// that its parent post exists.
func (r *Repository) CreateComment(ctx context.Context, comment *domain.Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM posts WHERE id = ?`), comment.PostID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("post %d: %w", comment.PostID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check parent post %d: %w", comment.PostID, err)
	}

	query := r.rebind(`
		INSERT INTO comments (author_id, author_username, post_id, text, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)
	err = tx.QueryRowContext(ctx, query,
		comment.AuthorID,
		comment.AuthorName,
		comment.PostID,
		comment.Text,
		comment.CreatedAt,
	).Scan(&comment.ID)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetComment returns a comment by ID.
func (r *Repository) GetComment(ctx context.Context, id int64) (*domain.Comment, error) {
	query := r.rebind(`
		SELECT id, author_id, author_username, post_id, text, created_at
		FROM comments
		WHERE id = ?`)

	var c domain.Comment
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.AuthorID,
		&c.AuthorName,
		&c.PostID,
		&c.Text,
		&c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query comment %d: %w", id, err)
	}
	return &c, nil
}

// ListComments returns the comments of a post, newest first.
func (r *Repository) ListComments(ctx context.Context, postID int64) ([]domain.Comment, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, author_id, author_username, post_id, text, created_at
		FROM comments
		WHERE post_id = ?
		ORDER BY created_at DESC, id DESC`),
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("query comments of post %d: %w", postID, err)
	}
	defer rows.Close()

	comments := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		err := rows.Scan(
			&c.ID,
			&c.AuthorID,
			&c.AuthorName,
			&c.PostID,
			&c.Text,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

// DeleteComment removes a comment by ID.
func (r *Repository) DeleteComment(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM comments WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete comment %d: %w", id, err)
	}
	return expectOne(res, "comment", id)
}

// Follow records a follow relationship. Repeated follows are ignored.
func (r *Repository) Follow(ctx context.Context, followerID, followeeID int64) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO follows (follower_id, followee_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (follower_id, followee_id) DO NOTHING`),
		followerID, followeeID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert follow %d->%d: %w", followerID, followeeID, err)
	}
	return nil
}

// ListFollowers returns the IDs of the accounts following accountID.
func (r *Repository) ListFollowers(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT follower_id
		FROM follows
		WHERE followee_id = ?
		ORDER BY follower_id`),
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query followers of %d: %w", accountID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan follower: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followers: %w", err)
	}
	return ids, nil
}

// rebind rewrites ? placeholders into $N for PostgreSQL. Queries in this
// package never contain a literal question mark.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func withQueryParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

func expectOne(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, domain.ErrNotFound)
	}
	return nil
}
