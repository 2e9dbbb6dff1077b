package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voyagen/techtube/internal/keywords"
	"github.com/voyagen/techtube/internal/models"
	_ "modernc.org/sqlite"
)

// SQLite implements Store on an embedded SQLite database (modernc.org/sqlite, no cgo).
type SQLite struct {
	db *sql.DB
}

// tagSep joins tags in group_concat; it cannot appear in a trimmed tag.
const tagSep = "\x1f"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS keywords (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		keyword      TEXT NOT NULL,
		norm         TEXT NOT NULL UNIQUE,
		source       TEXT NOT NULL DEFAULT 'manual',
		created_at   TEXT NOT NULL,
		updated_date TEXT NOT NULL DEFAULT '1970-01-01',
		deleted_at   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_keywords_due ON keywords (updated_date, id)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id    TEXT NOT NULL UNIQUE,
		title         TEXT NOT NULL DEFAULT '',
		updated_date  TEXT NOT NULL DEFAULT '1970-01-01',
		is_live       INTEGER NOT NULL DEFAULT 0,
		live_video_id TEXT,
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id     TEXT NOT NULL UNIQUE,
		channel_id   TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		published_at TEXT NOT NULL,
		source_kind  TEXT NOT NULL,
		source_ref   TEXT NOT NULL,
		watch_state  TEXT NOT NULL DEFAULT 'UNWATCHED',
		is_new       INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_published ON videos (published_at DESC)`,
	`CREATE TABLE IF NOT EXISTS video_tags (
		video_id TEXT NOT NULL REFERENCES videos (video_id),
		tag      TEXT NOT NULL,
		norm     TEXT NOT NULL,
		UNIQUE (video_id, norm)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_video_tags_norm ON video_tags (norm)`,
	`CREATE TABLE IF NOT EXISTS hidden_videos (
		video_id TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS engine_locks (
		name       TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

// NewSQLite opens (or creates) the database at path and creates the schema if absent.
// Use ":memory:" for a throwaway database. Caller must call Close when done.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer; also keeps one :memory: database
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() {
	s.db.Close()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// likePattern builds a substring LIKE pattern; use with ESCAPE '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// --- keywords ---

const sqliteKeywordCols = `id, keyword, source, created_at, updated_date, deleted_at`

func scanSQLiteKeyword(row interface{ Scan(...any) error }) (*models.Keyword, error) {
	var (
		k                models.Keyword
		created, updated string
		deleted          sql.NullString
	)
	if err := row.Scan(&k.ID, &k.Text, &k.Source, &created, &updated, &deleted); err != nil {
		return nil, err
	}
	k.CreatedAt = parseTime(created)
	k.UpdatedDate = parseDate(updated)
	if deleted.Valid {
		t := parseTime(deleted.String)
		k.DeletedAt = &t
	}
	return &k, nil
}

func (s *SQLite) EnsureKeyword(ctx context.Context, text string, source models.KeywordSource, updated time.Time) error {
	_, err := s.AddKeywords(ctx, []string{text}, source, updated)
	if err != nil {
		return fmt.Errorf("EnsureKeyword: %w", err)
	}
	return nil
}

func (s *SQLite) DueKeyword(ctx context.Context, today time.Time) (*models.Keyword, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteKeywordCols+` FROM keywords
		 WHERE deleted_at IS NULL AND updated_date < ?
		 ORDER BY updated_date, id LIMIT 1`,
		dateString(today),
	)
	k, err := scanSQLiteKeyword(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("DueKeyword: %w", err)
	}
	return k, nil
}

func (s *SQLite) MarkKeywordCollected(ctx context.Context, id int64, day time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE keywords SET updated_date = ? WHERE id = ?`, dateString(day), id)
	if err != nil {
		return fmt.Errorf("MarkKeywordCollected: %w", err)
	}
	return nil
}

func (s *SQLite) KeywordKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT norm FROM keywords`)
	if err != nil {
		return nil, fmt.Errorf("KeywordKeys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("KeywordKeys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) AddKeywords(ctx context.Context, texts []string, source models.KeywordSource, updated time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("AddKeywords: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	now := nowString()
	for _, t := range texts {
		text, norm := keywords.Clean(t), keywords.Normalize(t)
		if norm == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO keywords (keyword, norm, source, created_at, updated_date) VALUES (?, ?, ?, ?, ?)`,
			text, norm, string(source), now, dateString(updated),
		)
		if err != nil {
			return 0, fmt.Errorf("AddKeywords %q: %w", text, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("AddKeywords commit: %w", err)
	}
	return inserted, nil
}

func (s *SQLite) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteKeywordCols+` FROM keywords WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListKeywords: %w", err)
	}
	defer rows.Close()
	list := []models.Keyword{}
	for rows.Next() {
		k, err := scanSQLiteKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("ListKeywords: %w", err)
		}
		list = append(list, *k)
	}
	return list, rows.Err()
}

func (s *SQLite) AddKeyword(ctx context.Context, text string, updated time.Time) (*models.Keyword, error) {
	norm := keywords.Normalize(text)
	if norm == "" {
		return nil, fmt.Errorf("AddKeyword: empty keyword")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (keyword, norm, source, created_at, updated_date) VALUES (?, ?, 'manual', ?, ?)
		 ON CONFLICT (norm) DO UPDATE SET
		   updated_date = CASE WHEN keywords.deleted_at IS NULL THEN keywords.updated_date ELSE excluded.updated_date END,
		   deleted_at = NULL`,
		keywords.Clean(text), norm, nowString(), dateString(updated),
	)
	if err != nil {
		return nil, fmt.Errorf("AddKeyword: %w", err)
	}
	k, err := scanSQLiteKeyword(s.db.QueryRowContext(ctx, `SELECT `+sqliteKeywordCols+` FROM keywords WHERE norm = ?`, norm))
	if err != nil {
		return nil, fmt.Errorf("AddKeyword: %w", err)
	}
	return k, nil
}

func (s *SQLite) DeleteKeyword(ctx context.Context, text string) error {
	norm := keywords.Normalize(text)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteKeyword: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE keywords SET deleted_at = ? WHERE norm = ? AND deleted_at IS NULL`, nowString(), norm)
	if err != nil {
		return fmt.Errorf("DeleteKeyword: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	pattern := likePattern(norm)
	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO hidden_videos (video_id)
		 SELECT v.video_id FROM videos v
		 WHERE lower(v.title) LIKE ? ESCAPE '\'
		    OR EXISTS (SELECT 1 FROM video_tags t WHERE t.video_id = v.video_id AND t.norm LIKE ? ESCAPE '\')`,
		pattern, pattern,
	)
	if err != nil {
		return fmt.Errorf("DeleteKeyword hide: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) SuggestWords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword FROM keywords WHERE deleted_at IS NULL
		 UNION SELECT tag FROM video_tags`)
	if err != nil {
		return nil, fmt.Errorf("SuggestWords: %w", err)
	}
	defer rows.Close()
	words := []string{}
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("SuggestWords: %w", err)
		}
		words = append(words, w)
	}
	sort.Strings(words)
	return words, rows.Err()
}

// --- channels ---

const sqliteChannelCols = `id, channel_id, title, updated_date, is_live, live_video_id, created_at`

func scanSQLiteChannel(row interface{ Scan(...any) error }) (*models.Channel, error) {
	var (
		ch               models.Channel
		updated, created string
		live             sql.NullString
	)
	if err := row.Scan(&ch.ID, &ch.ExternalID, &ch.Title, &updated, &ch.IsLive, &live, &created); err != nil {
		return nil, err
	}
	ch.UpdatedDate = parseDate(updated)
	ch.CreatedAt = parseTime(created)
	if live.Valid {
		ch.LiveVideoID = &live.String
	}
	return &ch, nil
}

func (s *SQLite) AddChannel(ctx context.Context, externalID, title string) (*models.Channel, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (channel_id, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (channel_id) DO UPDATE SET title = excluded.title`,
		externalID, title, nowString(),
	)
	if err != nil {
		return nil, fmt.Errorf("AddChannel: %w", err)
	}
	ch, err := scanSQLiteChannel(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteChannelCols+` FROM channels WHERE channel_id = ?`, externalID))
	if err != nil {
		return nil, fmt.Errorf("AddChannel: %w", err)
	}
	return ch, nil
}

func (s *SQLite) DeleteChannel(ctx context.Context, externalID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, externalID)
	if err != nil {
		return fmt.Errorf("DeleteChannel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteChannelCols+` FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListChannels: %w", err)
	}
	defer rows.Close()
	list := []models.Channel{}
	for rows.Next() {
		ch, err := scanSQLiteChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("ListChannels: %w", err)
		}
		list = append(list, *ch)
	}
	return list, rows.Err()
}

func (s *SQLite) DueChannel(ctx context.Context, today time.Time) (*models.Channel, error) {
	ch, err := scanSQLiteChannel(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteChannelCols+` FROM channels WHERE updated_date < ? ORDER BY updated_date, id LIMIT 1`,
		dateString(today),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("DueChannel: %w", err)
	}
	return ch, nil
}

func (s *SQLite) MarkChannelCollected(ctx context.Context, id int64, day time.Time, isLive bool, liveVideoID *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET updated_date = ?, is_live = ?, live_video_id = ? WHERE id = ?`,
		dateString(day), isLive, liveVideoID, id,
	)
	if err != nil {
		return fmt.Errorf("MarkChannelCollected: %w", err)
	}
	return nil
}

// --- videos ---

func (s *SQLite) SaveVideos(ctx context.Context, videos []NewVideo) ([]models.Video, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("SaveVideos: %w", err)
	}
	defer tx.Rollback()

	var fresh []models.Video
	for _, nv := range videos {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO videos
			   (video_id, channel_id, title, description, published_at, source_kind, source_ref, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			nv.ExternalID, nv.ChannelID, nv.Title, nv.Description, nv.PublishedAt.UTC().Format(time.RFC3339),
			string(nv.SourceKind), nv.SourceRef, now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("SaveVideos %s: %w", nv.ExternalID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		id, _ := res.LastInsertId()
		var tags []string
		for _, tag := range nv.Tags {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO video_tags (video_id, tag, norm) VALUES (?, ?, ?)`,
				nv.ExternalID, tag, keywords.Normalize(tag),
			)
			if err != nil {
				return nil, fmt.Errorf("SaveVideos tag %s: %w", nv.ExternalID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				tags = append(tags, tag)
			}
		}
		fresh = append(fresh, models.Video{
			ID:          id,
			ExternalID:  nv.ExternalID,
			ChannelID:   nv.ChannelID,
			Title:       nv.Title,
			Description: nv.Description,
			PublishedAt: nv.PublishedAt.UTC().Truncate(time.Second),
			SourceKind:  nv.SourceKind,
			SourceRef:   nv.SourceRef,
			WatchState:  models.WatchStateUnwatched,
			CreatedAt:   now,
			Tags:        tags,
		})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("SaveVideos commit: %w", err)
	}
	return fresh, nil
}

func (s *SQLite) VideoIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT video_id FROM videos`)
	if err != nil {
		return nil, fmt.Errorf("VideoIDs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("VideoIDs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) FlagNewVideos(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("FlagNewVideos: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE videos SET is_new = 0 WHERE is_new = 1`); err != nil {
		return fmt.Errorf("FlagNewVideos clear: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE videos SET is_new = 1 WHERE video_id = ?`, id); err != nil {
			return fmt.Errorf("FlagNewVideos %s: %w", id, err)
		}
	}
	return tx.Commit()
}

const sqliteVideoCols = `v.id, v.video_id, v.channel_id, v.title, v.description, v.published_at, v.source_kind,
	v.source_ref, v.watch_state, v.is_new, v.created_at,
	COALESCE((SELECT group_concat(t.tag, char(31)) FROM video_tags t WHERE t.video_id = v.video_id), '')`

func scanSQLiteVideo(row interface{ Scan(...any) error }) (*models.Video, error) {
	var (
		v                  models.Video
		published, created string
		tags               string
	)
	err := row.Scan(&v.ID, &v.ExternalID, &v.ChannelID, &v.Title, &v.Description, &published, &v.SourceKind,
		&v.SourceRef, &v.WatchState, &v.IsNew, &created, &tags)
	if err != nil {
		return nil, err
	}
	v.PublishedAt, _ = time.Parse(time.RFC3339, published)
	v.CreatedAt = parseTime(created)
	if tags != "" {
		v.Tags = strings.Split(tags, tagSep)
		sort.Strings(v.Tags)
	}
	return &v, nil
}

func (s *SQLite) ListVideos(ctx context.Context, filter VideoFilter) ([]models.Video, int, error) {
	where := []string{`NOT EXISTS (SELECT 1 FROM hidden_videos h WHERE h.video_id = v.video_id)`}
	var args []any
	if q := keywords.Normalize(filter.Query); q != "" {
		p := likePattern(q)
		where = append(where, `(lower(v.title) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM video_tags t WHERE t.video_id = v.video_id AND t.norm LIKE ? ESCAPE '\'))`)
		args = append(args, p, p)
	}
	if filter.State != "" {
		where = append(where, `v.watch_state = ?`)
		args = append(args, string(filter.State))
	}
	if filter.NewOnly {
		where = append(where, `v.is_new = 1`)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos v WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListVideos count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteVideoCols+` FROM videos v WHERE `+cond+`
		 ORDER BY v.published_at DESC, v.id DESC LIMIT ? OFFSET ?`,
		append(args, filter.limit(), filter.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListVideos: %w", err)
	}
	defer rows.Close()
	list := []models.Video{}
	for rows.Next() {
		v, err := scanSQLiteVideo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListVideos: %w", err)
		}
		list = append(list, *v)
	}
	return list, total, rows.Err()
}

func (s *SQLite) GetVideo(ctx context.Context, externalID string) (*models.Video, error) {
	v, err := scanSQLiteVideo(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteVideoCols+` FROM videos v WHERE v.video_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetVideo: %w", err)
	}
	return v, nil
}

func (s *SQLite) SetWatchState(ctx context.Context, externalID string, state models.WatchState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE videos SET watch_state = ? WHERE video_id = ?`, string(state), externalID)
	if err != nil {
		return fmt.Errorf("SetWatchState: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) HideVideo(ctx context.Context, externalID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO hidden_videos (video_id) VALUES (?)`, externalID)
	if err != nil {
		return fmt.Errorf("HideVideo: %w", err)
	}
	return nil
}

func (s *SQLite) HideVideosByTag(ctx context.Context, tag string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO hidden_videos (video_id) SELECT DISTINCT video_id FROM video_tags WHERE norm = ?`,
		keywords.Normalize(tag),
	)
	if err != nil {
		return 0, fmt.Errorf("HideVideosByTag: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- maintenance ---

func (s *SQLite) ResetDue(ctx context.Context, today time.Time) error {
	day := dateString(today.AddDate(0, 0, -1))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ResetDue: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE keywords SET updated_date = ? WHERE deleted_at IS NULL`, day); err != nil {
		return fmt.Errorf("ResetDue keywords: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE channels SET updated_date = ?`, day); err != nil {
		return fmt.Errorf("ResetDue channels: %w", err)
	}
	return tx.Commit()
}

// TryLock takes the lock record when it is free or expired, and renews it until unlock is called.
func (s *SQLite) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	owner := uuid.NewString()
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_locks (name, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		 WHERE engine_locks.expires_at < ?`,
		name, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("TryLock %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrLocked
	}
	stop := keepAlive(ttl, func(ctx context.Context) (bool, error) {
		res, err := s.db.ExecContext(ctx, `UPDATE engine_locks SET expires_at = ? WHERE name = ? AND owner = ?`,
			time.Now().Add(ttl).UnixMilli(), name, owner)
		if err != nil {
			return true, err
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	})
	return func() {
		stop()
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM engine_locks WHERE name = ? AND owner = ?`, name, owner)
	}, nil
}
