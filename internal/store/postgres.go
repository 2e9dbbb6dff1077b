package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/rs/zerolog/log"
	"github.com/voyagen/techtube/internal/keywords"
	"github.com/voyagen/techtube/internal/models"
)

// Postgres implements Store and EmbeddingStore using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN, retrying the first ping while the
// database comes up. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	// Requires the vector extension; see EnsurePgvector.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := pool.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("postgres not ready, retrying")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// --- keywords ---

const pgKeywordCols = `id, keyword, source, created_at, updated_date, deleted_at`

func scanPgKeyword(row pgx.Row) (*models.Keyword, error) {
	var k models.Keyword
	if err := row.Scan(&k.ID, &k.Text, &k.Source, &k.CreatedAt, &k.UpdatedDate, &k.DeletedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

func (p *Postgres) EnsureKeyword(ctx context.Context, text string, source models.KeywordSource, updated time.Time) error {
	if _, err := p.AddKeywords(ctx, []string{text}, source, updated); err != nil {
		return fmt.Errorf("EnsureKeyword: %w", err)
	}
	return nil
}

func (p *Postgres) DueKeyword(ctx context.Context, today time.Time) (*models.Keyword, error) {
	k, err := scanPgKeyword(p.pool.QueryRow(ctx,
		`SELECT `+pgKeywordCols+` FROM keywords
		 WHERE deleted_at IS NULL AND updated_date < $1::date
		 ORDER BY updated_date, id LIMIT 1`,
		dateString(today),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("DueKeyword: %w", err)
	}
	return k, nil
}

func (p *Postgres) MarkKeywordCollected(ctx context.Context, id int64, day time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE keywords SET updated_date = $1::date WHERE id = $2`, dateString(day), id)
	if err != nil {
		return fmt.Errorf("MarkKeywordCollected: %w", err)
	}
	return nil
}

func (p *Postgres) KeywordKeys(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT norm FROM keywords`)
	if err != nil {
		return nil, fmt.Errorf("KeywordKeys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("KeywordKeys: %w", err)
	}
	return keys, nil
}

func (p *Postgres) AddKeywords(ctx context.Context, texts []string, source models.KeywordSource, updated time.Time) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("AddKeywords: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, t := range texts {
		text, norm := keywords.Clean(t), keywords.Normalize(t)
		if norm == "" {
			continue
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO keywords (keyword, norm, source, updated_date) VALUES ($1, $2, $3, $4::date)
			 ON CONFLICT (norm) DO NOTHING`,
			text, norm, string(source), dateString(updated),
		)
		if err != nil {
			return 0, fmt.Errorf("AddKeywords %q: %w", text, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("AddKeywords commit: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgKeywordCols+` FROM keywords WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListKeywords: %w", err)
	}
	defer rows.Close()
	list := []models.Keyword{}
	for rows.Next() {
		k, err := scanPgKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("ListKeywords: %w", err)
		}
		list = append(list, *k)
	}
	return list, rows.Err()
}

func (p *Postgres) AddKeyword(ctx context.Context, text string, updated time.Time) (*models.Keyword, error) {
	norm := keywords.Normalize(text)
	if norm == "" {
		return nil, fmt.Errorf("AddKeyword: empty keyword")
	}
	k, err := scanPgKeyword(p.pool.QueryRow(ctx,
		`INSERT INTO keywords (keyword, norm, source, updated_date) VALUES ($1, $2, 'manual', $3::date)
		 ON CONFLICT (norm) DO UPDATE SET
		   updated_date = CASE WHEN keywords.deleted_at IS NULL THEN keywords.updated_date ELSE EXCLUDED.updated_date END,
		   deleted_at = NULL
		 RETURNING `+pgKeywordCols,
		keywords.Clean(text), norm, dateString(updated),
	))
	if err != nil {
		return nil, fmt.Errorf("AddKeyword: %w", err)
	}
	return k, nil
}

func (p *Postgres) DeleteKeyword(ctx context.Context, text string) error {
	norm := keywords.Normalize(text)
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("DeleteKeyword: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE keywords SET deleted_at = NOW() WHERE norm = $1 AND deleted_at IS NULL`, norm)
	if err != nil {
		return fmt.Errorf("DeleteKeyword: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO hidden_videos (video_id)
		 SELECT v.video_id FROM videos v
		 WHERE v.title ILIKE $1
		    OR EXISTS (SELECT 1 FROM video_tags t WHERE t.video_id = v.video_id AND t.norm LIKE $1)
		 ON CONFLICT DO NOTHING`,
		likePattern(norm),
	)
	if err != nil {
		return fmt.Errorf("DeleteKeyword hide: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) SuggestWords(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT keyword FROM keywords WHERE deleted_at IS NULL
		 UNION SELECT tag FROM video_tags
		 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("SuggestWords: %w", err)
	}
	words, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("SuggestWords: %w", err)
	}
	if words == nil {
		words = []string{}
	}
	return words, nil
}

// --- channels ---

const pgChannelCols = `id, channel_id, title, updated_date, is_live, live_video_id, created_at`

func scanPgChannel(row pgx.Row) (*models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.ExternalID, &ch.Title, &ch.UpdatedDate, &ch.IsLive, &ch.LiveVideoID, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (p *Postgres) AddChannel(ctx context.Context, externalID, title string) (*models.Channel, error) {
	ch, err := scanPgChannel(p.pool.QueryRow(ctx,
		`INSERT INTO channels (channel_id, title) VALUES ($1, $2)
		 ON CONFLICT (channel_id) DO UPDATE SET title = EXCLUDED.title
		 RETURNING `+pgChannelCols,
		externalID, title,
	))
	if err != nil {
		return nil, fmt.Errorf("AddChannel: %w", err)
	}
	return ch, nil
}

func (p *Postgres) DeleteChannel(ctx context.Context, externalID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE channel_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("DeleteChannel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgChannelCols+` FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListChannels: %w", err)
	}
	defer rows.Close()
	list := []models.Channel{}
	for rows.Next() {
		ch, err := scanPgChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("ListChannels: %w", err)
		}
		list = append(list, *ch)
	}
	return list, rows.Err()
}

func (p *Postgres) DueChannel(ctx context.Context, today time.Time) (*models.Channel, error) {
	ch, err := scanPgChannel(p.pool.QueryRow(ctx,
		`SELECT `+pgChannelCols+` FROM channels WHERE updated_date < $1::date ORDER BY updated_date, id LIMIT 1`,
		dateString(today),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("DueChannel: %w", err)
	}
	return ch, nil
}

func (p *Postgres) MarkChannelCollected(ctx context.Context, id int64, day time.Time, isLive bool, liveVideoID *string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE channels SET updated_date = $1::date, is_live = $2, live_video_id = $3 WHERE id = $4`,
		dateString(day), isLive, liveVideoID, id,
	)
	if err != nil {
		return fmt.Errorf("MarkChannelCollected: %w", err)
	}
	return nil
}

// --- videos ---

func (p *Postgres) SaveVideos(ctx context.Context, videos []NewVideo) ([]models.Video, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("SaveVideos: %w", err)
	}
	defer tx.Rollback(ctx)

	var fresh []models.Video
	for _, nv := range videos {
		v := models.Video{
			ExternalID:  nv.ExternalID,
			ChannelID:   nv.ChannelID,
			Title:       nv.Title,
			Description: nv.Description,
			PublishedAt: nv.PublishedAt,
			SourceKind:  nv.SourceKind,
			SourceRef:   nv.SourceRef,
			WatchState:  models.WatchStateUnwatched,
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO videos (video_id, channel_id, title, description, published_at, source_kind, source_ref)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (video_id) DO NOTHING
			 RETURNING id, created_at`,
			nv.ExternalID, nv.ChannelID, nv.Title, nv.Description, nv.PublishedAt, string(nv.SourceKind), nv.SourceRef,
		).Scan(&v.ID, &v.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // already stored; tags are immutable
		}
		if err != nil {
			return nil, fmt.Errorf("SaveVideos %s: %w", nv.ExternalID, err)
		}
		for _, t := range nv.Tags {
			tag, err := tx.Exec(ctx,
				`INSERT INTO video_tags (video_id, tag, norm) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				nv.ExternalID, t, keywords.Normalize(t),
			)
			if err != nil {
				return nil, fmt.Errorf("SaveVideos tag %s: %w", nv.ExternalID, err)
			}
			if tag.RowsAffected() > 0 {
				v.Tags = append(v.Tags, t)
			}
		}
		fresh = append(fresh, v)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("SaveVideos commit: %w", err)
	}
	return fresh, nil
}

func (p *Postgres) VideoIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT video_id FROM videos`)
	if err != nil {
		return nil, fmt.Errorf("VideoIDs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("VideoIDs: %w", err)
	}
	return ids, nil
}

func (p *Postgres) FlagNewVideos(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("FlagNewVideos: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE videos SET is_new = false WHERE is_new AND NOT (video_id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("FlagNewVideos clear: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE videos SET is_new = true WHERE video_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("FlagNewVideos set: %w", err)
	}
	return tx.Commit(ctx)
}

const pgVideoCols = `v.id, v.video_id, v.channel_id, v.title, v.description, v.published_at, v.source_kind,
	v.source_ref, v.watch_state, v.is_new, v.created_at,
	ARRAY(SELECT t.tag FROM video_tags t WHERE t.video_id = v.video_id ORDER BY t.tag)`

func scanPgVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.ExternalID, &v.ChannelID, &v.Title, &v.Description, &v.PublishedAt, &v.SourceKind,
		&v.SourceRef, &v.WatchState, &v.IsNew, &v.CreatedAt, &v.Tags)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectPgVideos(rows pgx.Rows) ([]models.Video, error) {
	defer rows.Close()
	list := []models.Video{}
	for rows.Next() {
		v, err := scanPgVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

const pgVisible = `NOT EXISTS (SELECT 1 FROM hidden_videos h WHERE h.video_id = v.video_id)`

func (p *Postgres) ListVideos(ctx context.Context, filter VideoFilter) ([]models.Video, int, error) {
	where := pgVisible
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := keywords.Normalize(filter.Query); q != "" {
		n := arg(likePattern(q))
		where += ` AND (v.title ILIKE ` + n +
			` OR EXISTS (SELECT 1 FROM video_tags t WHERE t.video_id = v.video_id AND t.norm LIKE ` + n + `))`
	}
	if filter.State != "" {
		where += ` AND v.watch_state = ` + arg(string(filter.State))
	}
	if filter.NewOnly {
		where += ` AND v.is_new`
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos v WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListVideos count: %w", err)
	}

	limit, offset := arg(filter.limit()), arg(filter.Offset)
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgVideoCols+` FROM videos v WHERE `+where+`
		 ORDER BY v.published_at DESC, v.id DESC LIMIT `+limit+` OFFSET `+offset,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListVideos: %w", err)
	}
	list, err := collectPgVideos(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListVideos: %w", err)
	}
	return list, total, nil
}

func (p *Postgres) GetVideo(ctx context.Context, externalID string) (*models.Video, error) {
	v, err := scanPgVideo(p.pool.QueryRow(ctx, `SELECT `+pgVideoCols+` FROM videos v WHERE v.video_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetVideo: %w", err)
	}
	return v, nil
}

func (p *Postgres) SetWatchState(ctx context.Context, externalID string, state models.WatchState) error {
	tag, err := p.pool.Exec(ctx, `UPDATE videos SET watch_state = $1 WHERE video_id = $2`, string(state), externalID)
	if err != nil {
		return fmt.Errorf("SetWatchState: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) HideVideo(ctx context.Context, externalID string) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO hidden_videos (video_id) VALUES ($1) ON CONFLICT DO NOTHING`, externalID)
	if err != nil {
		return fmt.Errorf("HideVideo: %w", err)
	}
	return nil
}

func (p *Postgres) HideVideosByTag(ctx context.Context, tag string) (int64, error) {
	ct, err := p.pool.Exec(ctx,
		`INSERT INTO hidden_videos (video_id) SELECT DISTINCT video_id FROM video_tags WHERE norm = $1
		 ON CONFLICT DO NOTHING`,
		keywords.Normalize(tag),
	)
	if err != nil {
		return 0, fmt.Errorf("HideVideosByTag: %w", err)
	}
	return ct.RowsAffected(), nil
}

// --- maintenance ---

func (p *Postgres) ResetDue(ctx context.Context, today time.Time) error {
	day := dateString(today.AddDate(0, 0, -1))
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ResetDue: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE keywords SET updated_date = $1::date WHERE deleted_at IS NULL`, day); err != nil {
		return fmt.Errorf("ResetDue keywords: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE channels SET updated_date = $1::date`, day); err != nil {
		return fmt.Errorf("ResetDue channels: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	owner := uuid.NewString()
	now := time.Now()
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO engine_locks (name, owner, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		 WHERE engine_locks.expires_at < $4`,
		name, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("TryLock %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLocked
	}
	stop := keepAlive(ttl, func(ctx context.Context) (bool, error) {
		tag, err := p.pool.Exec(ctx, `UPDATE engine_locks SET expires_at = $1 WHERE name = $2 AND owner = $3`,
			time.Now().Add(ttl).UnixMilli(), name, owner)
		if err != nil {
			return true, err
		}
		return tag.RowsAffected() > 0, nil
	})
	return func() {
		stop()
		_, _ = p.pool.Exec(context.Background(), `DELETE FROM engine_locks WHERE name = $1 AND owner = $2`, name, owner)
	}, nil
}

// --- embeddings ---

func (p *Postgres) VideosWithoutEmbeddings(ctx context.Context, ids []string) ([]models.Video, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgVideoCols+` FROM videos v WHERE v.video_id = ANY($1) AND v.embedding IS NULL ORDER BY v.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("VideosWithoutEmbeddings: %w", err)
	}
	list, err := collectPgVideos(rows)
	if err != nil {
		return nil, fmt.Errorf("VideosWithoutEmbeddings: %w", err)
	}
	return list, nil
}

func (p *Postgres) StoreVideoEmbeddings(ctx context.Context, ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("StoreVideoEmbeddings: %d ids for %d vectors", len(ids), len(vecs))
	}
	batch := &pgx.Batch{}
	for i, id := range ids {
		batch.Queue(`UPDATE videos SET embedding = $1 WHERE video_id = $2`, pgvector.NewVector(vecs[i]), id)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("StoreVideoEmbeddings: %w", err)
	}
	return nil
}

func (p *Postgres) SimilarVideos(ctx context.Context, externalID string, limit int) ([]models.Video, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgVideoCols+` FROM videos v, (SELECT embedding FROM videos WHERE video_id = $1) q
		 WHERE v.video_id <> $1 AND v.embedding IS NOT NULL AND q.embedding IS NOT NULL AND `+pgVisible+`
		 ORDER BY v.embedding <=> q.embedding
		 LIMIT $2`,
		externalID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("SimilarVideos: %w", err)
	}
	list, err := collectPgVideos(rows)
	if err != nil {
		return nil, fmt.Errorf("SimilarVideos: %w", err)
	}
	return list, nil
}
