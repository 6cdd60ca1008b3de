package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lostfound/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a ConversationStore and MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Concurrency model:
//   - Append locks the conversation row while allocating seq, so seq is gap-free and strictly
//     increasing and created_at never decreases along it.
//   - Read flags and the last-message pointer use conditional updates and never move backwards.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var (
	_ ConversationStore = (*PostgresStore)(nil)
	_ MessageStore      = (*PostgresStore)(nil)
)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "lostfound").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "lostfound",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const conversationCols = `id, item_id, participant_a, participant_b, deleted_by,
	last_message_id, last_message_at, last_message_seq, created_at, updated_at`

const messageCols = `id, conversation_id, seq, sender_id, receiver_id, content, read, read_at, created_at`

func (s *PostgresStore) FindOrCreate(ctx context.Context, in FindOrCreateInput) (Conversation, bool, error) {
	if in.ItemID == "" {
		return Conversation{}, false, ValidationError{Field: "itemId", Reason: "required"}
	}
	pair, err := NewParticipants(in.Participants[0], in.Participants[1])
	if err != nil {
		return Conversation{}, false, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, false, err
	}

	conversations := pgIdent(s.schema, "conversations")

	// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
	// xmax = 0 only for freshly inserted tuples.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` (id, item_id, participant_a, participant_b, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (item_id, participant_a, participant_b)
		 DO UPDATE SET item_id = EXCLUDED.item_id
		 RETURNING `+conversationCols+`, (xmax = 0) AS created`,
		id, in.ItemID, pair[0], pair[1], now,
	)

	var created bool
	c, err := scanConversation(row, &created)
	if err != nil {
		return Conversation{}, false, opErr("chat.FindOrCreate", err)
	}
	return c, created, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	conversations := pgIdent(s.schema, "conversations")
	row := s.pool.QueryRow(ctx, `SELECT `+conversationCols+` FROM `+conversations+` WHERE id = $1`, id)
	c, err := scanConversation(row, nil)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return Conversation{}, opErr("chat.GetConversation", err)
	}
	return c, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	conversations := pgIdent(s.schema, "conversations")
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationCols+`
		   FROM `+conversations+`
		  WHERE (participant_a = $1 OR participant_b = $1)
		    AND NOT ($1 = ANY(deleted_by))
		  ORDER BY last_message_at DESC NULLS LAST, updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, opErr("chat.ListForUser", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, 16)
	for rows.Next() {
		c, err := scanConversation(rows, nil)
		if err != nil {
			return nil, opErr("chat.ListForUser", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("chat.ListForUser", err)
	}
	return out, nil
}

func (s *PostgresStore) RecordMessage(ctx context.Context, m Message) error {
	conversations := pgIdent(s.schema, "conversations")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+conversations+`
		    SET last_message_id  = CASE WHEN $3 > last_message_seq THEN $2 ELSE last_message_id END,
		        last_message_at  = CASE WHEN $3 > last_message_seq THEN $4 ELSE last_message_at END,
		        last_message_seq = GREATEST(last_message_seq, $3),
		        deleted_by       = array_remove(array_remove(deleted_by, participant_a), participant_b),
		        updated_at       = GREATEST(updated_at, $4)
		  WHERE id = $1`,
		m.ConversationID, m.ID, m.Seq, m.CreatedAt,
	)
	if err != nil {
		return opErr("chat.RecordMessage", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Resource: "conversation", ID: m.ConversationID}
	}
	return nil
}

func (s *PostgresStore) Hide(ctx context.Context, conversationID, userID string) error {
	conversations := pgIdent(s.schema, "conversations")
	var ok bool
	err := s.pool.QueryRow(ctx,
		`UPDATE `+conversations+`
		    SET deleted_by = CASE WHEN $2 = ANY(deleted_by) THEN deleted_by ELSE array_append(deleted_by, $2) END
		  WHERE id = $1
		RETURNING ($2 = participant_a OR $2 = participant_b)`,
		conversationID, userID,
	).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundError{Resource: "conversation", ID: conversationID}
	}
	if err != nil {
		return opErr("chat.Hide", err)
	}
	if !ok {
		return ForbiddenError{Reason: "not a participant"}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if in.ConversationID == "" || in.SenderID == "" || in.ReceiverID == "" {
		return Message{}, errors.New("chat: invalid append input")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, opErr("chat.Append", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := pgIdent(s.schema, "conversations")
	messages := pgIdent(s.schema, "messages")

	// The row lock taken here serializes appends per conversation until commit.
	var (
		seq       int64
		createdAt time.Time
	)
	err = tx.QueryRow(ctx,
		`UPDATE `+conversations+`
		    SET next_seq  = next_seq + 1,
		        seq_clock = GREATEST(seq_clock, $2)
		  WHERE id = $1
		RETURNING next_seq - 1, seq_clock`,
		in.ConversationID, now,
	).Scan(&seq, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, NotFoundError{Resource: "conversation", ID: in.ConversationID}
	}
	if err != nil {
		return Message{}, opErr("chat.Append", fmt.Errorf("allocate seq: %w", err))
	}

	id, err := ids.NewULID(createdAt)
	if err != nil {
		return Message{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, seq, sender_id, receiver_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.ConversationID, seq, in.SenderID, in.ReceiverID, in.Content, createdAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return Message{}, ValidationError{Field: "content", Reason: "message too long"}
		}
		return Message{}, opErr("chat.Append", fmt.Errorf("insert message: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, opErr("chat.Append", err)
	}
	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            seq,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		CreatedAt:      createdAt,
	}, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	messages := pgIdent(s.schema, "messages")
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM `+messages+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, NotFoundError{Resource: "message", ID: id}
	}
	if err != nil {
		return Message{}, opErr("chat.GetMessage", err)
	}
	return m, nil
}

// List returns a window ordered by seq ASC. See Page for window selection.
func (s *PostgresStore) List(ctx context.Context, conversationID string, page Page) (ListResult, error) {
	if conversationID == "" {
		return ListResult{}, errors.New("chat: missing conversation id")
	}
	page = page.Normalize()
	messages := pgIdent(s.schema, "messages")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+messages+` WHERE conversation_id = $1`, conversationID,
	).Scan(&total); err != nil {
		return ListResult{}, opErr("chat.List", err)
	}

	var (
		rows pgx.Rows
		err  error
	)
	if page.AfterSeq != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageCols+`
			   FROM `+messages+`
			  WHERE conversation_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			conversationID, *page.AfterSeq, page.Limit+1,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageCols+`
			   FROM `+messages+`
			  WHERE conversation_id = $1
			  ORDER BY seq DESC
			  LIMIT $2 OFFSET $3`,
			conversationID, page.Limit, (page.Page-1)*page.Limit,
		)
	}
	if err != nil {
		return ListResult{}, opErr("chat.List", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, page.Limit+1)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return ListResult{}, opErr("chat.List", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, opErr("chat.List", err)
	}

	if page.AfterSeq != nil {
		hasMore := len(msgs) > page.Limit
		if hasMore {
			msgs = msgs[:page.Limit]
		}
		return ListResult{Messages: msgs, Total: total, HasMore: hasMore}, nil
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return ListResult{
		Messages: msgs,
		Total:    total,
		HasMore:  (page.Page-1)*page.Limit+len(msgs) < total,
	}, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	messages := pgIdent(s.schema, "messages")
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET read = true, read_at = $2
		  WHERE id = $1 AND NOT read
		RETURNING `+messageCols,
		messageID, at,
	))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, opErr("chat.MarkRead", err)
	}
	m, err = s.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, false, err
	}
	return m, false, nil
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`UPDATE `+messages+`
		    SET read = true, read_at = $3
		  WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read
		RETURNING id`,
		conversationID, readerID, at,
	)
	if err != nil {
		return nil, opErr("chat.MarkConversationRead", err)
	}
	changed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, opErr("chat.MarkConversationRead", err)
	}
	return changed, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	messages := pgIdent(s.schema, "messages")
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+messages+` WHERE receiver_id = $1 AND NOT read`, userID,
	).Scan(&n); err != nil {
		return 0, opErr("chat.UnreadCount", err)
	}
	return n, nil
}

func (s *PostgresStore) UnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, count(*)
		   FROM `+messages+`
		  WHERE receiver_id = $1 AND NOT read AND conversation_id = ANY($2)
		  GROUP BY conversation_id`,
		userID, conversationIDs,
	)
	if err != nil {
		return nil, opErr("chat.UnreadByConversation", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, opErr("chat.UnreadByConversation", err)
		}
		out[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("chat.UnreadByConversation", err)
	}
	return out, nil
}

func (s *PostgresStore) LatestByConversation(ctx context.Context, conversationIDs []string) (map[string]Message, error) {
	out := make(map[string]Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (conversation_id) `+messageCols+`
		   FROM `+messages+`
		  WHERE conversation_id = ANY($1)
		  ORDER BY conversation_id, seq DESC`,
		conversationIDs,
	)
	if err != nil {
		return nil, opErr("chat.LatestByConversation", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, opErr("chat.LatestByConversation", err)
		}
		out[m.ConversationID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("chat.LatestByConversation", err)
	}
	return out, nil
}

func scanConversation(row pgx.Row, created *bool) (Conversation, error) {
	var (
		c      Conversation
		lastID *string
	)
	dest := []any{
		&c.ID, &c.ItemID, &c.Participants[0], &c.Participants[1], &c.DeletedBy,
		&lastID, &c.LastMessageAt, &c.LastSeq, &c.CreatedAt, &c.UpdatedAt,
	}
	if created != nil {
		dest = append(dest, created)
	}
	if err := row.Scan(dest...); err != nil {
		return Conversation{}, err
	}
	if lastID != nil {
		c.LastMessageID = *lastID
	}
	return c, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.ReadAt, &m.CreatedAt)
	return m, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
