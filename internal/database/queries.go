package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/npezzotti/go-relay/internal/types"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200

	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	accountColumns = "id, username, email, password_hash, role, status, last_seen, password_changed_at, created_at, updated_at"

	messageSelect = "SELECT m.id, m.sender_id, m.receiver_id, m.body, m.media_url, m.media_type, m.media_name, " +
		"m.reply_to, m.status, m.seen_at, m.reactions, m.created_at, m.updated_at, " +
		"r.id, r.sender_id, r.body, r.media_type " +
		"FROM messages m LEFT JOIN messages r ON r.id = m.reply_to"
)

// ErrDuplicateAccount is returned when an account with the same email exists.
var ErrDuplicateAccount = errors.New("account already exists")

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (User, error) {
	var (
		u        User
		lastSeen sql.NullTime
	)

	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.Role,
		&u.Status,
		&lastSeen,
		&u.PasswordChangedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	u.LastSeen = lastSeen.Time
	return u, nil
}

func scanMessage(row scanner) (Message, error) {
	var (
		m             Message
		replyTo       sql.NullString
		seenAt        sql.NullTime
		reactions     []byte
		replyId       sql.NullString
		replySenderId sql.NullInt64
		replyBody     sql.NullString
		replyMedia    sql.NullString
	)

	err := row.Scan(
		&m.Id,
		&m.SenderId,
		&m.ReceiverId,
		&m.Body,
		&m.MediaUrl,
		&m.MediaType,
		&m.MediaName,
		&replyTo,
		&m.Status,
		&seenAt,
		&reactions,
		&m.CreatedAt,
		&m.UpdatedAt,
		&replyId,
		&replySenderId,
		&replyBody,
		&replyMedia,
	)
	if err != nil {
		return Message{}, err
	}

	m.ReplyToId = replyTo.String
	m.SeenAt = seenAt.Time

	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return Message{}, fmt.Errorf("decode reactions: %w", err)
		}
	}

	if replyId.Valid {
		m.ReplyTo = &ReplyPreview{
			Id:        replyId.String,
			SenderId:  int(replySenderId.Int64),
			Body:      replyBody.String,
			MediaType: replyMedia.String,
		}
	}

	return m, nil
}

func pqErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (db *PgRelayRepository) CreateAccount(accountParams CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, password_changed_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4, $4) RETURNING "+accountColumns,
		accountParams.Username,
		accountParams.EmailAddress,
		accountParams.PasswordHash,
		now,
	)

	u, err := scanAccount(row)
	if pqErrorCode(err) == pqUniqueViolation {
		return User{}, ErrDuplicateAccount
	}

	return u, err
}

func (db *PgRelayRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	if params.PasswordHash == "" {
		return scanAccount(db.conn.QueryRow(
			"UPDATE accounts SET username = $2, updated_at = $3 WHERE id = $1 RETURNING "+accountColumns,
			params.UserId,
			params.Username,
			time.Now().UTC(),
		))
	}

	return scanAccount(db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, password_changed_at = $4, updated_at = $4 "+
			"WHERE id = $1 RETURNING "+accountColumns,
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	))
}

func (db *PgRelayRepository) GetAccountById(id int) (User, error) {
	return scanAccount(db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		id,
	))
}

func (db *PgRelayRepository) GetAccountByEmail(email string) (User, error) {
	return scanAccount(db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1 LIMIT 1",
		email,
	))
}

func (db *PgRelayRepository) ListAccounts() ([]User, error) {
	rows, err := db.conn.Query("SELECT " + accountColumns + " FROM accounts ORDER BY username, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgRelayRepository) UpdateLastSeen(accountId int, lastSeen time.Time) error {
	res, err := db.conn.Exec(
		"UPDATE accounts SET last_seen = $2 WHERE id = $1",
		accountId,
		lastSeen,
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (db *PgRelayRepository) UpdateAccountStatus(accountId int, status string) (User, error) {
	return scanAccount(db.conn.QueryRow(
		"UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1 RETURNING "+accountColumns,
		accountId,
		status,
		time.Now().UTC(),
	))
}

func (db *PgRelayRepository) UpdateAccountRole(accountId int, role string) (User, error) {
	return scanAccount(db.conn.QueryRow(
		"UPDATE accounts SET role = $2, updated_at = $3 WHERE id = $1 RETURNING "+accountColumns,
		accountId,
		role,
		time.Now().UTC(),
	))
}

func (db *PgRelayRepository) UpdatePassword(accountId int, passwordHash string) error {
	res, err := db.conn.Exec(
		"UPDATE accounts SET password_hash = $2, password_changed_at = $3, updated_at = $3 WHERE id = $1",
		accountId,
		passwordHash,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (db *PgRelayRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	id := uuid.NewString()
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.conn.Exec(
		"INSERT INTO messages (id, sender_id, receiver_id, body, media_url, media_type, media_name, reply_to, status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)",
		id,
		params.SenderId,
		params.ReceiverId,
		params.Body,
		params.MediaUrl,
		params.MediaType,
		params.MediaName,
		sql.NullString{String: params.ReplyToId, Valid: params.ReplyToId != ""},
		types.StatusSent,
		createdAt,
	)
	if err != nil {
		if pqErrorCode(err) == pqForeignKeyViolation {
			return Message{}, fmt.Errorf("create message: %w", ErrNotFound)
		}
		return Message{}, err
	}

	return db.GetMessageById(id)
}

func (db *PgRelayRepository) GetMessageById(id string) (Message, error) {
	return scanMessage(db.conn.QueryRow(messageSelect+" WHERE m.id = $1", id))
}

func (db *PgRelayRepository) GetConversation(accountId, peerId int, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	query := messageSelect +
		" WHERE ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))"
	args := []any{accountId, peerId}
	if !before.IsZero() {
		query += " AND m.created_at < $3 ORDER BY m.created_at DESC, m.id DESC LIMIT $4"
		args = append(args, before, limit)
	} else {
		query += " ORDER BY m.created_at DESC, m.id DESC LIMIT $3"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRelayRepository) UpdateMessageStatus(id string, status types.MessageStatus, at time.Time) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET status = $2::smallint, "+
			"seen_at = CASE WHEN $2::smallint = 2 THEN $3::timestamptz ELSE seen_at END, "+
			"updated_at = $3::timestamptz "+
			"WHERE id = $1 AND status < $2::smallint",
		id,
		int(status),
		at,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (db *PgRelayRepository) MarkDelivered(receiverId int, at time.Time) ([]Message, error) {
	rows, err := db.conn.Query(
		"UPDATE messages SET status = $2, updated_at = $3 "+
			"WHERE receiver_id = $1 AND status = $4 "+
			"RETURNING id, sender_id, receiver_id, status, created_at",
		receiverId,
		types.StatusDelivered,
		at,
		types.StatusSent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Id, &m.SenderId, &m.ReceiverId, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(messages, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return messages, nil
}

func (db *PgRelayRepository) UpdateReactions(id string, reactions []types.Reaction) error {
	if reactions == nil {
		reactions = []types.Reaction{}
	}

	b, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}

	res, err := db.conn.Exec(
		"UPDATE messages SET reactions = $2::jsonb, updated_at = $3 WHERE id = $1",
		id,
		string(b),
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
