package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection pool. Connections are acquired per
// query by database/sql and released when rows close; no call holds a
// connection beyond one statement.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic
// vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 384

// Citizen is a registered resident interacting with the service.
type Citizen struct {
	ID        int64
	Name      string
	Email     string
	Phone     sql.NullString
	CreatedAt time.Time
}

// Session binds a citizen to an opaque token issued at login.
type Session struct {
	ID        int64
	CitizenID int64
	Token     string
	CreatedAt time.Time
}

// FaqEntry is one curated question/answer pair.
type FaqEntry struct {
	ID        int64
	Question  string
	Answer    string
	CreatedAt time.Time
}

// RetrievedDocument is a knowledge-base hit from the vector index. Distance
// is the pgvector cosine distance; smaller means more relevant.
type RetrievedDocument struct {
	ID       int64
	Filename string
	Content  string
	Distance float64
}

// Exchange is one logged question/answer turn with its confidence score.
type Exchange struct {
	ID         int64
	SessionID  int64
	Question   string
	Answer     string
	Confidence float64
	CreatedAt  time.Time
}

// StaffUser is a municipal employee with console access.
type StaffUser struct {
	ID           int64
	Email        string
	PasswordHash string
}

// NewWithDSN opens the Postgres pool and verifies connectivity.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Citizen operations

// CreateCitizen inserts a citizen and returns its id.
func (s *Store) CreateCitizen(ctx context.Context, name, email, phone string) (int64, error) {
	var id int64
	var ph interface{}
	if phone != "" {
		ph = phone
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO citizens (name, email, phone)
VALUES ($1,$2,$3)
RETURNING id
`, name, email, ph).Scan(&id)
	return id, err
}

// GetCitizenByEmail looks a citizen up by email. Returns sql.ErrNoRows when
// absent.
func (s *Store) GetCitizenByEmail(ctx context.Context, email string) (Citizen, error) {
	var c Citizen
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, email, phone, created_at FROM citizens WHERE email = $1
`, email).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	return c, err
}

// Session operations

// CreateSession records a new session token for a citizen and returns the
// session id.
func (s *Store) CreateSession(ctx context.Context, citizenID int64, token string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO sessions (citizen_id, token)
VALUES ($1,$2)
RETURNING id
`, citizenID, token).Scan(&id)
	return id, err
}

// GetSessionByToken resolves a session token. Returns sql.ErrNoRows when the
// token is unknown.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	var sess Session
	err := s.DB.QueryRowContext(ctx, `
SELECT id, citizen_id, token, created_at FROM sessions WHERE token = $1
`, token).Scan(&sess.ID, &sess.CitizenID, &sess.Token, &sess.CreatedAt)
	return sess, err
}

// FAQ operations

// RecentFaqs returns the newest FAQ entries, most recent first.
func (s *Store) RecentFaqs(ctx context.Context, limit int) ([]FaqEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, question, answer, created_at FROM faqs
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FaqEntry
	for rows.Next() {
		var f FaqEntry
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateFaq inserts a FAQ entry and returns its id.
func (s *Store) CreateFaq(ctx context.Context, question, answer string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO faqs (question, answer)
VALUES ($1,$2)
RETURNING id
`, question, answer).Scan(&id)
	return id, err
}

// DeleteFaq removes a FAQ entry.
func (s *Store) DeleteFaq(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM faqs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Document operations

// SearchDocuments returns the topK nearest documents to the query vector,
// ascending by cosine distance.
func (s *Store) SearchDocuments(ctx context.Context, vector []float32, topK int) ([]RetrievedDocument, error) {
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, filename, content, embedding <=> $1::vector AS distance
FROM documents
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RetrievedDocument
	for rows.Next() {
		var d RetrievedDocument
		if err := rows.Scan(&d.ID, &d.Filename, &d.Content, &d.Distance); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDocument inserts or replaces an ingested document keyed by filename.
func (s *Store) UpsertDocument(ctx context.Context, filename, kind, content string, vector []float32) error {
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO documents (filename, kind, content, embedding)
VALUES ($1,$2,$3,$4::vector)
ON CONFLICT (filename) DO UPDATE SET
  kind = EXCLUDED.kind,
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  updated_at = NOW()
`, filename, kind, content, vecLiteral)
	return err
}

// Exchange log

// LogExchange persists one answered turn.
func (s *Store) LogExchange(ctx context.Context, sessionID int64, question, answer string, confidence float64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO exchanges (session_id, question, answer, confidence)
VALUES ($1,$2,$3,$4)
`, sessionID, question, answer, confidence)
	return err
}

// ExchangesBySession returns a session's transcript, oldest first.
func (s *Store) ExchangesBySession(ctx context.Context, sessionID int64, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, question, answer, confidence, created_at FROM exchanges
WHERE session_id = $1
ORDER BY created_at ASC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Question, &e.Answer, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LowConfidenceExchanges returns recent turns whose confidence fell below
// the threshold, newest first. The staff console uses it to review handovers.
func (s *Store) LowConfidenceExchanges(ctx context.Context, threshold float64, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, question, answer, confidence, created_at FROM exchanges
WHERE confidence < $1
ORDER BY created_at DESC
LIMIT $2
`, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Question, &e.Answer, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Staff operations

// GetStaffByEmail resolves a staff account for console login.
func (s *Store) GetStaffByEmail(ctx context.Context, email string) (StaffUser, error) {
	var u StaffUser
	err := s.DB.QueryRowContext(ctx, `
SELECT id, email, password_hash FROM staff_users WHERE email = $1
`, email).Scan(&u.ID, &u.Email, &u.PasswordHash)
	return u, err
}

// CreateStaffUser inserts a staff account with a pre-hashed password.
func (s *Store) CreateStaffUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO staff_users (email, password_hash) VALUES ($1,$2)
`, email, passwordHash)
	return err
}

// encodeVectorLiteral renders a float32 slice in pgvector's textual input
// format, e.g. [0.1,0.2].
func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
