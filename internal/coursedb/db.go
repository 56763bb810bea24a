// Package coursedb stores course structure and chat history in SQLite.
//
// It uses modernc.org/sqlite, a pure Go driver, so no cgo toolchain is
// needed to build or deploy.
package coursedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when a course or unit id has no row.
var ErrNotFound = errors.New("coursedb: not found")

// Course is one taught course; lectures and documents are linked to it.
type Course struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Unit is one ordered section of a course syllabus.
type Unit struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position"`
}

// Topic is one entry under a unit.
type Topic struct {
	ID          string `json:"id"`
	UnitID      string `json:"unit_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position"`
}

// ChatMessage is one stored turn of a chat session.
type ChatMessage struct {
	MessageID int64  `json:"message_id"`
	Role      string `json:"role"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ChatSession groups the messages exchanged for one course and user.
type ChatSession struct {
	SessionID string        `json:"session_id"`
	CourseID  string        `json:"course_id"`
	UserID    string        `json:"user_id,omitempty"`
	CreatedAt string        `json:"created_at"`
	Messages  []ChatMessage `json:"messages"`
}

// DB wraps the SQLite connection and schema.
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS course_lectures (
    course_id TEXT NOT NULL,
    lecture_id TEXT NOT NULL,
    PRIMARY KEY (course_id, lecture_id),
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS course_documents (
    course_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    PRIMARY KEY (course_id, document_id),
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS course_units (
    id TEXT PRIMARY KEY,
    course_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    position INTEGER DEFAULT 0,
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS course_topics (
    id TEXT PRIMARY KEY,
    unit_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    position INTEGER DEFAULT 0,
    FOREIGN KEY(unit_id) REFERENCES course_units(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS chat_sessions (
    id TEXT PRIMARY KEY,
    course_id TEXT NOT NULL,
    user_id TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(course_id) REFERENCES courses(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    message TEXT NOT NULL,
    source TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
);
`

// Open opens (and creates when needed) the course database at dbPath.
// An empty path defaults to data/app.db. WAL mode keeps readers from
// blocking the download worker's writes.
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		dbPath = filepath.Join("data", "app.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// CreateCourse inserts a new course row.
func (d *DB) CreateCourse(ctx context.Context, courseID, name string) error {
	_, err := d.db.ExecContext(ctx, "INSERT INTO courses (id, name) VALUES (?, ?)", courseID, name)
	if err != nil {
		return fmt.Errorf("create course %s: %w", courseID, err)
	}
	return nil
}

// Course fetches one course by id.
func (d *DB) Course(ctx context.Context, courseID string) (Course, error) {
	var course Course
	err := d.db.QueryRowContext(ctx, "SELECT id, name FROM courses WHERE id = ?", courseID).
		Scan(&course.ID, &course.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	if err != nil {
		return Course{}, fmt.Errorf("get course %s: %w", courseID, err)
	}
	return course, nil
}

// ListCourses returns all courses ordered by name.
func (d *DB) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, name FROM courses ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()
	var courses []Course
	for rows.Next() {
		var course Course
		if err := rows.Scan(&course.ID, &course.Name); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

// LinkLecture records a lecture as belonging to a course. Re-linking is
// a no-op.
func (d *DB) LinkLecture(ctx context.Context, courseID, lectureID string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO course_lectures (course_id, lecture_id) VALUES (?, ?)",
		courseID, lectureID)
	if err != nil {
		return fmt.Errorf("link lecture %s: %w", lectureID, err)
	}
	return nil
}

// LinkDocument records a document as belonging to a course.
func (d *DB) LinkDocument(ctx context.Context, courseID, documentID string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO course_documents (course_id, document_id) VALUES (?, ?)",
		courseID, documentID)
	if err != nil {
		return fmt.Errorf("link document %s: %w", documentID, err)
	}
	return nil
}

// LecturesForCourse lists linked lecture ids in lexical order.
func (d *DB) LecturesForCourse(ctx context.Context, courseID string) ([]string, error) {
	return d.listLinked(ctx,
		"SELECT lecture_id FROM course_lectures WHERE course_id = ? ORDER BY lecture_id", courseID)
}

// DocumentsForCourse lists linked document ids in lexical order.
func (d *DB) DocumentsForCourse(ctx context.Context, courseID string) ([]string, error) {
	return d.listLinked(ctx,
		"SELECT document_id FROM course_documents WHERE course_id = ? ORDER BY document_id", courseID)
}

func (d *DB) listLinked(ctx context.Context, query, courseID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("list linked ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUnit inserts a syllabus unit.
func (d *DB) CreateUnit(ctx context.Context, unit Unit) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO course_units (id, course_id, title, description, position) VALUES (?, ?, ?, ?, ?)",
		unit.ID, unit.CourseID, unit.Title, unit.Description, unit.Position)
	if err != nil {
		return fmt.Errorf("create unit %s: %w", unit.ID, err)
	}
	return nil
}

// ListUnits returns a course's units ordered by position then title.
func (d *DB) ListUnits(ctx context.Context, courseID string) ([]Unit, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, course_id, title, COALESCE(description, ''), position FROM course_units WHERE course_id = ? ORDER BY position, title",
		courseID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()
	var units []Unit
	for rows.Next() {
		var unit Unit
		if err := rows.Scan(&unit.ID, &unit.CourseID, &unit.Title, &unit.Description, &unit.Position); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// Unit fetches one unit by id.
func (d *DB) Unit(ctx context.Context, unitID string) (Unit, error) {
	var unit Unit
	err := d.db.QueryRowContext(ctx,
		"SELECT id, course_id, title, COALESCE(description, ''), position FROM course_units WHERE id = ?",
		unitID).
		Scan(&unit.ID, &unit.CourseID, &unit.Title, &unit.Description, &unit.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return Unit{}, ErrNotFound
	}
	if err != nil {
		return Unit{}, fmt.Errorf("get unit %s: %w", unitID, err)
	}
	return unit, nil
}

// CreateTopic inserts a topic under an existing unit.
func (d *DB) CreateTopic(ctx context.Context, topic Topic) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO course_topics (id, unit_id, title, description, position) VALUES (?, ?, ?, ?, ?)",
		topic.ID, topic.UnitID, topic.Title, topic.Description, topic.Position)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic.ID, err)
	}
	return nil
}

// ListTopics returns a unit's topics ordered by position then title.
func (d *DB) ListTopics(ctx context.Context, unitID string) ([]Topic, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, unit_id, title, COALESCE(description, ''), position FROM course_topics WHERE unit_id = ? ORDER BY position, title",
		unitID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()
	var topics []Topic
	for rows.Next() {
		var topic Topic
		if err := rows.Scan(&topic.ID, &topic.UnitID, &topic.Title, &topic.Description, &topic.Position); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// GetOrCreateChatSession returns the newest session for a course/user
// pair, creating one when none exists. An empty userID means an
// anonymous session.
func (d *DB) GetOrCreateChatSession(ctx context.Context, courseID, userID string) (string, error) {
	user := sql.NullString{String: userID, Valid: userID != ""}
	var sessionID string
	err := d.db.QueryRowContext(ctx,
		`SELECT id FROM chat_sessions
		 WHERE course_id = ? AND ((? IS NULL AND user_id IS NULL) OR user_id = ?)
		 ORDER BY created_at DESC LIMIT 1`,
		courseID, user, user).Scan(&sessionID)
	if err == nil {
		return sessionID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find chat session: %w", err)
	}
	now := time.Now()
	sessionID = "session_" + now.Format("20060102_150405.000000")
	_, err = d.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (id, course_id, user_id, created_at) VALUES (?, ?, ?, ?)",
		sessionID, courseID, user, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("create chat session: %w", err)
	}
	return sessionID, nil
}

// AddChatMessage appends one turn to a session.
func (d *DB) AddChatMessage(ctx context.Context, sessionID, role, message, source string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO chat_messages (session_id, role, message, source, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, role, message,
		sql.NullString{String: source, Valid: source != ""},
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add chat message: %w", err)
	}
	return nil
}

// ChatHistory returns a course's sessions with their messages in
// chronological order. An empty userID returns every session for the
// course.
func (d *DB) ChatHistory(ctx context.Context, courseID, userID string) ([]ChatSession, error) {
	query := `SELECT s.id, s.course_id, COALESCE(s.user_id, ''), s.created_at,
		m.id, m.role, m.message, COALESCE(m.source, ''), m.created_at
		FROM chat_sessions s
		LEFT JOIN chat_messages m ON m.session_id = s.id
		WHERE s.course_id = ?`
	args := []any{courseID}
	if userID != "" {
		query += " AND s.user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY s.created_at ASC, m.created_at ASC, m.id ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var sessions []ChatSession
	index := map[string]int{}
	for rows.Next() {
		var (
			session   ChatSession
			messageID sql.NullInt64
			role      sql.NullString
			message   sql.NullString
			source    sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&session.SessionID, &session.CourseID, &session.UserID, &session.CreatedAt,
			&messageID, &role, &message, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		pos, seen := index[session.SessionID]
		if !seen {
			session.Messages = []ChatMessage{}
			sessions = append(sessions, session)
			pos = len(sessions) - 1
			index[session.SessionID] = pos
		}
		if messageID.Valid {
			sessions[pos].Messages = append(sessions[pos].Messages, ChatMessage{
				MessageID: messageID.Int64,
				Role:      role.String,
				Message:   message.String,
				Source:    source.String,
				CreatedAt: createdAt.String,
			})
		}
	}
	return sessions, rows.Err()
}
