package attendance

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Directory answers whether an id belongs to a teacher.
type Directory interface {
	IsTeacher(ctx context.Context, id string) (bool, error)
}

// Teacher is a directory entry.
type Teacher struct {
	ID        string    `json:"teacher_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TeacherRepository is the teachers table in Postgres.
type TeacherRepository struct {
	db *sql.DB
}

func NewTeacherRepository(db *sql.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

func (r *TeacherRepository) IsTeacher(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM teachers WHERE teacher_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, pkgerrors.Wrap(err, "lookup teacher")
	}
	return exists, nil
}

// UpsertTeacher creates a teacher or renames an existing one.
func (r *TeacherRepository) UpsertTeacher(ctx context.Context, id, name string) error {
	if id == "" {
		return errors.New("teacher id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teachers (teacher_id, name)
		VALUES ($1, $2)
		ON CONFLICT (teacher_id) DO UPDATE SET name = EXCLUDED.name
	`, id, name)
	return pkgerrors.Wrap(err, "upsert teacher")
}

// GetTeacher returns nil when the teacher does not exist.
func (r *TeacherRepository) GetTeacher(ctx context.Context, id string) (*Teacher, error) {
	var t Teacher
	err := r.db.QueryRowContext(ctx, `
		SELECT teacher_id, name, created_at FROM teachers WHERE teacher_id = $1
	`, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get teacher")
	}
	return &t, nil
}

func (r *TeacherRepository) ListTeachers(ctx context.Context) ([]Teacher, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT teacher_id, name, created_at FROM teachers ORDER BY teacher_id`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list teachers")
	}
	defer rows.Close()

	var out []Teacher
	for rows.Next() {
		var t Teacher
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "scan teacher")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MemoryDirectory is an in-process teacher set.
type MemoryDirectory struct {
	mu       sync.RWMutex
	teachers map[string]Teacher
}

func NewMemoryDirectory(ids ...string) *MemoryDirectory {
	d := &MemoryDirectory{teachers: make(map[string]Teacher)}
	for _, id := range ids {
		d.teachers[id] = Teacher{ID: id, CreatedAt: time.Now().UTC()}
	}
	return d
}

func (d *MemoryDirectory) IsTeacher(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.teachers[id]
	return ok, nil
}

func (d *MemoryDirectory) UpsertTeacher(_ context.Context, id, name string) error {
	if id == "" {
		return errors.New("teacher id required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.teachers[id]
	if !ok {
		t = Teacher{ID: id, CreatedAt: time.Now().UTC()}
	}
	t.Name = name
	d.teachers[id] = t
	return nil
}

// GetTeacher returns nil when the teacher does not exist.
func (d *MemoryDirectory) GetTeacher(_ context.Context, id string) (*Teacher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.teachers[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (d *MemoryDirectory) ListTeachers(_ context.Context) ([]Teacher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Teacher, 0, len(d.teachers))
	for _, t := range d.teachers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
