// Package postgres implements the relational stores on top of pgx.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/schoolsync/internal/domain"
)

// Directory looks up devices, schools and rosters.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs a Directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// DeviceByAuthKey returns the device registered under authKey.
func (d *Directory) DeviceByAuthKey(ctx context.Context, authKey string) (domain.DeviceIdentity, error) {
	const query = `SELECT id::text, school_id::text, auth_key FROM school_devices WHERE auth_key = $1`

	var device domain.DeviceIdentity
	err := d.pool.QueryRow(ctx, query, authKey).Scan(&device.ID, &device.SchoolID, &device.AuthKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DeviceIdentity{}, domain.ErrDeviceNotFound
	}
	return device, err
}

// SchoolByRecognitionKey returns the school registered under recognitionKey.
func (d *Directory) SchoolByRecognitionKey(ctx context.Context, recognitionKey string) (domain.School, error) {
	const query = `SELECT id::text, name, recognition_key FROM schools WHERE recognition_key = $1`

	var school domain.School
	err := d.pool.QueryRow(ctx, query, recognitionKey).Scan(&school.ID, &school.Name, &school.RecognitionKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.School{}, domain.ErrSchoolNotFound
	}
	return school, err
}

const studentColumns = `id::text, school_id::text, year, grade, class_no, student_no, name, gender, height_cm::float8, weight_kg::float8`

// StudentByRoster returns the student at the given roster coordinates.
func (d *Directory) StudentByRoster(ctx context.Context, key domain.RosterKey) (domain.Student, error) {
	query := `SELECT ` + studentColumns + `
        FROM students
        WHERE school_id = $1::uuid AND year = $2 AND grade = $3 AND class_no = $4 AND student_no = $5`

	student, err := scanStudent(d.pool.QueryRow(ctx, query, key.SchoolID, key.Year, key.Grade, key.ClassNo, key.StudentNo))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	return student, err
}

// ListRoster returns a class ordered by student number.
func (d *Directory) ListRoster(ctx context.Context, schoolID string, year, grade, classNo int) ([]domain.Student, error) {
	query := `SELECT ` + studentColumns + `
        FROM students
        WHERE school_id = $1::uuid AND year = $2 AND grade = $3 AND class_no = $4
        ORDER BY student_no`

	rows, err := d.pool.Query(ctx, query, schoolID, year, grade, classNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := make([]domain.Student, 0)
	for rows.Next() {
		student, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

func scanStudent(row pgx.Row) (domain.Student, error) {
	var s domain.Student
	err := row.Scan(&s.ID, &s.SchoolID, &s.Year, &s.Grade, &s.ClassNo, &s.StudentNo, &s.Name, &s.Gender, &s.HeightCM, &s.WeightKG)
	return s, err
}
