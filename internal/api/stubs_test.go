package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"example.com/schoolsync/internal/domain"
)

type stubDirectory struct {
	devices  map[string]domain.DeviceIdentity
	schools  map[string]domain.School
	students []domain.Student
	err      error
}

func (d *stubDirectory) DeviceByAuthKey(ctx context.Context, authKey string) (domain.DeviceIdentity, error) {
	if d.err != nil {
		return domain.DeviceIdentity{}, d.err
	}
	device, ok := d.devices[authKey]
	if !ok {
		return domain.DeviceIdentity{}, domain.ErrDeviceNotFound
	}
	return device, nil
}

func (d *stubDirectory) SchoolByRecognitionKey(ctx context.Context, key string) (domain.School, error) {
	if d.err != nil {
		return domain.School{}, d.err
	}
	school, ok := d.schools[key]
	if !ok {
		return domain.School{}, domain.ErrSchoolNotFound
	}
	return school, nil
}

func (d *stubDirectory) StudentByRoster(ctx context.Context, key domain.RosterKey) (domain.Student, error) {
	for _, s := range d.students {
		if s.SchoolID == key.SchoolID && s.Year == key.Year && s.Grade == key.Grade && s.ClassNo == key.ClassNo && s.StudentNo == key.StudentNo {
			return s, nil
		}
	}
	return domain.Student{}, domain.ErrStudentNotFound
}

func (d *stubDirectory) ListRoster(ctx context.Context, schoolID string, year, grade, classNo int) ([]domain.Student, error) {
	var out []domain.Student
	for _, s := range d.students {
		if s.SchoolID == schoolID && s.Year == year && s.Grade == grade && s.ClassNo == classNo {
			out = append(out, s)
		}
	}
	return out, nil
}

type stubExerciseStore struct {
	mu      sync.Mutex
	batches [][]domain.Submission
	records []domain.ExerciseRecord
	err     error
}

func (s *stubExerciseStore) UpsertSubmissions(ctx context.Context, subs []domain.Submission) (domain.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.UpsertStats{}, s.err
	}
	s.batches = append(s.batches, subs)
	return domain.UpsertStats{Inserted: len(subs)}, nil
}

func (s *stubExerciseStore) ListRecords(ctx context.Context, studentIDs []string, period int, categories []domain.Category) ([]domain.ExerciseRecord, error) {
	allowed := map[domain.Category]bool{}
	for _, c := range categories {
		allowed[c] = true
	}
	var out []domain.ExerciseRecord
	for _, rec := range s.records {
		if rec.Period == period && allowed[rec.Category] {
			out = append(out, rec)
		}
	}
	return out, nil
}

type stubObjectStore struct {
	objects []domain.AssetObject
	listErr error
	signErr map[string]bool
}

func (s *stubObjectStore) List(ctx context.Context, prefix string) ([]domain.AssetObject, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.AssetObject
	for _, obj := range s.objects {
		if len(obj.Path) > len(prefix) && obj.Path[:len(prefix)+1] == prefix+"/" {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *stubObjectStore) SignURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if s.signErr[path] {
		return "", errors.New("sign failed")
	}
	return fmt.Sprintf("https://cdn.test/%s?ttl=%d", path, int(ttl.Seconds())), nil
}

func ptr(v float64) *float64 { return &v }

const (
	testSchoolID  = "school-1"
	testAuthKey   = "device-key"
	testRecognize = "rk-1"
)

type fixture struct {
	dir     *stubDirectory
	store   *stubExerciseStore
	objects *stubObjectStore
	handler *Handler
}

func newFixture() *fixture {
	dir := &stubDirectory{
		devices: map[string]domain.DeviceIdentity{
			testAuthKey: {ID: "dev-1", SchoolID: testSchoolID, AuthKey: testAuthKey},
		},
		schools: map[string]domain.School{
			testRecognize: {ID: testSchoolID, Name: "Hanbit Elementary", RecognitionKey: testRecognize},
		},
		students: []domain.Student{
			{ID: "st-2", SchoolID: testSchoolID, Year: 2024, Grade: 3, ClassNo: 1, StudentNo: 2, Name: "Lee"},
			{ID: "st-1", SchoolID: testSchoolID, Year: 2024, Grade: 3, ClassNo: 1, StudentNo: 1, Name: "Kim"},
		},
	}
	store := &stubExerciseStore{}
	objects := &stubObjectStore{
		objects: []domain.AssetObject{
			{Path: "devices/device-key/a.png", Name: "a.png", UpdatedAt: "2024-05-01T00:00:00Z"},
			{Path: "devices/device-key/a.png.thumb.webp", Name: "a.png.thumb.webp", UpdatedAt: "2024-05-01T00:00:00Z"},
			{Path: "devices/device-key/b.png", Name: "b.png", UpdatedAt: "2024-05-02T00:00:00Z"},
			{Path: "devices/other/c.png", Name: "c.png", UpdatedAt: "2024-05-02T00:00:00Z"},
		},
	}

	quiet := log.New(io.Discard, "", 0)
	fixed := func() time.Time { return time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC) }
	handler := NewHandler(
		domain.NewSyncService(dir, objects, domain.WithSyncLogger(quiet), domain.WithClock(fixed)),
		domain.NewIngestService(dir, store, domain.WithIngestLogger(quiet)),
		domain.NewReportService(dir, store),
		domain.NewDeviceService(dir),
	)
	return &fixture{dir: dir, store: store, objects: objects, handler: handler}
}
