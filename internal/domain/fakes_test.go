package domain

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"
)

var quietLogger = log.New(io.Discard, "", 0)

type fakeDirectory struct {
	devices    map[string]DeviceIdentity
	schools    map[string]School
	students   []Student
	err        error
	rosterHits int
}

func (d *fakeDirectory) DeviceByAuthKey(ctx context.Context, authKey string) (DeviceIdentity, error) {
	if d.err != nil {
		return DeviceIdentity{}, d.err
	}
	if device, ok := d.devices[authKey]; ok {
		return device, nil
	}
	return DeviceIdentity{}, ErrDeviceNotFound
}

func (d *fakeDirectory) SchoolByRecognitionKey(ctx context.Context, key string) (School, error) {
	if d.err != nil {
		return School{}, d.err
	}
	if school, ok := d.schools[key]; ok {
		return school, nil
	}
	return School{}, ErrSchoolNotFound
}

func (d *fakeDirectory) StudentByRoster(ctx context.Context, key RosterKey) (Student, error) {
	d.rosterHits++
	for _, s := range d.students {
		if s.SchoolID == key.SchoolID && s.Year == key.Year && s.Grade == key.Grade && s.ClassNo == key.ClassNo && s.StudentNo == key.StudentNo {
			return s, nil
		}
	}
	return Student{}, ErrStudentNotFound
}

func (d *fakeDirectory) ListRoster(ctx context.Context, schoolID string, year, grade, classNo int) ([]Student, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []Student
	for _, s := range d.students {
		if s.SchoolID == schoolID && s.Year == year && s.Grade == grade && s.ClassNo == classNo {
			out = append(out, s)
		}
	}
	return out, nil
}

// memoryExerciseStore keeps a submission ledger keyed by idempotency key and
// folds it into records on read, mirroring the Postgres store.
type memoryExerciseStore struct {
	mu     sync.Mutex
	ledger map[string]Submission
	calls  int
	err    error
}

func newMemoryExerciseStore() *memoryExerciseStore {
	return &memoryExerciseStore{ledger: map[string]Submission{}}
}

func (s *memoryExerciseStore) UpsertSubmissions(ctx context.Context, subs []Submission) (UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return UpsertStats{}, s.err
	}
	var stats UpsertStats
	for _, sub := range subs {
		prev, ok := s.ledger[sub.IdempotencyKey]
		switch {
		case !ok:
			stats.Inserted++
		case equalSubmission(prev, sub):
			stats.Unchanged++
		default:
			stats.Updated++
		}
		s.ledger[sub.IdempotencyKey] = sub
	}
	return stats, nil
}

func (s *memoryExerciseStore) ListRecords(ctx context.Context, studentIDs []string, period int, categories []Category) ([]ExerciseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wantStudent := map[string]bool{}
	for _, id := range studentIDs {
		wantStudent[id] = true
	}
	wantCategory := map[Category]bool{}
	for _, c := range categories {
		wantCategory[c] = true
	}

	type rowKey struct {
		student  string
		category Category
		kind     RecordKind
	}
	folds := map[rowKey]*[MonthsPerYear]Fold{}
	for _, sub := range s.ledger {
		if !wantStudent[sub.StudentID] || !wantCategory[sub.Category] || sub.Period != period {
			continue
		}
		for _, kind := range RecordKinds {
			key := rowKey{sub.StudentID, sub.Category, kind}
			months, ok := folds[key]
			if !ok {
				months = &[MonthsPerYear]Fold{}
				for i := range months {
					months[i] = kind.NewFold()
				}
				folds[key] = months
			}
			var v *float64
			switch kind {
			case KindDuration:
				if sub.DurationSeconds != nil {
					minutes := *sub.DurationSeconds / 60
					v = &minutes
				}
			case KindAvgHeartRate:
				v = sub.AvgBPM
			case KindPeakHeartRate:
				v = sub.MaxBPM
			}
			months[sub.Month-1].Add(v)
		}
	}

	var out []ExerciseRecord
	for key, months := range folds {
		rec := ExerciseRecord{StudentID: key.student, Category: key.category, Kind: key.kind, Period: period}
		for i, f := range months {
			rec.Months[i] = f.Value()
		}
		out = append(out, rec)
	}
	return out, nil
}

func equalSubmission(a, b Submission) bool {
	eq := func(x, y *float64) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	return a.StudentID == b.StudentID && a.Category == b.Category && a.Period == b.Period && a.Month == b.Month &&
		eq(a.DurationSeconds, b.DurationSeconds) && eq(a.Accuracy, b.Accuracy) && eq(a.AvgBPM, b.AvgBPM) &&
		eq(a.MaxBPM, b.MaxBPM) && eq(a.Calories, b.Calories)
}

type fakeObjectStore struct {
	mu       sync.Mutex
	objects  []AssetObject
	listErr  error
	failSign map[string]bool
	prefixes []string
}

func (s *fakeObjectStore) List(ctx context.Context, prefix string) ([]AssetObject, error) {
	s.mu.Lock()
	s.prefixes = append(s.prefixes, prefix)
	s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]AssetObject(nil), s.objects...), nil
}

func (s *fakeObjectStore) SignURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if s.failSign[path] {
		return "", errors.New("signing backend timeout")
	}
	return "https://signed.test/" + path, nil
}

func f64(v float64) *float64 { return &v }
