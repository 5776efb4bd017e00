package domain

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"example.com/schoolsync/internal/observability"
)

// MonthsPerYear is the number of monthly slots in a record.
const MonthsPerYear = 12

// ExerciseRecord is one persisted row of monthly values for a student,
// category and record kind within a school year.
type ExerciseRecord struct {
	StudentID string
	Category  Category
	Kind      RecordKind
	Period    int
	Months    [MonthsPerYear]*float64
}

// CategoryFilter selects which categories a report folds together. The zero
// value selects every category.
type CategoryFilter struct {
	Category Category
}

// AllCategories is the filter matching every category.
var AllCategories = CategoryFilter{}

// ParseCategoryFilter parses the category_type parameter. An empty value
// defaults to strength.
func ParseCategoryFilter(raw string) (CategoryFilter, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return CategoryFilter{Category: CategoryStrength}, nil
	case "all":
		return AllCategories, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || !Category(n).Valid() {
		return CategoryFilter{}, fmt.Errorf("category_type must be 1, 2, 3 or all")
	}
	return CategoryFilter{Category: Category(n)}, nil
}

// All reports whether the filter matches every category.
func (f CategoryFilter) All() bool {
	return f.Category == 0
}

// Categories returns the categories the filter matches.
func (f CategoryFilter) Categories() []Category {
	if f.All() {
		return Categories
	}
	return []Category{f.Category}
}

// RosterQuery identifies one class report.
type RosterQuery struct {
	SchoolID string
	Grade    int
	ClassNo  int
	Year     int
	Filter   CategoryFilter
}

// AggregatedRow is one student's report line.
type AggregatedRow struct {
	StudentID string
	StudentNo int
	Name      string
	Minutes   [MonthsPerYear]*float64
	AvgBPM    [MonthsPerYear]*float64
	MaxBPM    [MonthsPerYear]*float64
}

// ReportService builds the roster-by-month report.
type ReportService struct {
	dir   Directory
	store ExerciseStore
}

// NewReportService constructs a ReportService.
func NewReportService(dir Directory, store ExerciseStore) *ReportService {
	return &ReportService{dir: dir, store: store}
}

// Aggregate returns one row per rostered student ordered by student number.
func (s *ReportService) Aggregate(ctx context.Context, q RosterQuery) ([]AggregatedRow, error) {
	start := time.Now()
	defer func() { observability.ObserveReport(time.Since(start)) }()

	students, err := s.dir.ListRoster(ctx, q.SchoolID, q.Year, q.Grade, q.ClassNo)
	if err != nil {
		return nil, unavailable("list roster", err)
	}
	if len(students) == 0 {
		return []AggregatedRow{}, nil
	}
	sort.SliceStable(students, func(i, j int) bool { return students[i].StudentNo < students[j].StudentNo })

	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}

	records, err := s.store.ListRecords(ctx, ids, q.Year, q.Filter.Categories())
	if err != nil {
		return nil, unavailable("list exercise records", err)
	}
	return FoldRecords(students, records), nil
}

// FoldRecords reduces records into per-student series. Students keep the
// order given; records for students not in the roster are ignored.
func FoldRecords(students []Student, records []ExerciseRecord) []AggregatedRow {
	type cellFolds map[RecordKind]*[MonthsPerYear]Fold

	folds := make(map[string]cellFolds, len(students))
	for _, st := range students {
		byKind := make(cellFolds, len(RecordKinds))
		for _, kind := range RecordKinds {
			var months [MonthsPerYear]Fold
			for i := range months {
				months[i] = kind.NewFold()
			}
			byKind[kind] = &months
		}
		folds[st.ID] = byKind
	}

	for _, rec := range records {
		byKind, ok := folds[rec.StudentID]
		if !ok {
			continue
		}
		months, ok := byKind[rec.Kind]
		if !ok {
			continue
		}
		for i, v := range rec.Months {
			months[i].Add(v)
		}
	}

	rows := make([]AggregatedRow, 0, len(students))
	for _, st := range students {
		row := AggregatedRow{StudentID: st.ID, StudentNo: st.StudentNo, Name: st.Name}
		byKind := folds[st.ID]
		for i := 0; i < MonthsPerYear; i++ {
			row.Minutes[i] = byKind[KindDuration][i].Value()
			row.AvgBPM[i] = byKind[KindAvgHeartRate][i].Value()
			row.MaxBPM[i] = byKind[KindPeakHeartRate][i].Value()
		}
		rows = append(rows, row)
	}
	return rows
}
