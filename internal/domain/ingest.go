package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/schoolsync/internal/observability"
)

// RawIngestItem is a submission exactly as a device sent it.
type RawIngestItem struct {
	IdempotencyKey     Text   `json:"idempotency_key"`
	RecognitionKey     Text   `json:"recognition_key"`
	Year               Number `json:"year"`
	Grade              Number `json:"grade"`
	ClassNo            Number `json:"class_no"`
	StudentNo          Number `json:"student_no"`
	ExerciseType       Text   `json:"exercise_type"`
	Month              Number `json:"month"`
	AvgDurationSeconds Number `json:"avg_duration_seconds"`
	AvgAccuracy        Number `json:"avg_accuracy"`
	AvgBPM             Number `json:"avg_bpm"`
	AvgMaxBPM          Number `json:"avg_max_bpm"`
	AvgCalories        Number `json:"avg_calories"`
}

// IngestItem is a validated submission. Roster coordinates are only
// required to be whole numbers; a coordinate that matches no student fails
// resolution instead. Metric values are stored as sent, sentinels included.
type IngestItem struct {
	IdempotencyKey     string   `json:"idempotency_key" validate:"required,max=256"`
	RecognitionKey     string   `json:"recognition_key" validate:"required"`
	Year               int      `json:"year"`
	Grade              int      `json:"grade"`
	ClassNo            int      `json:"class_no"`
	StudentNo          int      `json:"student_no"`
	ExerciseType       string   `json:"exercise_type" validate:"oneof=strength endurance flexibility"`
	Month              int      `json:"month" validate:"gte=1,lte=12"`
	AvgDurationSeconds *float64 `json:"avg_duration_seconds"`
	AvgAccuracy        *float64 `json:"avg_accuracy"`
	AvgBPM             *float64 `json:"avg_bpm"`
	AvgMaxBPM          *float64 `json:"avg_max_bpm"`
	AvgCalories        *float64 `json:"avg_calories"`
}

// Submission is a validated item resolved to a student and school year.
type Submission struct {
	IdempotencyKey  string
	SchoolID        string
	StudentID       string
	Category        Category
	Period          int
	Month           int
	DurationSeconds *float64
	Accuracy        *float64
	AvgBPM          *float64
	MaxBPM          *float64
	Calories        *float64
}

// UpsertStats reports how a batch of submissions landed.
type UpsertStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// ExerciseStore persists submissions and reads back the monthly rows.
type ExerciseStore interface {
	// UpsertSubmissions writes every submission atomically, keyed by
	// idempotency key, and refreshes the affected monthly cells.
	UpsertSubmissions(ctx context.Context, subs []Submission) (UpsertStats, error)
	ListRecords(ctx context.Context, studentIDs []string, period int, categories []Category) ([]ExerciseRecord, error)
}

// SchoolYear returns the school year a calendar month belongs to. January
// and February close the previous school year.
func SchoolYear(year, month int) int {
	if month == 1 || month == 2 {
		return year - 1
	}
	return year
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateIngestItem coerces and checks a raw item. index is reported in
// the error; pass -1 for single submissions.
func ValidateIngestItem(raw RawIngestItem, index int) (IngestItem, error) {
	fail := func(field, format string, args ...any) (IngestItem, error) {
		return IngestItem{}, &ValidationError{Index: index, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	required := []struct {
		field string
		set   bool
	}{
		{"idempotency_key", raw.IdempotencyKey.Set},
		{"recognition_key", raw.RecognitionKey.Set},
		{"year", raw.Year.Set},
		{"grade", raw.Grade.Set},
		{"class_no", raw.ClassNo.Set},
		{"student_no", raw.StudentNo.Set},
		{"exercise_type", raw.ExerciseType.Set},
		{"month", raw.Month.Set},
	}
	for _, r := range required {
		if !r.set {
			return fail(r.field, "missing required field: %s", r.field)
		}
	}

	integers := []struct {
		field string
		value Number
	}{
		{"year", raw.Year},
		{"grade", raw.Grade},
		{"class_no", raw.ClassNo},
		{"student_no", raw.StudentNo},
		{"month", raw.Month},
	}
	for _, n := range integers {
		if !n.value.integral() {
			return fail(n.field, "%s must be an integer", n.field)
		}
	}

	optional := []struct {
		field string
		value Number
	}{
		{"avg_duration_seconds", raw.AvgDurationSeconds},
		{"avg_accuracy", raw.AvgAccuracy},
		{"avg_bpm", raw.AvgBPM},
		{"avg_max_bpm", raw.AvgMaxBPM},
		{"avg_calories", raw.AvgCalories},
	}
	for _, n := range optional {
		if n.value.Set && !n.value.Valid {
			return fail(n.field, "%s must be numeric or null", n.field)
		}
	}

	item := IngestItem{
		IdempotencyKey:     raw.IdempotencyKey.Value,
		RecognitionKey:     raw.RecognitionKey.Value,
		Year:               int(raw.Year.Value),
		Grade:              int(raw.Grade.Value),
		ClassNo:            int(raw.ClassNo.Value),
		StudentNo:          int(raw.StudentNo.Value),
		ExerciseType:       raw.ExerciseType.Value,
		Month:              int(raw.Month.Value),
		AvgDurationSeconds: raw.AvgDurationSeconds.Ptr(),
		AvgAccuracy:        raw.AvgAccuracy.Ptr(),
		AvgBPM:             raw.AvgBPM.Ptr(),
		AvgMaxBPM:          raw.AvgMaxBPM.Ptr(),
		AvgCalories:        raw.AvgCalories.Ptr(),
	}

	if err := validate.Struct(item); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fail(fe.Field(), "%s", describeFieldError(fe))
		}
		return fail("", "%v", err)
	}
	return item, nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "missing required field: " + fe.Field()
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		if fe.Field() == "month" {
			return "month must be between 1 and 12"
		}
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		if fe.Field() == "month" {
			return "month must be between 1 and 12"
		}
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

// IngestOption configures optional behaviour for the IngestService.
type IngestOption func(*IngestService)

// WithIngestLogger overrides the logger.
func WithIngestLogger(logger *log.Logger) IngestOption {
	return func(s *IngestService) {
		s.logger = logger
	}
}

// IngestService validates, resolves and persists metric submissions.
type IngestService struct {
	resolver *Resolver
	dir      Directory
	store    ExerciseStore
	logger   *log.Logger
}

// NewIngestService constructs an IngestService.
func NewIngestService(dir Directory, store ExerciseStore, opts ...IngestOption) *IngestService {
	s := &IngestService{
		resolver: NewResolver(dir),
		dir:      dir,
		store:    store,
		logger:   log.New(log.Writer(), "[ingest] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestOne persists a single submission and returns the accepted count.
func (s *IngestService) IngestOne(ctx context.Context, raw RawIngestItem) (int, error) {
	return s.ingest(ctx, []RawIngestItem{raw}, false)
}

// IngestBatch persists every submission or none of them.
func (s *IngestService) IngestBatch(ctx context.Context, raws []RawIngestItem) (int, error) {
	if len(raws) == 0 {
		observability.RecordIngestRejected(observability.OutcomeInvalid)
		return 0, &ValidationError{Index: -1, Field: "items", Message: "items must not be empty"}
	}
	return s.ingest(ctx, raws, true)
}

func (s *IngestService) ingest(ctx context.Context, raws []RawIngestItem, batch bool) (int, error) {
	items := make([]IngestItem, 0, len(raws))
	for i, raw := range raws {
		index := -1
		if batch {
			index = i
		}
		item, err := ValidateIngestItem(raw, index)
		if err != nil {
			observability.RecordIngestRejected(observability.OutcomeInvalid)
			return 0, err
		}
		items = append(items, item)
	}

	subs, err := s.resolve(ctx, items, batch)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			observability.RecordIngestRejected(observability.OutcomeUnavailable)
		} else {
			observability.RecordIngestRejected(observability.OutcomeNotFound)
		}
		return 0, err
	}

	stats, err := s.store.UpsertSubmissions(ctx, subs)
	if err != nil {
		observability.RecordIngestRejected(observability.OutcomeUnavailable)
		return 0, unavailable("upsert submissions", err)
	}

	observability.RecordIngestAccepted(stats.Inserted, stats.Updated, stats.Unchanged)
	if stats.Inserted+stats.Updated > 0 {
		s.logger.Printf("ingested %d items (inserted=%d, updated=%d, unchanged=%d)", len(subs), stats.Inserted, stats.Updated, stats.Unchanged)
	}
	return len(subs), nil
}

// resolve maps every item to its student before anything is written.
func (s *IngestService) resolve(ctx context.Context, items []IngestItem, batch bool) ([]Submission, error) {
	schools := make(map[string]School)
	subs := make([]Submission, 0, len(items))

	for i, item := range items {
		prefix, index := "", -1
		if batch {
			prefix, index = fmt.Sprintf("items[%d]: ", i), i
		}

		school, ok := schools[item.RecognitionKey]
		if !ok {
			var err error
			school, err = s.resolver.ResolveSchool(ctx, item.RecognitionKey)
			if err != nil {
				return nil, fmt.Errorf("%s%w", prefix, err)
			}
			schools[item.RecognitionKey] = school
		}

		period := SchoolYear(item.Year, item.Month)
		student, err := s.dir.StudentByRoster(ctx, RosterKey{
			SchoolID:  school.ID,
			Year:      period,
			Grade:     item.Grade,
			ClassNo:   item.ClassNo,
			StudentNo: item.StudentNo,
		})
		if err != nil {
			if errors.Is(err, ErrStudentNotFound) {
				return nil, fmt.Errorf("%s%w (year=%d, grade=%d, class_no=%d, student_no=%d)", prefix, ErrStudentNotFound, period, item.Grade, item.ClassNo, item.StudentNo)
			}
			return nil, unavailable("resolve student", err)
		}

		category, err := ParseCategory(item.ExerciseType)
		if err != nil {
			return nil, &ValidationError{Index: index, Field: "exercise_type", Message: err.Error()}
		}

		subs = append(subs, Submission{
			IdempotencyKey:  item.IdempotencyKey,
			SchoolID:        school.ID,
			StudentID:       student.ID,
			Category:        category,
			Period:          period,
			Month:           item.Month,
			DurationSeconds: item.AvgDurationSeconds,
			Accuracy:        item.AvgAccuracy,
			AvgBPM:          item.AvgBPM,
			MaxBPM:          item.AvgMaxBPM,
			Calories:        item.AvgCalories,
		})
	}
	return subs, nil
}
