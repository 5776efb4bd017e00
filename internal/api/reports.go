package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"example.com/schoolsync/internal/auth"
	"example.com/schoolsync/internal/domain"
)

// ExerciseRowView is one student line of the class report.
type ExerciseRowView struct {
	StudentID string                         `json:"student_id"`
	StudentNo int                            `json:"student_no"`
	Name      string                         `json:"name"`
	Minutes   [domain.MonthsPerYear]*float64 `json:"minutes"`
	AvgBPM    [domain.MonthsPerYear]*float64 `json:"avg_bpm"`
	MaxBPM    [domain.MonthsPerYear]*float64 `json:"max_bpm"`
}

// ExercisesResponse is the body of GET /api/school/exercises.
type ExercisesResponse struct {
	Rows []ExerciseRowView `json:"rows"`
}

func (h *Handler) schoolExercises(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	schoolID, err := auth.SchoolScope(r, claims)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	q := r.URL.Query()
	var values [3]int
	for i, name := range []string{"grade", "class_no", "year"} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			writeError(w, http.StatusBadRequest, "grade, class_no and year query parameters are required")
			return
		}
		n, err := parseWhole(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "grade, class_no and year must be numbers")
			return
		}
		values[i] = n
	}

	filter, err := domain.ParseCategoryFilter(q.Get("category_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.reports.Aggregate(r.Context(), domain.RosterQuery{
		SchoolID: schoolID,
		Grade:    values[0],
		ClassNo:  values[1],
		Year:     values[2],
		Filter:   filter,
	})
	if err != nil {
		writeError(w, serverError(err, http.StatusBadRequest), err.Error())
		return
	}

	resp := ExercisesResponse{Rows: make([]ExerciseRowView, 0, len(rows))}
	for _, row := range rows {
		resp.Rows = append(resp.Rows, ExerciseRowView{
			StudentID: row.StudentID,
			StudentNo: row.StudentNo,
			Name:      row.Name,
			Minutes:   row.Minutes,
			AvgBPM:    row.AvgBPM,
			MaxBPM:    row.MaxBPM,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseWhole(raw string) (int, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1e9 {
		return 0, errors.New("not a whole number")
	}
	return int(f), nil
}
