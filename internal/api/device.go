package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"example.com/schoolsync/internal/domain"
)

// AssetView is one downloadable object in a sync response.
type AssetView struct {
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	UpdatedAt *string        `json:"updated_at"`
	CreatedAt *string        `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
	URL       string         `json:"url"`
	Filename  string         `json:"filename"`
}

// AssetsResponse is the body of POST /api/device/assets. Items repeats
// ToDownload on bootstrap calls for older devices and is absent otherwise,
// so it is present even when the listing is empty.
type AssetsResponse struct {
	Items       *[]AssetView `json:"items,omitempty"`
	ToDownload  []AssetView  `json:"to_download"`
	ToDelete    []string     `json:"to_delete"`
	GeneratedAt string       `json:"generated_at"`
}

type knownItem struct {
	Path      domain.Text `json:"path"`
	UpdatedAt domain.Text `json:"updated_at"`
}

func (h *Handler) deviceAssets(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	authKey := textField(obj, "auth_key", "authKey", "AuthKey")
	if authKey == "" {
		writeError(w, http.StatusBadRequest, "auth_key is required")
		return
	}

	known := parseKnownItems(obj["known_items"])

	result, err := h.sync.Diff(r.Context(), authKey, known)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "invalid auth_key")
			return
		}
		writeError(w, serverError(err, http.StatusInternalServerError), err.Error())
		return
	}

	resp := AssetsResponse{
		ToDownload:  make([]AssetView, 0, len(result.ToDownload)),
		ToDelete:    result.ToDelete,
		GeneratedAt: result.GeneratedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	for _, item := range result.ToDownload {
		resp.ToDownload = append(resp.ToDownload, toAssetView(item))
	}
	if result.Bootstrap {
		items := resp.ToDownload
		resp.Items = &items
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseKnownItems returns nil unless raw is a JSON array. Entries that are not
// objects are ignored.
func parseKnownItems(raw json.RawMessage) []domain.ManifestEntry {
	if isNull(raw) {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	known := make([]domain.ManifestEntry, 0, len(elems))
	for _, elem := range elems {
		var item knownItem
		if err := json.Unmarshal(elem, &item); err != nil {
			continue
		}
		known = append(known, domain.ManifestEntry{Path: item.Path.Value, UpdatedAt: item.UpdatedAt.Value})
	}
	return known
}

func toAssetView(item domain.DownloadItem) AssetView {
	return AssetView{
		Name:      item.Name,
		Path:      item.Path,
		UpdatedAt: nullable(item.UpdatedAt),
		CreatedAt: nullable(item.CreatedAt),
		Metadata:  item.Metadata,
		URL:       item.URL,
		Filename:  item.Filename,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SchoolInfoResponse is the body of POST /api/device/school-info.
type SchoolInfoResponse struct {
	Name string `json:"name"`
}

func (h *Handler) schoolInfo(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	key := textField(obj, "recognition_key", "recognitionKey", "RecognitionKey")
	if key == "" {
		writeError(w, http.StatusBadRequest, "recognition_key is required")
		return
	}

	school, err := h.devices.SchoolInfo(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrSchoolNotFound) {
			writeError(w, http.StatusNotFound, "school not found")
			return
		}
		writeError(w, serverError(err, http.StatusInternalServerError), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SchoolInfoResponse{Name: school.Name})
}

// RosterStudentView is one student in a class-students response.
type RosterStudentView struct {
	StudentNo int      `json:"student_no"`
	Name      string   `json:"name"`
	Gender    *string  `json:"gender"`
	HeightCM  *float64 `json:"height_cm"`
	WeightKG  *float64 `json:"weight_kg"`
}

// ClassStudentsResponse is the body of POST /api/device/class-students.
type ClassStudentsResponse struct {
	Rows []RosterStudentView `json:"rows"`
}

func (h *Handler) classStudents(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	key := textField(obj, "recognition_key", "recognitionKey", "RecognitionKey")
	if key == "" {
		writeError(w, http.StatusBadRequest, "recognition_key is required")
		return
	}

	year, ok := intField(obj, "year", "Year")
	if !ok {
		writeError(w, http.StatusBadRequest, "year must be a number")
		return
	}
	grade, ok := intField(obj, "grade", "Grade")
	if !ok {
		writeError(w, http.StatusBadRequest, "grade must be a number")
		return
	}
	classNo, ok := intField(obj, "class_no", "classNo", "ClassNo")
	if !ok {
		writeError(w, http.StatusBadRequest, "class_no must be a number")
		return
	}

	students, err := h.devices.ClassStudents(r.Context(), key, year, grade, classNo)
	if err != nil {
		if errors.Is(err, domain.ErrSchoolNotFound) {
			writeError(w, http.StatusNotFound, "school not found")
			return
		}
		writeError(w, serverError(err, http.StatusInternalServerError), err.Error())
		return
	}

	resp := ClassStudentsResponse{Rows: make([]RosterStudentView, 0, len(students))}
	for _, s := range students {
		resp.Rows = append(resp.Rows, RosterStudentView{
			StudentNo: s.StudentNo,
			Name:      s.Name,
			Gender:    s.Gender,
			HeightCM:  s.HeightCM,
			WeightKG:  s.WeightKG,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// intField decodes a loosely typed integer field from obj.
func intField(obj map[string]json.RawMessage, names ...string) (int, bool) {
	raw, ok := firstField(obj, names...)
	if !ok {
		return 0, false
	}
	var n domain.Number
	if err := json.Unmarshal(raw, &n); err != nil || !n.Valid {
		return 0, false
	}
	if n.Value != math.Trunc(n.Value) || math.Abs(n.Value) > 1e9 {
		return 0, false
	}
	return int(n.Value), true
}
