package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/schoolsync/internal/auth"
	"example.com/schoolsync/internal/domain"
)

func (f *fixture) do(t *testing.T, method, target, body string, decorate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, d := range decorate {
		d(req)
	}
	mux := http.NewServeMux()
	f.handler.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestDeviceAssetsBootstrap(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/device/assets", `{"auth_key":"device-key"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[AssetsResponse](t, rec)
	require.Len(t, resp.ToDownload, 2)
	require.Equal(t, "devices/device-key/a.png", resp.ToDownload[0].Path)
	require.Equal(t, "a.png", resp.ToDownload[0].Filename)
	require.Equal(t, "https://cdn.test/devices/device-key/a.png?ttl=86400", resp.ToDownload[0].URL)
	require.NotNil(t, resp.Items)
	require.Equal(t, resp.ToDownload, *resp.Items)
	require.Empty(t, resp.ToDelete)
	require.Equal(t, "2024-05-03T12:00:00.000Z", resp.GeneratedAt)
}

func TestDeviceAssetsBootstrapWithEmptyListingSendsItems(t *testing.T) {
	f := newFixture()
	f.objects.objects = nil

	rec := f.do(t, http.MethodPost, "/api/device/assets", `{"auth_key":"device-key"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"items":[],"to_download":[],"to_delete":[],"generated_at":"2024-05-03T12:00:00.000Z"}`, rec.Body.String())
}

func TestDeviceAssetsIncremental(t *testing.T) {
	f := newFixture()

	body := `{"authKey":"device-key","known_items":[
		{"path":"devices/device-key/a.png","updated_at":"2024-05-01T00:00:00Z"},
		{"path":"devices/device-key/b.png","updated_at":"2024-04-01T00:00:00Z"},
		{"path":"devices/device-key/gone.png","updated_at":"2024-04-01T00:00:00Z"}
	]}`
	rec := f.do(t, http.MethodPost, "/api/device/assets", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	_, hasItems := raw["items"]
	require.False(t, hasItems, "items is only sent on bootstrap")

	resp := decode[AssetsResponse](t, rec)
	require.Len(t, resp.ToDownload, 1)
	require.Equal(t, "devices/device-key/b.png", resp.ToDownload[0].Path)
	require.Equal(t, []string{"devices/device-key/gone.png"}, resp.ToDelete)
}

func TestDeviceAssetsEmptyManifestIsNotBootstrap(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/device/assets", `{"AuthKey":"device-key","known_items":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), `"items"`)
	require.Len(t, decode[AssetsResponse](t, rec).ToDownload, 2)
}

func TestDeviceAssetsErrors(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/device/assets", `{"auth_key":"device-key"}`, func(r *http.Request) {
		r.Header.Set("Content-Type", "text/plain")
	})
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/device/assets", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/device/assets", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"auth_key is required"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/device/assets", `{"auth_key":"unknown"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	f.objects.listErr = errors.New("bucket offline")
	rec = f.do(t, http.MethodPost, "/api/device/assets", `{"auth_key":"device-key"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "bucket offline")
}

const validItem = `{"idempotency_key":"k-1","recognition_key":"rk-1","year":"2024","grade":3,"class_no":1,"student_no":2,"exercise_type":"strength","month":5,"avg_duration_seconds":600,"avg_bpm":"120.5","avg_max_bpm":null}`

func TestDeviceIngestSingleItem(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/device/ingest", validItem)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"accepted":1}`, rec.Body.String())

	require.Len(t, f.store.batches, 1)
	sub := f.store.batches[0][0]
	require.Equal(t, "st-2", sub.StudentID)
	require.Equal(t, domain.CategoryStrength, sub.Category)
	require.Equal(t, 2024, sub.Period)
	require.InDelta(t, 120.5, *sub.AvgBPM, 0.0001)
	require.Nil(t, sub.MaxBPM)
}

func TestDeviceIngestBatchForms(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/device/ingest", `{"items":[`+validItem+`,`+validItem+`]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"accepted":2}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/device/ingest", `[`+validItem+`]`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":1}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/device/ingest", `{"items":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceIngestRejectsWholeBatch(t *testing.T) {
	f := newFixture()

	bad := `{"idempotency_key":"k-2","recognition_key":"rk-1","year":2024,"grade":3,"class_no":1,"student_no":2,"exercise_type":"strength","month":13}`
	rec := f.do(t, http.MethodPost, "/api/device/ingest", `{"items":[`+validItem+`,`+bad+`]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "items[1]")
	require.Contains(t, rec.Body.String(), "month must be between 1 and 12")
	require.Empty(t, f.store.batches)
}

func TestDeviceIngestResolutionAndStoreFailures(t *testing.T) {
	f := newFixture()

	unknownSchool := `{"idempotency_key":"k","recognition_key":"nope","year":2024,"grade":3,"class_no":1,"student_no":2,"exercise_type":"strength","month":5}`
	rec := f.do(t, http.MethodPost, "/api/device/ingest", unknownSchool)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	unknownStudent := `{"idempotency_key":"k","recognition_key":"rk-1","year":2024,"grade":3,"class_no":1,"student_no":42,"exercise_type":"strength","month":5}`
	rec = f.do(t, http.MethodPost, "/api/device/ingest", unknownStudent)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "student not found")

	f.store.err = errors.New("connection reset")
	rec = f.do(t, http.MethodPost, "/api/device/ingest", validItem)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "connection reset")
}

func withClaims(claims *auth.Claims) func(*http.Request) {
	return func(r *http.Request) {
		*r = *r.WithContext(auth.WithClaims(r.Context(), claims))
	}
}

func TestSchoolExercisesReport(t *testing.T) {
	f := newFixture()
	f.store.records = []domain.ExerciseRecord{
		{StudentID: "st-1", Category: domain.CategoryStrength, Kind: domain.KindDuration, Period: 2024, Months: [12]*float64{4: ptr(10)}},
		{StudentID: "st-1", Category: domain.CategoryEndurance, Kind: domain.KindDuration, Period: 2024, Months: [12]*float64{4: ptr(15)}},
		{StudentID: "st-1", Category: domain.CategoryStrength, Kind: domain.KindAvgHeartRate, Period: 2024, Months: [12]*float64{4: ptr(120)}},
		{StudentID: "st-1", Category: domain.CategoryEndurance, Kind: domain.KindAvgHeartRate, Period: 2024, Months: [12]*float64{4: ptr(130)}},
	}
	claims := withClaims(&auth.Claims{Subject: "op", Role: auth.RoleSchool, SchoolID: testSchoolID})

	rec := f.do(t, http.MethodGet, "/api/school/exercises?grade=3&class_no=1&year=2024&category_type=all", "", claims)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ExercisesResponse](t, rec)
	require.Len(t, resp.Rows, 2)
	require.Equal(t, 1, resp.Rows[0].StudentNo)
	require.InDelta(t, 25.0, *resp.Rows[0].Minutes[4], 0.0001)
	require.InDelta(t, 125.0, *resp.Rows[0].AvgBPM[4], 0.0001)
	require.Nil(t, resp.Rows[0].MaxBPM[4])
	require.Nil(t, resp.Rows[1].Minutes[4])

	rec = f.do(t, http.MethodGet, "/api/school/exercises?grade=3&class_no=1&year=2024", "", claims)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[ExercisesResponse](t, rec)
	require.InDelta(t, 10.0, *resp.Rows[0].Minutes[4], 0.0001)
}

func TestSchoolExercisesAccessAndValidation(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/school/exercises?grade=3&class_no=1&year=2024", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := withClaims(&auth.Claims{Subject: "op", Role: auth.RoleAdmin})
	rec = f.do(t, http.MethodGet, "/api/school/exercises?grade=3&class_no=1&year=2024", "", admin)
	require.Equal(t, http.StatusForbidden, rec.Code)

	acting := func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.ActingSchoolCookie, Value: testSchoolID}) }
	rec = f.do(t, http.MethodGet, "/api/school/exercises?grade=3&class_no=1&year=2024", "", admin, acting)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[ExercisesResponse](t, rec).Rows, 2)

	school := withClaims(&auth.Claims{Subject: "op", Role: auth.RoleSchool, SchoolID: testSchoolID})
	rec = f.do(t, http.MethodGet, "/api/school/exercises?grade=3&year=2024", "", school)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/school/exercises?grade=x&class_no=1&year=2024", "", school)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/school/exercises?grade=3&class_no=1&year=2024&category_type=7", "", school)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/school/exercises?grade=3&class_no=9&year=2024", "", school)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"rows":[]}`, rec.Body.String())
}

func TestDeviceLookups(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/device/school-info", `{"recognitionKey":"rk-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"name":"Hanbit Elementary"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/device/school-info", `{"recognition_key":"zzz"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/device/class-students", `{"recognition_key":"rk-1","year":2024,"grade":"3","classNo":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ClassStudentsResponse](t, rec)
	require.Len(t, resp.Rows, 2)

	rec = f.do(t, http.MethodPost, "/api/device/class-students", `{"recognition_key":"rk-1","year":"x","grade":3,"class_no":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"year must be a number"}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	rec := newFixture().do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
