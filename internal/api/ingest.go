package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"example.com/schoolsync/internal/domain"
)

// IngestResponse is the body of a successful POST /api/device/ingest.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

func (h *Handler) deviceIngest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}

	raws, batch, err := decodeIngestBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var accepted int
	if batch {
		accepted, err = h.ingest.IngestBatch(r.Context(), raws)
	} else {
		accepted, err = h.ingest.IngestOne(r.Context(), raws[0])
	}
	if err != nil {
		writeError(w, ingestStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{Accepted: accepted})
}

// decodeIngestBody accepts a bare array, an {"items": [...]} envelope or a
// single item object.
func decodeIngestBody(body json.RawMessage) ([]domain.RawIngestItem, bool, error) {
	switch body[0] {
	case '[':
		var raws []domain.RawIngestItem
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, false, errors.New("items must be JSON objects")
		}
		return raws, true, nil
	case '{':
		var envelope struct {
			Items json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, false, errors.New("invalid JSON body")
		}
		if envelope.Items != nil {
			if isNull(envelope.Items) || envelope.Items[0] != '[' {
				return nil, false, errors.New("items must be an array")
			}
			var raws []domain.RawIngestItem
			if err := json.Unmarshal(envelope.Items, &raws); err != nil {
				return nil, false, errors.New("items must be JSON objects")
			}
			return raws, true, nil
		}
		var raw domain.RawIngestItem
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, false, errors.New("invalid JSON body")
		}
		return []domain.RawIngestItem{raw}, false, nil
	}
	return nil, false, errors.New("request body must be an object or an array")
}

func ingestStatus(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSchoolNotFound), errors.Is(err, domain.ErrStudentNotFound):
		return http.StatusBadRequest
	}
	return serverError(err, http.StatusInternalServerError)
}
