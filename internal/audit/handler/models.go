package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil/internal/audit"
	"vigil/internal/audit/risk"
	"vigil/internal/audit/store"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	pkgstrings "vigil/pkg/platform/strings"
)

// RecordEventRequest is the ingestion request body. The acting subject
// comes from the authenticated request context; only the role travels in
// the body because tokens carry identity, not privilege level.
type RecordEventRequest struct {
	EventType   string         `json:"eventType"`
	SubjectRole string         `json:"subjectRole,omitempty"`
	Details     map[string]any `json:"details"`
}

// SearchResponse is one page of matching events.
type SearchResponse struct {
	Events []audit.EventRecord `json:"events"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func newSearchResponse(page store.Page) SearchResponse {
	resp := SearchResponse{
		Events: make([]audit.EventRecord, 0, len(page.Events)),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, ev := range page.Events {
		resp.Events = append(resp.Events, ev.Record())
	}
	return resp
}

// RiskResponse is an event's stored risk assessment.
type RiskResponse struct {
	EventID             string             `json:"eventId"`
	Score               float64            `json:"score"`
	Factors             map[string]float64 `json:"factors,omitempty"`
	BehavioralDeviation float64            `json:"behavioralDeviation"`
	BaselineAvailable   bool               `json:"baselineAvailable"`
}

func newRiskResponse(eventID id.EventID, result risk.Result) RiskResponse {
	resp := RiskResponse{
		EventID:             eventID.String(),
		Score:               result.Score,
		BehavioralDeviation: result.BehavioralDeviation,
		BaselineAvailable:   result.BaselineAvailable,
	}
	if len(result.Factors) > 0 {
		resp.Factors = make(map[string]float64, len(result.Factors))
		for f, v := range result.Factors {
			resp.Factors[string(f)] = v
		}
	}
	return resp
}

// parseSearchQuery builds a store query from URL parameters. Multi-value
// filters accept comma-separated lists.
func parseSearchQuery(r *http.Request) (store.Query, error) {
	var q store.Query
	params := r.URL.Query()

	if raw := params.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Query{}, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339")
		}
		q.From = t
	}
	if raw := params.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Query{}, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339")
		}
		q.To = t
	}
	for _, raw := range splitParam(params.Get("type")) {
		q.Types = append(q.Types, audit.EventType(raw))
	}
	for _, raw := range splitParam(params.Get("severity")) {
		q.Severities = append(q.Severities, audit.Severity(raw))
	}
	for _, raw := range splitParam(params.Get("flag")) {
		q.ComplianceFlags = append(q.ComplianceFlags, audit.ComplianceFlag(raw))
	}
	if raw := params.Get("subjectId"); raw != "" {
		subjectID, err := id.ParseSubjectID(raw)
		if err != nil {
			return store.Query{}, dErrors.New(dErrors.CodeInvalidInput, "subjectId must be a UUID")
		}
		q.SubjectID = subjectID
	}
	if raw := params.Get("minRiskScore"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || score < 0 || score > 1 {
			return store.Query{}, dErrors.New(dErrors.CodeInvalidInput, "minRiskScore must be in [0, 1]")
		}
		q.MinRiskScore = score
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return store.Query{}, dErrors.New(dErrors.CodeInvalidInput, "limit must be an integer")
		}
		q.Limit = limit
	}
	if raw := params.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return store.Query{}, dErrors.New(dErrors.CodeInvalidInput, "offset must be an integer")
		}
		q.Offset = offset
	}
	switch params.Get("sort") {
	case "":
	case "newest":
		q.Sort = store.SortNewestFirst
	case "oldest":
		q.Sort = store.SortOldestFirst
	case "risk":
		q.Sort = store.SortRiskDesc
	default:
		return store.Query{}, dErrors.New(dErrors.CodeInvalidInput, "sort must be newest, oldest, or risk")
	}

	return q, nil
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	return pkgstrings.DedupeAndTrim(strings.Split(raw, ","))
}
