package httpx

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// jobListQuery reads the job listing filters from the query string. Paging values that are
// missing or unparsable fall back to defaults and are clamped to [1, maxJobListLimit].
func jobListQuery(r *http.Request) model.JobListOptions {
	q := r.URL.Query()
	return model.JobListOptions{
		Status: queryEnum[model.JobStatus](q, "status"),
		Type:   queryEnum[model.JobType](q, "type"),
		Limit:  min(max(queryInt(q, "limit", defaultJobListLimit), 1), maxJobListLimit),
		Offset: max(queryInt(q, "offset", 0), 0),
	}
}

func queryInt(q url.Values, key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(q.Get(key)))
	if err != nil {
		return fallback
	}
	return n
}

// queryEnum leaves validation to the model; blank values mean "no filter".
func queryEnum[T ~string](q url.Values, key string) *T {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil
	}
	t := T(v)
	return &t
}
