package transporthttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"example.com/sessionledger/internal/domain"
)

type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	Meta     map[string]any      `json:"meta,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	writeProblem(w, Problem{Title: title, Status: status, Detail: detail, Errors: errs})
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// problemFor renders a ledger error. ok is false for errors that carry no
// ledger kind; those are internal failures.
func problemFor(err error) (p Problem, ok bool) {
	var de *domain.Error
	if !errors.As(err, &de) {
		return Problem{}, false
	}
	p = Problem{Type: string(de.Kind), Detail: de.Message}
	switch de.Kind {
	case domain.KindConflict:
		p.Status, p.Title = http.StatusConflict, "conflict"
	case domain.KindNotFound:
		p.Status, p.Title = http.StatusNotFound, "not found"
	case domain.KindInvalidOperation:
		p.Status, p.Title = http.StatusUnprocessableEntity, "invalid operation"
	case domain.KindInvalidArgument:
		p.Status, p.Title = http.StatusBadRequest, "validation failed"
		p.Detail = "one or more fields are invalid"
		p.Errors = fieldErrors(de.Fields)
	default:
		return Problem{}, false
	}
	return p, true
}

func fieldErrors(fields []domain.FieldError) map[string][]string {
	if len(fields) == 0 {
		return nil
	}
	out := map[string][]string{}
	for _, fe := range fields {
		out[fe.Field] = append(out[fe.Field], fe.Msg)
	}
	return out
}
