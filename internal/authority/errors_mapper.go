package authority

import (
	"errors"
	"net/http"

	"github.com/protocard/protosync/internal/store"
)

type errorMapping struct {
	status int
	code   string
}

var errorStatusMap = map[error]errorMapping{
	ErrValidation: {http.StatusUnprocessableEntity, "validation"},

	store.ErrEntityNotFound: {http.StatusNotFound, "not_found"},
	store.ErrEntityDeleted:  {http.StatusNotFound, "not_found"},

	store.ErrExecutingQuery: {http.StatusInternalServerError, "internal"},
	store.ErrScanningRow:    {http.StatusInternalServerError, "internal"},
	store.ErrScanningRows:   {http.StatusInternalServerError, "internal"},
}

func statusFromError(err error) (int, string) {
	for target, mapping := range errorStatusMap {
		if errors.Is(err, target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
