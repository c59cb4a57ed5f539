package handlers

import (
	"fmt"
	"net/http"
	"strconv"
)

// queryInt reads a positive integer query parameter, returning def when the
// parameter is absent and an error when it is present but not a positive
// integer.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}
