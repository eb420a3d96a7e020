package httputil

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/star/passcast/internal/transform"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// FloatParam parses the query parameter name. A missing parameter returns def.
// The value must be finite and within [min, max].
func FloatParam(q url.Values, name string, def, min, max float64) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	if f < min || f > max {
		return 0, fmt.Errorf("invalid %s parameter, must be %g to %g", name, min, max)
	}
	return f, nil
}

// IntParam is FloatParam for integers.
func IntParam(q url.Values, name string, def, min, max int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("invalid %s parameter, must be %d to %d", name, min, max)
	}
	return n, nil
}

// ObserverFromQuery builds an observer from the required lat and lon
// parameters (degrees) and the optional alt parameter (meters, default 0).
func ObserverFromQuery(q url.Values) (transform.Observer, error) {
	if q.Get("lat") == "" || q.Get("lon") == "" {
		return transform.Observer{}, fmt.Errorf("lat and lon parameters are required")
	}
	lat, err := FloatParam(q, "lat", 0, -90, 90)
	if err != nil {
		return transform.Observer{}, err
	}
	lon, err := FloatParam(q, "lon", 0, -180, 180)
	if err != nil {
		return transform.Observer{}, err
	}
	alt, err := FloatParam(q, "alt", 0, -500, 10000)
	if err != nil {
		return transform.Observer{}, err
	}
	return transform.NewObserver(lat, lon, alt), nil
}
