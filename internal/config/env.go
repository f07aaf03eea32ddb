package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed variables and remembers every malformed one, so a
// typo fails startup instead of silently using the default
type envReader struct {
	errs []error
}

func read[T any](r *envReader, key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
		return def
	}
	return v
}

func (r *envReader) str(key, def string) string {
	return read(r, key, def, func(s string) (string, error) { return s, nil })
}

func (r *envReader) integer(key string, def int) int {
	return read(r, key, def, strconv.Atoi)
}

func (r *envReader) float(key string, def float64) float64 {
	return read(r, key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (r *envReader) boolean(key string, def bool) bool {
	return read(r, key, def, strconv.ParseBool)
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	return read(r, key, def, time.ParseDuration)
}

// list splits a comma-separated value, dropping blanks
func (r *envReader) list(key string, def []string) []string {
	return read(r, key, def, func(s string) ([]string, error) {
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	})
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
