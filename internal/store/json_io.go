package store

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// getJSON decodes key into out; a missing key reports ok=false.
func getJSON(kv KV, key string, out any) (bool, error) {
	b, err := kv.Get(key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, errors.Wrapf(err, "decode %q", key)
	}
	return true, nil
}

// putJSON encodes v under key.
func putJSON(kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %q", key)
	}
	return kv.Put(key, b)
}

func escapeSegment(s string) string { return url.PathEscape(s) }

// joinKey escapes each segment and joins them with Separator.
func joinKey(segments ...string) string {
	esc := make([]string, len(segments))
	for i, s := range segments {
		esc[i] = escapeSegment(s)
	}
	return strings.Join(esc, Separator)
}
