package settings

import (
	"encoding/json"
	"fmt"
)

// GetAs returns the value of k decoded as T. It returns false when the key is
// absent or the stored value does not decode as T.
func GetAs[T any](s *Store, k Key[T]) (T, bool) {
	var zero T
	v, ok := s.Get(k.name)
	if !ok {
		return zero, false
	}
	out, err := decode[T](v)
	if err != nil {
		s.log.Warn("settings: stored value has unexpected type", "key", k.name, "err", err)
		return zero, false
	}
	return out, true
}

// GetOr returns the value of k, or def when it is absent or undecodable.
func GetOr[T any](s *Store, k Key[T], def T) T {
	if v, ok := GetAs(s, k); ok {
		return v
	}
	return def
}

// SetAs stores v under k.
func SetAs[T any](s *Store, k Key[T], v T) error {
	return s.Set(k.name, v)
}

// Watch registers fn on k. Values are decoded as T; a removed key is passed
// as the zero value. Changes whose new value does not decode are skipped.
func Watch[T any](s *Store, k Key[T], fn func(newValue, oldValue T)) (Unregister, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil listener for %q", ErrInvalidArgument, k.name)
	}
	return s.Register(k.name, func(newValue, oldValue any) {
		nv, err := decodeOrZero[T](newValue)
		if err != nil {
			s.log.Warn("settings: skipping undecodable change", "key", k.name, "err", err)
			return
		}
		ov, _ := decodeOrZero[T](oldValue)
		fn(nv, ov)
	})
}

func decodeOrZero[T any](v any) (T, error) {
	if v == nil {
		var zero T
		return zero, nil
	}
	return decode[T](v)
}

func decode[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
