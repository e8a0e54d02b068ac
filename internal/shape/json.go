package shape

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the shape as a JSON array of dims.
func (s Shape) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Dims())
}

// UnmarshalJSON decodes a JSON array of dims, enforcing the same rules as New.
func (s *Shape) UnmarshalJSON(data []byte) error {
	var dims []int64
	if err := json.Unmarshal(data, &dims); err != nil {
		return fmt.Errorf("shape: decode: %w", err)
	}

	parsed, err := New(dims...)
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}
