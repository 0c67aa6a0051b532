package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UserID хранит telegram user id строкой. Mini App присылает его числом, админ-панель строкой.
type UserID string

// UnmarshalJSON принимает число, строку или null.
func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("telegram user id must be a number or a string: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("telegram user id must be an integer: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// String возвращает id как строку.
func (u UserID) String() string {
	return string(u)
}
