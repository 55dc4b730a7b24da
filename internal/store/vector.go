package store

import (
	"fmt"
	"strconv"
	"strings"
)

// VectorLiteral renders an embedding in pgvector's text input form.
func VectorLiteral(values []float32) string {
	var b strings.Builder
	b.Grow(len(values)*10 + 2)
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector reads pgvector's text output form back into a slice.
func ParseVector(raw string) ([]float32, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil, fmt.Errorf("parse vector: malformed literal")
	}
	body := strings.TrimSpace(raw[1 : len(raw)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		out = append(out, float32(v))
	}
	return out, nil
}
