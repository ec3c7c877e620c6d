package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

type scanFrame struct {
	array   bool
	name    string
	wantKey bool
}

// scanJSONStructure walks every token of r without building values. It
// rejects malformed documents and a top-level shape the loader cannot read,
// and counts the records the loader will see. A count of -1 means the shape
// has no cheap record count.
func scanJSONStructure(r io.Reader, dataset string) (int64, error) {
	dec := json.NewDecoder(r)

	var (
		stack   []*scanFrame
		key     string
		count   int64
		started bool
		hasData bool
		nested  bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
		}

		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			stack = stack[:len(stack)-1]
			continue
		}

		if len(stack) == 0 && started {
			return 0, fmt.Errorf("%w: trailing data after top-level value", domain.ErrStructuralParse)
		}

		if n := len(stack); n > 0 && !stack[n-1].array && stack[n-1].wantKey {
			key, _ = tok.(string)
			stack[n-1].wantKey = false
			continue
		}

		// tok starts a value
		valueKey := ""
		if n := len(stack); n > 0 {
			if !stack[n-1].array {
				valueKey = key
				stack[n-1].wantKey = true
			}
			if isRecordSlot(stack, dataset) {
				count++
			}
		}

		d, isDelim := tok.(json.Delim)
		if len(stack) == 0 {
			started = true
			if !isDelim {
				return 0, fmt.Errorf("%w: top-level value must be an array or object", domain.ErrStructuralParse)
			}
			nested = d == '{'
		}
		if len(stack) == 1 && nested && valueKey == "data" {
			if !isDelim || d != '{' {
				return 0, fmt.Errorf("%w: data member must be an object", domain.ErrStructuralParse)
			}
			hasData = true
		}
		if isDelim {
			stack = append(stack, &scanFrame{array: d == '[', name: valueKey, wantKey: d == '{'})
		}
	}

	if !started {
		return 0, fmt.Errorf("%w: empty document", domain.ErrStructuralParse)
	}
	if len(stack) > 0 {
		return 0, fmt.Errorf("%w: unexpected end of document", domain.ErrStructuralParse)
	}
	if nested && !hasData {
		return 0, fmt.Errorf("%w: object document has no data member", domain.ErrStructuralParse)
	}
	if nested && dataset == DatasetPrices {
		return -1, nil
	}
	return count, nil
}

// isRecordSlot reports whether a value starting under stack is one record:
// an element of the top-level array, or of a set's cards array inside data.
func isRecordSlot(stack []*scanFrame, dataset string) bool {
	switch len(stack) {
	case 1:
		return stack[0].array
	case 4:
		return dataset == DatasetCards &&
			!stack[0].array &&
			stack[1].name == "data" &&
			stack[3].array && stack[3].name == "cards"
	}
	return false
}
