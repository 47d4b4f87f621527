package querycache

import (
	"encoding/json"
	"fmt"
)

// Key builds the query key of an operation and its parameters: the operation
// name followed by the canonical JSON of the parameters. Map keys are sorted by
// encoding/json and struct fields keep declaration order, so equal parameters
// always serialize to the same key.
func Key(op string, params any) string {
	if params == nil {
		return op + "()"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s(%v)", op, params)
	}
	return op + "(" + string(data) + ")"
}
