package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Upper is a trivial built-in module that upper-cases its input. It exists
// so the queue can be exercised end to end without an external NLP service,
// and doubles as the reference implementation of the Module interface.
type Upper struct{}

func (Upper) Name() string { return "upper" }

func (Upper) Process(text string) (string, error) {
	return strings.ToUpper(text), nil
}

// Convert supports the "json" format, wrapping the result in a small object.
func (Upper) Convert(result, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.Marshal(map[string]string{"result": result})
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("upper: unsupported format %q", format)
	}
}

func (Upper) CheckStatus(ctx context.Context) error { return nil }
