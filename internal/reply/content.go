package reply

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrUsage reports an invalid combination of content sources.
var ErrUsage = errors.New("reply: usage")

// ReadContent returns the reply text from exactly one of an inline argument,
// a file path or stdin. The result is trimmed; an empty result is not an error
// here, Send rejects it.
func ReadContent(arg, file string, stdin io.Reader, useStdin bool) (string, error) {
	sources := 0
	for _, set := range []bool{arg != "", file != "", useStdin} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return "", fmt.Errorf("%w: give the reply inline, with --file, or with --stdin, not several", ErrUsage)
	}

	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read reply file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case useStdin:
		if stdin == nil {
			return "", fmt.Errorf("%w: stdin unavailable", ErrUsage)
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read reply from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return strings.TrimSpace(arg), nil
	}
}
