// Package clipboard moves text between the system clipboard and vault commands.
package clipboard

import (
	"errors"
	"strings"

	"github.com/atotto/clipboard"
)

// ErrEmpty means the clipboard holds no usable text.
var ErrEmpty = errors.New("clipboard is empty or contains only whitespace")

// Paste reads text from the system clipboard without trailing whitespace.
func Paste() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", err
	}
	return normalize(text)
}

func normalize(text string) (string, error) {
	text = strings.TrimRight(text, " \t\n\r")
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// Copy writes text to the system clipboard
func Copy(text string) error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}
