package keyring

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
)

// ReadSecret prompts for the shared secret on the terminal with echo
// disabled. With confirm set the secret must be typed twice and both entries
// must agree; use it when storing, not when connecting.
func ReadSecret(label string, confirm bool) (string, error) {
	first, err := promptOnce("Enter secret", label)
	if err != nil {
		return "", err
	}
	if !confirm {
		return first, nil
	}

	second, err := promptOnce("Confirm secret", label)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("secrets do not match")
	}
	return first, nil
}

func promptOnce(verb, label string) (string, error) {
	if label == "" {
		fmt.Fprintf(os.Stderr, "%s: ", verb)
	} else {
		fmt.Fprintf(os.Stderr, "%s for %s: ", verb, label)
	}

	line, err := term.ReadPassword(int(syscall.Stdin))
	// The suppressed echo swallowed the user's newline.
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(line), nil
}
