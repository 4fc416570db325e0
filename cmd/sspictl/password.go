package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// EnvPassword supplies the -user password without a prompt.
const EnvPassword = "SSPI_PASSWORD"

// password returns the initiator password from $SSPI_PASSWORD, or prompts
// on stderr and reads stdin, hiding input when stdin is a terminal.
func (s *session) password() (string, error) {
	if p := s.getenv(EnvPassword); p != "" {
		return p, nil
	}

	fmt.Fprint(s.stderr, "Password: ")
	if f, ok := s.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(s.stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	// Not a terminal (piped input): read line
	line, err := bufio.NewReader(s.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
