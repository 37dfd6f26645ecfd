package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"uvcal/internal/web"
)

// runHashPassword prompts for a password and prints its Argon2id hash for
// use as basic_auth.password.
func runHashPassword(in *os.File, out io.Writer) error {
	r := bufio.NewReader(in)
	password, err := readPassword(in, r, out, "Enter password:   ")
	if err != nil {
		return err
	}
	confirm, err := readPassword(in, r, out, "Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	hash, err := web.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// readPassword reads without echo from a terminal, or one line otherwise.
func readPassword(in *os.File, r *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
