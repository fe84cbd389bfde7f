package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Environ, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, environ func() []string, args []string, in *os.File, out io.Writer) error {
	c := NewConfig()

	if err := c.LoadEnv(environMap(environ())); err != nil {
		return err
	}
	if err := c.ParseFlags(args); err != nil {
		return err
	}

	// Password is not echoed when typed in terminal, piped input is read line by line
	var readPassword func() (string, error)
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		readPassword = func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		}
	}

	a, err := newApp(c, bufio.NewScanner(in), out, readPassword)
	if err != nil {
		return err
	}

	a.run(ctx)
	return nil
}

// Convert 'KEY=value' pairs to map
func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			m[key] = value
		}
	}
	return m
}
