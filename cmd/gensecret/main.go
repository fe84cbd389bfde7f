package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const (
	defaultSecretBytesLen = 32
	minSecretBytesLen     = 16
)

// Prints random hex secret suitable for ACCESS_TOKEN_SECRET
func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	n := fs.IntP("bytes", "n", defaultSecretBytesLen, "Secret length in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *n < minSecretBytesLen {
		return fmt.Errorf("secret must be at least %d bytes long", minSecretBytesLen)
	}

	b := make([]byte, *n)
	if _, err := rand.Read(b); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, hex.EncodeToString(b))
	return err
}
