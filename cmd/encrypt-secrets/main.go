// Command encrypt-secrets seals a plaintext YAML secrets file for the
// data-dash file secret store.
//
// Usage:
//
//	SECRETS_KEY=my-passphrase encrypt-secrets -in secrets.yaml -out secrets.enc
//
// The input lists secrets under a top-level "secrets" mapping. Without -in
// the plaintext is read from stdin; without -out the envelope is written to
// stdout. Output files are created with 0400 permissions.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/acme/data-dash/internal/secrets"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("encrypt-secrets", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var inFile, outFile string
	fs.StringVar(&inFile, "in", "", "path to plaintext YAML secrets file (default stdin)")
	fs.StringVar(&outFile, "out", "", "path to write encrypted output (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	passphrase := os.Getenv(secrets.KeyEnvVar)
	if passphrase == "" {
		fmt.Fprintln(stderr, "error: SECRETS_KEY environment variable is required")
		return 1
	}

	var (
		plaintext []byte
		err       error
	)
	if inFile == "" {
		plaintext, err = io.ReadAll(stdin)
	} else {
		plaintext, err = os.ReadFile(inFile)
	}
	if err != nil {
		fmt.Fprintln(stderr, "error: cannot read input")
		return 1
	}
	defer clear(plaintext)

	encrypted, err := secrets.Seal(plaintext, passphrase)
	if err != nil {
		fmt.Fprintln(stderr, "error: encryption failed")
		return 1
	}

	if outFile == "" {
		if _, err := stdout.Write(encrypted); err != nil {
			fmt.Fprintln(stderr, "error: cannot write output")
			return 1
		}
	} else if err := writeReadOnly(outFile, encrypted); err != nil {
		fmt.Fprintln(stderr, "error: cannot write output file")
		return 1
	}

	fmt.Fprintln(stderr, "encrypted secrets written successfully")
	return 0
}

// writeReadOnly replaces path with data and forces 0400 even when the file
// already existed with a wider mode.
func writeReadOnly(path string, data []byte) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.WriteFile(path, data, 0o400); err != nil {
		return err
	}
	return os.Chmod(path, 0o400)
}
