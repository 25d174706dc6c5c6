// Package keys is an interactive helper that encrypts exchange credentials
// for EXCHANGE_API_KEY / EXCHANGE_API_SECRET.
package keys

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	logger "github.com/sirupsen/logrus"

	"gridexecutor/src/security"
)

type Keys struct {
	In  io.Reader
	Out io.Writer
}

func (k *Keys) printUsage() {
	fmt.Fprintln(k.Out, "Available commands:")
	fmt.Fprintln(k.Out, "  help                             Show this help message")
	fmt.Fprintln(k.Out, "  shutdown                         Exit the application")
	fmt.Fprintln(k.Out, "  set_key <api_key> <api_secret>   Print the encrypted env lines for a key pair")
	fmt.Fprintln(k.Out, "  encrypt <value>                  Encrypt a single value")
	fmt.Fprintln(k.Out, "  decrypt <value>                  Decrypt a value to check it")
	fmt.Fprintln(k.Out)
}

// Encrypt prints the env lines for one key pair without the prompt loop.
func (k *Keys) Encrypt(apiKey, apiSecret string) error {
	encryptKey, err := security.EncryptString(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	encryptSecret, err := security.EncryptString(apiSecret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	fmt.Fprintf(k.Out, "EXCHANGE_API_KEY=%s\n", encryptKey)
	fmt.Fprintf(k.Out, "EXCHANGE_API_SECRET=%s\n", encryptSecret)
	return nil
}

// Start reads commands until shutdown or end of input.
func (k *Keys) Start() error {
	reader := bufio.NewScanner(k.In)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		fmt.Fprint(k.Out, "cmd> ")

		if !reader.Scan() {
			fmt.Fprintln(k.Out)
			return reader.Err()
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {
		case "shutdown":
			fmt.Fprintln(k.Out, "Exiting CLI...")
			return nil

		case "help":
			k.printUsage()

		case "set_key":
			if len(parts) != 3 {
				k.printUsage()
				continue
			}
			if err := k.Encrypt(parts[1], parts[2]); err != nil {
				logger.WithError(err).Error("Failed to encrypt key pair")
			}

		case "encrypt":
			if len(parts) != 2 {
				k.printUsage()
				continue
			}
			enc, err := security.EncryptString(parts[1])
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt value")
				continue
			}
			fmt.Fprintln(k.Out, enc)

		case "decrypt":
			if len(parts) != 2 {
				k.printUsage()
				continue
			}
			plain, err := security.DecryptString(parts[1])
			if err != nil {
				fmt.Fprintf(k.Out, "decrypt failed: %v\n", err)
				continue
			}
			fmt.Fprintln(k.Out, plain)

		default:
			fmt.Fprintf(k.Out, "unknown command %q\n", parts[0])
			k.printUsage()
		}
	}
}
