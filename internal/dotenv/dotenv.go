// Package dotenv loads a local .env file so keys and tokens stay out of the
// shell history. A missing file is not an error; a malformed one is.
package dotenv

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads .env from the working directory into the process environment.
func Load() error {
	err := godotenv.Load()
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}
