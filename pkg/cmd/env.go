package cmd

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads the first of paths that exists into the process environment, so the
// flags' environment sources see it. Variables already set are kept. It returns the path
// loaded, or "" when none exists.
func LoadDotEnv(paths ...string) (string, error) {
	for _, path := range paths {
		err := godotenv.Load(path)
		if err == nil {
			return path, nil
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}

	return "", nil
}
