package lemmy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// tokenFile is the persisted login token for one (server, identity) pair.
// Plain JSON so other tooling can read it.
type tokenFile struct {
	JWT string `json:"jwt"`
}

func tokenPath(dir, server, username string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_token.json", server, username))
}

// loadToken reads a persisted token. Returns "" if the file doesn't exist.
func loadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("corrupt token file %s: %w", path, err)
	}
	return tf.JWT, nil
}

// saveToken persists a token with owner-only permissions, replacing any
// previous file.
func saveToken(path, jwt string) error {
	data, err := json.Marshal(tokenFile{JWT: jwt})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
