// Package firebase is the mobile-push channel adapter. Recipients are device
// registration tokens; each token gets its own send so results and error
// keys stay per-recipient.
package firebase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrInit reports structurally invalid push credentials.
var ErrInit = errors.New("invalid push credentials")

// Credentials locate a service account: inline JSON or a filesystem path.
// When both are set the inline JSON wins.
type Credentials struct {
	JSON []byte
	Path string
}

// Handle is the process-wide initialized push client state.
type Handle struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
	TokenURI    string
}

type serviceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

var (
	initMu     sync.Mutex
	initHandle *Handle
)

// Init loads the service account and caches the result process-wide.
// Subsequent calls attach to the existing handle regardless of the
// credentials passed. Structurally invalid credentials fail with ErrInit.
func Init(creds Credentials) (*Handle, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if initHandle != nil {
		return initHandle, nil
	}

	raw := creds.JSON
	if len(raw) == 0 {
		if creds.Path == "" {
			return nil, fmt.Errorf("%w: no credentials provided", ErrInit)
		}
		var err error
		raw, err = os.ReadFile(creds.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInit, creds.Path, err)
		}
	}

	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}
	if sa.ProjectID == "" || sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("%w: project_id, client_email and private_key are required", ErrInit)
	}
	if sa.TokenURI == "" {
		sa.TokenURI = "https://oauth2.googleapis.com/token"
	}

	initHandle = &Handle{
		ProjectID:   sa.ProjectID,
		ClientEmail: sa.ClientEmail,
		PrivateKey:  sa.PrivateKey,
		TokenURI:    sa.TokenURI,
	}
	return initHandle, nil
}

// Initialized reports whether Init has succeeded in this process.
func Initialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initHandle != nil
}

// resetInit clears the process-wide handle. Test-only.
func resetInit() {
	initMu.Lock()
	defer initMu.Unlock()
	initHandle = nil
}
