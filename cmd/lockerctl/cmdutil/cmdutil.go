// Package cmdutil holds state and helpers shared by every lockerctl
// subcommand, mirroring dfsctl/cmdutil's role as the thin glue between
// cobra's flag parsing and the actual HTTP calls.
package cmdutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CommandFlags holds global flag values synced from the root command's
// PersistentPreRun, read by every subcommand.
type CommandFlags struct {
	Addr string
}

// Flags is the process-wide flag state, set once by commands.Execute's
// PersistentPreRun.
var Flags CommandFlags

var httpClient = &http.Client{Timeout: 5 * time.Second}

// FetchJSON GETs path off the configured lockersimd debug listener and
// decodes the response body into out.
func FetchJSON(path string, out any) error {
	if Flags.Addr == "" {
		return fmt.Errorf("no --addr configured; point lockerctl at a running lockersimd --debug-addr")
	}
	url := "http://" + Flags.Addr + path
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("X-Request-Id", uuid.New().String())

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
