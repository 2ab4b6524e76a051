package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// apiClient is a minimal client for the daemon's query surface.
type apiClient struct {
	addr string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		addr: addr,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) get(path string, out interface{}) error {
	resp, err := c.http.Get("http://" + c.addr + path)
	if err != nil {
		return errors.Wrap(err, "is the deckstream daemon running?")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) post(path string, out interface{}) error {
	resp, err := c.http.Post("http://"+c.addr+path, "application/json", nil)
	if err != nil {
		return errors.Wrap(err, "is the deckstream daemon running?")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type controlResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func printResult(res controlResult) error {
	if !res.OK {
		return fmt.Errorf("%s", res.Message)
	}
	fmt.Println("ok")
	return nil
}
