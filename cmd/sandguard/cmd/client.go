package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, host+path, body)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if envKey := os.Getenv("SANDGUARD_API_KEY"); envKey != "" {
		req.Header.Set("Authorization", "Bearer "+envKey)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return http.DefaultClient.Do(req)
}

func sandboxPath(module, tenant, version string) string {
	return fmt.Sprintf("/sandboxes/%s/%s/%s",
		url.PathEscape(module), url.PathEscape(tenant), url.PathEscape(version))
}

// fail prints the server's explanation for a non-2xx response and exits.
func fail(resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(os.Stderr, "Request failed with status %d: %s\n", resp.StatusCode, string(body))
	os.Exit(1)
}
