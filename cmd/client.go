package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/mselser95/slot-auction/pkg/httpserver"
	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8080"

// apiURL resolves the API base URL from --api-url, then API_URL.
func apiURL(cmd *cobra.Command) string {
	u, _ := cmd.Flags().GetString("api-url")
	if u != "" {
		return u
	}
	if env := os.Getenv("API_URL"); env != "" {
		return env
	}
	return defaultAPIURL
}

// newAPIClient builds a client, loading PRIVATE_KEY when the command signs.
func newAPIClient(cmd *cobra.Command, signed bool) (*httpserver.Client, error) {
	if !signed {
		return httpserver.NewClient(apiURL(cmd), nil, nil), nil
	}

	keyHex := os.Getenv("PRIVATE_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("PRIVATE_KEY not set (see the keygen command)")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse PRIVATE_KEY: %w", err)
	}

	return httpserver.NewClient(apiURL(cmd), key, nil), nil
}

// feedURL maps the API base URL onto the websocket event feed.
func feedURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/events/ws"

	return u.String(), nil
}

func parseSlotID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid slot id %q", arg)
	}
	return id, nil
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
