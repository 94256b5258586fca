package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrNoServers = errors.New("no servers available")

// Server is one connect candidate as listed by a master server.
type Server struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
	Region     string `json:"region"`
}

// Full reports whether the server has no free player slots.
func (s Server) Full() bool {
	return s.MaxPlayers > 0 && s.Players >= s.MaxPlayers
}

// ServerSource lists connect candidates, best first.
type ServerSource interface {
	Servers(ctx context.Context) ([]Server, error)
}

// StaticSource always offers the single configured endpoint.
type StaticSource struct {
	Endpoint string
}

func (s StaticSource) Servers(context.Context) ([]Server, error) {
	if s.Endpoint == "" {
		return nil, ErrNoServers
	}
	return []Server{{Name: "local", Address: s.Endpoint}}, nil
}

// HTTPServerSource fetches the server list from a master server's
// GET /servers endpoint. Full servers and, when Version is set, servers on
// another version are skipped.
type HTTPServerSource struct {
	URL     string
	Version string
	Client  *http.Client
}

func NewHTTPServerSource(url, version string) *HTTPServerSource {
	return &HTTPServerSource{
		URL:     strings.TrimRight(url, "/"),
		Version: version,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPServerSource) Servers(ctx context.Context) ([]Server, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/servers", nil)
	if err != nil {
		return nil, fmt.Errorf("server list request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch server list: status %d", resp.StatusCode)
	}

	var all []Server
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("decode server list: %w", err)
	}

	out := all[:0]
	for _, srv := range all {
		if srv.Address == "" || srv.Full() {
			continue
		}
		if s.Version != "" && srv.Version != "" && srv.Version != s.Version {
			continue
		}
		out = append(out, srv)
	}
	if len(out) == 0 {
		return nil, ErrNoServers
	}
	return out, nil
}
