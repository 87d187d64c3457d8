package client

// http_client.go = talks to a running console-server instead of the robot.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/api"
)

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(apiURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ErrNoOdometry is returned while the server has not received a pose yet
var ErrNoOdometry = errors.New("no odometry received yet")

func (c *HTTPClient) Channels() (*api.ChannelsResponse, error) {
	var result api.ChannelsResponse
	if err := c.get("/api/v1/channels", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Odometry() (*api.OdometryResponse, error) {
	var result api.OdometryResponse
	if err := c.get("/api/v1/odometry", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && path == "/api/v1/odometry":
		return ErrNoOdometry
	case resp.StatusCode != http.StatusOK:
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("GET %s failed with status %s: %s", path, resp.Status, body.Error)
		}
		return fmt.Errorf("GET %s failed with status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
