package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avkor/facility/internal/domain"
)

// HTTPCentral talks to the central account service's REST API.
type HTTPCentral struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCentral(baseURL string) *HTTPCentral {
	return &HTTPCentral{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPCentral) FetchPlayer(ctx context.Context, id domain.PlayerID) (*domain.Player, error) {
	var p domain.Player
	if err := c.getJSON(ctx, fmt.Sprintf("%s/players/%s", c.baseURL, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPCentral) LatestPlayerNumber(ctx context.Context, facilityID int) (int, error) {
	var out struct {
		Player string `json:"player"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/latest-player-id/%d", c.baseURL, facilityID), &out); err != nil {
		return 0, err
	}
	return idNumber(out.Player)
}

func (c *HTTPCentral) LatestSessionNumber(ctx context.Context, facilityID int) (int, error) {
	var out struct {
		GameSession string `json:"gameSession"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/latest-game-session-id/%d", c.baseURL, facilityID), &out); err != nil {
		return 0, err
	}
	return idNumber(out.GameSession)
}

// idNumber extracts the counter from a facility-scoped ID ("F1-17" -> 17).
// An empty ID means the facility has none yet.
func idNumber(id string) (int, error) {
	if id == "" {
		return 0, nil
	}
	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed id %q", id)
	}
	return strconv.Atoi(parts[1])
}

func (c *HTTPCentral) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
