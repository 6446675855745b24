// services/parser.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// MinSupportedBuild is the oldest game build the parser service understands.
// Replays below it are still persisted but flagged as UnsupportedVersion.
const MinSupportedBuild = 43905

// ParsedReplay is the structured record the parser service extracts from a
// replay file, including the canonical (V3) fingerprint.
type ParsedReplay struct {
	Fingerprint    string    `json:"fingerprint"`
	FingerprintOld *string   `json:"fingerprint_old,omitempty"`
	GameDate       time.Time `json:"game_date"`
	GameType       string    `json:"game_type"`
	GameLength     int       `json:"game_length"`
	Build          int       `json:"build"`
	Region         int       `json:"region"`
	MapName        string    `json:"map_name"`

	Players []ParsedPlayer `json:"players"`
	Bans    []ParsedBan    `json:"bans"`
}

type ParsedPlayer struct {
	BattletagName string         `json:"battletag_name"`
	BattletagID   int            `json:"battletag_id"`
	Hero          string         `json:"hero"`
	HeroLevel     int            `json:"hero_level"`
	Team          int            `json:"team"`
	Winner        bool           `json:"winner"`
	Party         int64          `json:"party"`
	Silenced      bool           `json:"silenced"`
	Talents       []ParsedTalent `json:"talents"`
	Score         *ParsedScore   `json:"score,omitempty"`
}

type ParsedTalent struct {
	Level int    `json:"level"`
	Name  string `json:"name"`
}

type ParsedScore struct {
	Level                  int `json:"level"`
	Kills                  int `json:"kills"`
	Assists                int `json:"assists"`
	Takedowns              int `json:"takedowns"`
	Deaths                 int `json:"deaths"`
	HeroDamage             int `json:"hero_damage"`
	SiegeDamage            int `json:"siege_damage"`
	Healing                int `json:"healing"`
	DamageTaken            int `json:"damage_taken"`
	ExperienceContribution int `json:"experience_contribution"`
}

type ParsedBan struct {
	Hero  string `json:"hero"`
	Round int    `json:"round"`
}

// ReplayParser extracts structured metadata from a raw replay file.
type ReplayParser interface {
	Parse(ctx context.Context, filename string, data []byte) (*ParsedReplay, error)
}

// ParserClient calls the external parser service over HTTP.
type ParserClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewParserClient(baseURL string) *ParserClient {
	return &ParserClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (p *ParserClient) Parse(ctx context.Context, filename string, data []byte) (*ParsedReplay, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser request body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build parser request body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build parser request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+"/parse", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser service request failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("parser service returned %d: %s", resp.StatusCode, string(errBody))
	}

	var parsed ParsedReplay
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode parser response: %w", err)
	}
	return &parsed, nil
}
