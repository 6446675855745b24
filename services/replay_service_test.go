package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"replay-registry/models"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(
		&models.GameMap{},
		&models.Hero{},
		&models.Replay{},
		&models.Player{},
		&models.Talent{},
		&models.Score{},
		&models.Ban{},
	); err != nil {
		t.Fatal(err)
	}
	return db
}

type fakeParser struct {
	parsed *ParsedReplay
	err    error
}

func (f *fakeParser) Parse(ctx context.Context, filename string, data []byte) (*ParsedReplay, error) {
	return f.parsed, f.err
}

type fakeStore struct {
	saved []string
}

func (f *fakeStore) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.saved = append(f.saved, key)
	return "https://cdn.test/" + key, nil
}

type fakeRelay struct {
	enqueued []uint
	full     bool
}

func (f *fakeRelay) Enqueue(replayID uint) bool {
	if f.full {
		return false
	}
	f.enqueued = append(f.enqueued, replayID)
	return true
}

func newTestService(t *testing.T, parser ReplayParser) (*ReplayService, *fakeStore, *fakeRelay) {
	t.Helper()
	db := newTestDB(t)
	store := &fakeStore{}
	relay := &fakeRelay{}
	return NewReplayService(db, db, parser, store, relay), store, relay
}

func newTestApp(s *ReplayService) *fiber.App {
	app := fiber.New()
	app.Post("/replays", s.UploadReplay)
	app.Get("/replays", s.ListReplays)
	app.Get("/replays/paged", s.PagedReplays)
	app.Get("/replays/min-build", s.MinimumBuild)
	app.Get("/replays/fingerprints/v3/:fingerprint", s.CheckV3)
	app.Get("/replays/fingerprints/v2/:fingerprint", s.CheckV2)
	app.Get("/replays/fingerprints/v1/:fingerprint", s.CheckV1)
	app.Post("/replays/fingerprints", s.MassCheck)
	app.Get("/replays/:id", s.GetReplayByID)
	return app
}

func sampleParsed(fingerprint string, build int) *ParsedReplay {
	old := "legacy-" + fingerprint
	return &ParsedReplay{
		Fingerprint:    fingerprint,
		FingerprintOld: &old,
		GameDate:       time.Date(2019, 6, 10, 12, 0, 0, 0, time.UTC),
		GameType:       "HeroLeague",
		GameLength:     1200,
		Build:          build,
		Region:         1,
		MapName:        "Braxis Holdout",
		Players: []ParsedPlayer{
			{
				BattletagName: "Foo", BattletagID: 123, Hero: "Valla", HeroLevel: 12,
				Team: 0, Winner: true,
				Talents: []ParsedTalent{{Level: 1, Name: "MonsterHunter"}, {Level: 4, Name: "Puncturing Arrow"}},
				Score:   &ParsedScore{Level: 20, Kills: 5, Takedowns: 11, Deaths: 2, HeroDamage: 54000},
			},
			{
				BattletagName: "Bar", BattletagID: 456, Hero: "Muradin", HeroLevel: 30,
				Team: 1, Winner: false,
				Talents: []ParsedTalent{{Level: 1, Name: "Block"}},
				Score:   &ParsedScore{Level: 18, Kills: 1, Deaths: 5, DamageTaken: 70000},
			},
		},
		Bans: []ParsedBan{{Hero: "Maiev", Round: 1}, {Hero: "Valla", Round: 2}},
	}
}

func uploadRequest(t *testing.T, withFile, relayFlag bool) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	if withFile {
		part, err := w.CreateFormFile("file", "game.StormReplay")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte("replay-bytes")); err != nil {
			t.Fatal(err)
		}
	}
	if relayFlag {
		if err := w.WriteField("uploadToRelay", "1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/replays", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", raw, err)
	}
	return out
}

func TestUploadNoFile(t *testing.T) {
	s, store, _ := newTestService(t, &fakeParser{})
	app := newTestApp(s)

	resp, err := app.Test(uploadRequest(t, false, false), -1)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["Error"] != "no file specified" {
		t.Errorf("Error = %v, want %q", body["Error"], "no file specified")
	}
	if len(store.saved) != 0 {
		t.Error("no-file upload must not touch storage")
	}
	var count int64
	s.DB.Model(&models.Replay{}).Count(&count)
	if count != 0 {
		t.Errorf("replays persisted = %d, want 0", count)
	}
}

func TestUploadSuccessPersistsGraph(t *testing.T) {
	s, store, relay := newTestService(t, &fakeParser{parsed: sampleParsed("fp-success", MinSupportedBuild+10)})
	app := newTestApp(s)

	resp, err := app.Test(uploadRequest(t, true, false), -1)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp)
	if body["success"] != true {
		t.Fatalf("success = %v, want true", body["success"])
	}
	if body["status"] != models.StatusSuccess {
		t.Errorf("status = %v, want %q", body["status"], models.StatusSuccess)
	}
	if body["originalName"] != "game.StormReplay" {
		t.Errorf("originalName = %v", body["originalName"])
	}
	if body["id"] == nil || body["filename"] == "" || body["url"] == "" {
		t.Errorf("missing persisted replay fields in response: %v", body)
	}
	if len(store.saved) != 1 {
		t.Fatalf("stored files = %d, want 1", len(store.saved))
	}
	if len(relay.enqueued) != 0 {
		t.Error("relay enqueued without being requested")
	}

	var replay models.Replay
	err = s.DB.Preload("GameMap").
		Preload("Players").Preload("Players.Hero").
		Preload("Players.Talents").Preload("Players.Score").
		Preload("Bans").Preload("Bans.Hero").
		First(&replay, "fingerprint = ?", "fp-success").Error
	if err != nil {
		t.Fatal(err)
	}
	if replay.GameMap.Name != "Braxis Holdout" {
		t.Errorf("map = %q", replay.GameMap.Name)
	}
	if len(replay.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(replay.Players))
	}
	if len(replay.Players[0].Talents) != 2 || replay.Players[0].Score == nil {
		t.Error("player sub-records not persisted")
	}
	if len(replay.Bans) != 2 || replay.Bans[0].Hero.Name == "" {
		t.Error("bans not persisted with heroes")
	}
	if replay.FingerprintOld == nil || *replay.FingerprintOld != "legacy-fp-success" {
		t.Error("legacy fingerprint not persisted")
	}
}

func TestUploadIdempotentDuplicate(t *testing.T) {
	s, _, _ := newTestService(t, &fakeParser{parsed: sampleParsed("fp-dup", MinSupportedBuild+10)})
	app := newTestApp(s)

	first, err := app.Test(uploadRequest(t, true, false), -1)
	if err != nil {
		t.Fatal(err)
	}
	firstBody := decodeJSON(t, first)

	second, err := app.Test(uploadRequest(t, true, false), -1)
	if err != nil {
		t.Fatal(err)
	}
	secondBody := decodeJSON(t, second)

	if secondBody["success"] != true {
		t.Errorf("duplicate outcome must still be a success response, got %v", secondBody)
	}
	if secondBody["status"] != models.StatusDuplicate {
		t.Errorf("status = %v, want %q", secondBody["status"], models.StatusDuplicate)
	}
	if secondBody["id"] != firstBody["id"] {
		t.Errorf("duplicate must reference the first replay: %v vs %v", secondBody["id"], firstBody["id"])
	}

	var count int64
	s.DB.Model(&models.Replay{}).Count(&count)
	if count != 1 {
		t.Errorf("replays persisted = %d, want exactly 1", count)
	}
}

// The unique index on fingerprint resolves concurrent ingestion of the same
// file: the loser's insert must surface as gorm.ErrDuplicatedKey.
func TestPersistReplayDuplicateKey(t *testing.T) {
	db := newTestDB(t)
	parsed := sampleParsed("race-fp", MinSupportedBuild+10)

	first := &models.Replay{Fingerprint: parsed.Fingerprint}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return persistReplay(tx, first, parsed)
	}); err != nil {
		t.Fatal(err)
	}

	second := &models.Replay{Fingerprint: parsed.Fingerprint}
	err := db.Transaction(func(tx *gorm.DB) error {
		return persistReplay(tx, second, parsed)
	})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("err = %v, want gorm.ErrDuplicatedKey", err)
	}

	var count int64
	db.Model(&models.Replay{}).Where("fingerprint = ?", parsed.Fingerprint).Count(&count)
	if count != 1 {
		t.Errorf("replays = %d, want 1", count)
	}
}

func TestUploadUnsupportedBuildPersistedButFlagged(t *testing.T) {
	s, _, _ := newTestService(t, &fakeParser{parsed: sampleParsed("fp-old-build", MinSupportedBuild-1)})
	app := newTestApp(s)

	resp, err := app.Test(uploadRequest(t, true, false), -1)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp)
	if body["status"] != models.StatusUnsupportedVersion {
		t.Errorf("status = %v, want %q", body["status"], models.StatusUnsupportedVersion)
	}

	var count int64
	s.DB.Model(&models.Replay{}).Where("fingerprint = ?", "fp-old-build").Count(&count)
	if count != 1 {
		t.Error("unsupported-build replay must still be persisted")
	}
}

func TestUploadRelayRequested(t *testing.T) {
	s, _, relay := newTestService(t, &fakeParser{parsed: sampleParsed("fp-relay", MinSupportedBuild+10)})
	app := newTestApp(s)

	resp, err := app.Test(uploadRequest(t, true, true), -1)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp)
	if body["status"] != models.StatusSuccess {
		t.Fatalf("status = %v", body["status"])
	}
	if len(relay.enqueued) != 1 {
		t.Fatalf("relay enqueued = %v, want one id", relay.enqueued)
	}

	var replay models.Replay
	if err := s.DB.First(&replay, "fingerprint = ?", "fp-relay").Error; err != nil {
		t.Fatal(err)
	}
	if replay.RelayStatus != models.RelayStatusQueued {
		t.Errorf("relay_status = %q, want %q", replay.RelayStatus, models.RelayStatusQueued)
	}
	if relay.enqueued[0] != replay.ID {
		t.Errorf("enqueued id %d, want %d", relay.enqueued[0], replay.ID)
	}
}

func TestUploadRelayDropNeverFailsRequest(t *testing.T) {
	s, _, relay := newTestService(t, &fakeParser{parsed: sampleParsed("fp-relay-full", MinSupportedBuild+10)})
	relay.full = true
	app := newTestApp(s)

	resp, err := app.Test(uploadRequest(t, true, true), -1)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp)
	if body["success"] != true || body["status"] != models.StatusSuccess {
		t.Errorf("dropped relay handoff must not affect the upload outcome: %v", body)
	}
}

func TestShowReplay(t *testing.T) {
	s, _, _ := newTestService(t, &fakeParser{parsed: sampleParsed("fp-show", MinSupportedBuild+10)})
	app := newTestApp(s)

	resp, err := app.Test(uploadRequest(t, true, false), -1)
	if err != nil {
		t.Fatal(err)
	}
	id := decodeJSON(t, resp)["id"].(float64)

	resp, err = app.Test(httptest.NewRequest("GET", "/replays/"+jsonNumber(id), nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	players, ok := body["players"].([]any)
	if !ok || len(players) != 2 {
		t.Errorf("show must include full player detail, got %v", body["players"])
	}
	if body["game_map"].(map[string]any)["name"] != "Braxis Holdout" {
		t.Error("show must include map")
	}
}

func TestShowReplayNotFound(t *testing.T) {
	s, _, _ := newTestService(t, &fakeParser{})
	app := newTestApp(s)

	resp, err := app.Test(httptest.NewRequest("GET", "/replays/9999", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMinimumBuild(t *testing.T) {
	s, _, _ := newTestService(t, &fakeParser{})
	app := newTestApp(s)

	resp, err := app.Test(httptest.NewRequest("GET", "/replays/min-build", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != "43905" {
		t.Errorf("min build = %q", raw)
	}
}

func jsonNumber(f float64) string {
	return strconv.Itoa(int(f))
}

func decodeJSONInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("invalid JSON %q: %v", raw, err)
	}
}
