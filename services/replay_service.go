// services/replay_service.go
package services

import (
	"context"
	"errors"
	"log"
	"strconv"

	"replay-registry/models"
	"replay-registry/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ReplayStore persists raw replay files and returns their public URL.
type ReplayStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// RelayEnqueuer hands a persisted replay off to the relay upload worker.
// Enqueue must never block; it reports false when the handoff was dropped.
type RelayEnqueuer interface {
	Enqueue(replayID uint) bool
}

type ReplayService struct {
	DB        *gorm.DB // write path
	ReplicaDB *gorm.DB // read-only catalog queries
	Parser    ReplayParser
	Store     ReplayStore
	Relay     RelayEnqueuer
}

func NewReplayService(db, replicaDB *gorm.DB, parser ReplayParser, store ReplayStore, relay RelayEnqueuer) *ReplayService {
	return &ReplayService{
		DB:        db,
		ReplicaDB: replicaDB,
		Parser:    parser,
		Store:     store,
		Relay:     relay,
	}
}

// UploadReplay ingests an uploaded replay file: parse, dedup, store, persist.
// Domain outcomes (duplicate, unsupported build) are reported in the status
// field of a success response, never as HTTP errors.
func (s *ReplayService) UploadReplay(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(fiber.Map{"success": false, "Error": "no file specified"})
	}
	uploadToRelay := parseBool(c.FormValue("uploadToRelay"))

	data, err := utils.ReadMultipartFile(fileHeader)
	if err != nil {
		log.Printf("failed to read uploaded file %q: %v", fileHeader.Filename, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read uploaded file"})
	}

	parsed, err := s.Parser.Parse(c.UserContext(), fileHeader.Filename, data)
	if err != nil {
		log.Printf("failed to parse replay %q: %v", fileHeader.Filename, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to parse replay"})
	}

	// Pre-check on the write handle: the replica may not have seen a replay
	// persisted moments ago.
	if existing, err := findByFingerprint(s.DB, parsed.Fingerprint, FingerprintV3); err != nil {
		log.Printf("dedup check failed for %q: %v", parsed.Fingerprint, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to check for duplicate"})
	} else if existing != nil {
		if uploadToRelay {
			s.enqueueRelay(existing.ID)
		}
		return c.JSON(uploadResponse(models.StatusDuplicate, fileHeader.Filename, existing))
	}

	filename := uuid.NewString() + "_" + slug.Make(parsed.MapName) + ".StormReplay"
	url, err := s.Store.Save(c.UserContext(), "replays/"+filename, data, "application/octet-stream")
	if err != nil {
		log.Printf("failed to store replay file %q: %v", filename, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store replay file"})
	}

	replay := &models.Replay{
		Fingerprint:    parsed.Fingerprint,
		FingerprintOld: parsed.FingerprintOld,
		Filename:       filename,
		URL:            url,
		GameDate:       parsed.GameDate,
		GameType:       parsed.GameType,
		GameLength:     parsed.GameLength,
		Build:          parsed.Build,
		Region:         parsed.Region,
	}
	if uploadToRelay {
		replay.RelayStatus = models.RelayStatusQueued
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		return persistReplay(tx, replay, parsed)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race against a concurrent upload of the same file — the
		// unique index on fingerprint picked the winner.
		winner, ferr := findByFingerprint(s.DB, parsed.Fingerprint, FingerprintV3)
		if ferr != nil || winner == nil {
			log.Printf("failed to load winning duplicate for %q: %v", parsed.Fingerprint, ferr)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to persist replay"})
		}
		if uploadToRelay {
			s.enqueueRelay(winner.ID)
		}
		return c.JSON(uploadResponse(models.StatusDuplicate, fileHeader.Filename, winner))
	}
	if err != nil {
		log.Printf("failed to persist replay %q: %v", parsed.Fingerprint, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to persist replay"})
	}

	status := models.StatusSuccess
	if parsed.Build < MinSupportedBuild {
		status = models.StatusUnsupportedVersion
	}
	if uploadToRelay {
		s.enqueueRelay(replay.ID)
	}
	return c.JSON(uploadResponse(status, fileHeader.Filename, replay))
}

// persistReplay inserts the replay and its map/players/bans graph. Map and hero
// rows are shared lookups, created on first sight.
func persistReplay(tx *gorm.DB, replay *models.Replay, parsed *ParsedReplay) error {
	var gameMap models.GameMap
	if err := tx.Where(models.GameMap{Name: parsed.MapName}).FirstOrCreate(&gameMap).Error; err != nil {
		return err
	}
	replay.GameMapID = gameMap.ID

	if err := tx.Create(replay).Error; err != nil {
		return err
	}

	heroes := map[string]uint{}
	heroID := func(name string) (uint, error) {
		if id, ok := heroes[name]; ok {
			return id, nil
		}
		var hero models.Hero
		if err := tx.Where(models.Hero{Name: name}).FirstOrCreate(&hero).Error; err != nil {
			return 0, err
		}
		heroes[name] = hero.ID
		return hero.ID, nil
	}

	for _, p := range parsed.Players {
		id, err := heroID(p.Hero)
		if err != nil {
			return err
		}
		player := models.Player{
			ReplayID:      replay.ID,
			BattletagName: p.BattletagName,
			BattletagID:   p.BattletagID,
			HeroID:        id,
			HeroLevel:     p.HeroLevel,
			Team:          p.Team,
			Winner:        p.Winner,
			Party:         p.Party,
			Silenced:      p.Silenced,
		}
		for _, t := range p.Talents {
			player.Talents = append(player.Talents, models.Talent{Level: t.Level, Name: t.Name})
		}
		if p.Score != nil {
			player.Score = &models.Score{
				Level:                  p.Score.Level,
				Kills:                  p.Score.Kills,
				Assists:                p.Score.Assists,
				Takedowns:              p.Score.Takedowns,
				Deaths:                 p.Score.Deaths,
				HeroDamage:             p.Score.HeroDamage,
				SiegeDamage:            p.Score.SiegeDamage,
				Healing:                p.Score.Healing,
				DamageTaken:            p.Score.DamageTaken,
				ExperienceContribution: p.Score.ExperienceContribution,
			}
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}
	}

	for _, b := range parsed.Bans {
		id, err := heroID(b.Hero)
		if err != nil {
			return err
		}
		ban := models.Ban{ReplayID: replay.ID, HeroID: id, Round: b.Round}
		if err := tx.Create(&ban).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetReplayByID returns the full replay detail graph.
func (s *ReplayService) GetReplayByID(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid replay id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), QueryTimeout)
	defer cancel()

	var replay models.Replay
	err = s.ReplicaDB.WithContext(ctx).
		Preload("GameMap").
		Preload("Bans").Preload("Bans.Hero").
		Preload("Players").Preload("Players.Hero").
		Preload("Players.Talents").Preload("Players.Score").
		First(&replay, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "replay not found"})
	}
	if err != nil {
		log.Printf("replay lookup failed for id %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch replay"})
	}
	return c.JSON(replay)
}

// MinimumBuild returns the oldest supported build as a bare integer.
func (s *ReplayService) MinimumBuild(c *fiber.Ctx) error {
	return c.SendString(strconv.Itoa(MinSupportedBuild))
}

// enqueueRelay hands a replay to the relay worker. Best-effort: a full queue or
// missing worker never affects the caller's request.
func (s *ReplayService) enqueueRelay(replayID uint) {
	if s.Relay == nil {
		return
	}
	if !s.Relay.Enqueue(replayID) {
		log.Printf("relay queue full, dropping replay %d", replayID)
	}
}

func uploadResponse(status, originalName string, replay *models.Replay) fiber.Map {
	return fiber.Map{
		"success":      true,
		"status":       status,
		"originalName": originalName,
		"filename":     replay.Filename,
		"url":          replay.URL,
		"id":           replay.ID,
	}
}

func parseBool(v string) bool {
	return v == "1" || v == "true" || v == "on"
}
