// services/query.go
package services

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"replay-registry/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// PageSize is the fixed number of replays per page.
const PageSize = 100

// QueryTimeout bounds catalog query execution so a bad filter combination can't
// hold a replica connection indefinitely.
const QueryTimeout = 30 * time.Second

// ReplayFilter holds the optional, request-scoped catalog filters. Zero values
// impose no filter.
type ReplayFilter struct {
	StartDate   string
	EndDate     string
	GameType    string
	MinID       int
	Player      string
	WithPlayers bool
}

func parseReplayFilter(c *fiber.Ctx) ReplayFilter {
	return ReplayFilter{
		StartDate:   c.Query("start_date"),
		EndDate:     c.Query("end_date"),
		GameType:    c.Query("game_type"),
		MinID:       c.QueryInt("min_id"),
		Player:      c.Query("player"),
		WithPlayers: parseBool(c.Query("with_players")),
	}
}

// buildReplayQuery composes only the predicates present in the filter, always
// ordered ascending by id so min_id-based polling pages deterministically.
func buildReplayQuery(db *gorm.DB, f ReplayFilter) *gorm.DB {
	query := db.Model(&models.Replay{}).Preload("GameMap")

	if f.StartDate != "" {
		query = query.Where("game_date >= ?", f.StartDate)
	}
	if f.EndDate != "" {
		query = query.Where("game_date <= ?", f.EndDate)
	}
	if f.GameType != "" {
		query = query.Where("game_type = ?", f.GameType)
	}
	if f.MinID > 0 {
		query = query.Where("id >= ?", f.MinID)
	}
	if f.Player != "" {
		query = query.Where("id IN (?)", playerSubquery(db, f.Player))
	}
	if f.WithPlayers {
		query = query.
			Preload("Bans").Preload("Bans.Hero").
			Preload("Players").Preload("Players.Hero").
			Preload("Players.Talents").Preload("Players.Score")
	}

	return query.Order("id")
}

// playerSubquery selects replay ids whose participant set contains the player.
// "Name#123" matches name and discriminator exactly; a bare name matches any
// discriminator. Tokens are NFC-normalized before comparison.
func playerSubquery(db *gorm.DB, token string) *gorm.DB {
	sub := db.Session(&gorm.Session{NewDB: true}).Model(&models.Player{}).Select("replay_id")

	name, tag, hasTag := strings.Cut(norm.NFC.String(token), "#")
	if !hasTag {
		return sub.Where("battletag_name = ?", name)
	}
	tagNum, err := strconv.Atoi(tag)
	if err != nil {
		// non-numeric discriminator can never match a stored player
		return sub.Where("1 = 0")
	}
	return sub.Where("battletag_name = ? AND battletag_id = ?", name, tagNum)
}

// ListReplays returns the first page of matching replay summaries.
func (s *ReplayService) ListReplays(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), QueryTimeout)
	defer cancel()

	replays := []models.Replay{}
	query := buildReplayQuery(s.ReplicaDB.WithContext(ctx), parseReplayFilter(c))
	if err := query.Limit(PageSize).Find(&replays).Error; err != nil {
		log.Printf("replay list query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch replays"})
	}
	return c.JSON(replays)
}

// PagedReplays returns one page of matching replays with page metadata.
// Total/page counts are deliberately not computed: counting the full filtered
// set is too expensive at this table size.
func (s *ReplayService) PagedReplays(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), QueryTimeout)
	defer cancel()

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}

	replays := []models.Replay{}
	query := buildReplayQuery(s.ReplicaDB.WithContext(ctx), parseReplayFilter(c))
	if err := query.Offset((page - 1) * PageSize).Limit(PageSize).Find(&replays).Error; err != nil {
		log.Printf("paged replay query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch replays"})
	}

	return c.JSON(fiber.Map{
		"per_page": PageSize,
		"page":     page,
		"replays":  replays,
	})
}
