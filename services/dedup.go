// services/dedup.go
package services

import (
	"context"
	"errors"
	"log"
	"regexp"

	"replay-registry/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var lineBreaks = regexp.MustCompile(`\r\n|\n|\r`)

// findByFingerprint normalizes raw per the version rule and looks the result up
// by exact equality. V1 fingerprints are matched against the legacy column only.
// Returns nil, nil when no replay matches.
func findByFingerprint(db *gorm.DB, raw string, version FingerprintVersion) (*models.Replay, error) {
	fingerprint := NormalizeFingerprint(raw, version)

	column := "fingerprint"
	if version == FingerprintV1 {
		column = "fingerprint_old"
	}

	var replay models.Replay
	err := db.Where(column+" = ?", fingerprint).First(&replay).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &replay, nil
}

// massCheck partitions a newline-delimited batch of canonical fingerprints into
// those already stored and those absent, with a single indexed IN lookup.
// Absent entries keep their original input strings; no normalization is applied.
func massCheck(db *gorm.DB, body string) (exists, absent []string, err error) {
	exists = []string{}
	absent = []string{}

	var fingerprints []string
	for _, line := range lineBreaks.Split(body, -1) {
		if line != "" {
			fingerprints = append(fingerprints, line)
		}
	}
	if len(fingerprints) == 0 {
		return exists, absent, nil
	}

	if err := db.Model(&models.Replay{}).
		Where("fingerprint IN ?", fingerprints).
		Pluck("fingerprint", &exists).Error; err != nil {
		return nil, nil, err
	}

	found := make(map[string]struct{}, len(exists))
	for _, f := range exists {
		found[f] = struct{}{}
	}
	for _, f := range fingerprints {
		if _, ok := found[f]; !ok {
			absent = append(absent, f)
		}
	}
	return exists, absent, nil
}

// CheckV3 reports whether a canonical fingerprint is already uploaded.
func (s *ReplayService) CheckV3(c *fiber.Ctx) error {
	return s.check(c, FingerprintV3)
}

// CheckV2 byte-swap-normalizes a legacy V2 fingerprint, then checks like V3.
func (s *ReplayService) CheckV2(c *fiber.Ctx) error {
	return s.check(c, FingerprintV2)
}

// CheckV1 checks a legacy fingerprint against the fingerprint_old column only.
// No relay enqueue on this path.
func (s *ReplayService) CheckV1(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), QueryTimeout)
	defer cancel()

	replay, err := findByFingerprint(s.ReplicaDB.WithContext(ctx), c.Params("fingerprint"), FingerprintV1)
	if err != nil {
		log.Printf("fingerprint check failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to check fingerprint"})
	}
	return c.JSON(fiber.Map{"exists": replay != nil})
}

func (s *ReplayService) check(c *fiber.Ctx, version FingerprintVersion) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), QueryTimeout)
	defer cancel()

	replay, err := findByFingerprint(s.ReplicaDB.WithContext(ctx), c.Params("fingerprint"), version)
	if err != nil {
		log.Printf("fingerprint check failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to check fingerprint"})
	}
	if replay != nil && parseBool(c.Query("uploadToRelay")) {
		s.enqueueRelay(replay.ID)
	}
	return c.JSON(fiber.Map{"exists": replay != nil})
}

// MassCheck partitions a newline-delimited fingerprint list from the request body.
func (s *ReplayService) MassCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), QueryTimeout)
	defer cancel()

	exists, absent, err := massCheck(s.ReplicaDB.WithContext(ctx), string(c.Body()))
	if err != nil {
		log.Printf("mass check failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to check fingerprints"})
	}
	return c.JSON(fiber.Map{"exists": exists, "absent": absent})
}
