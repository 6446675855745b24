// handlers/replay.go
package handlers

import (
	"replay-registry/services"

	"github.com/gofiber/fiber/v2"
)

func SetupReplayRoutes(app *fiber.App, replayService *services.ReplayService) {
	app.Post("/replays", replayService.UploadReplay)
	app.Get("/replays", replayService.ListReplays)
	app.Get("/replays/paged", replayService.PagedReplays)
	app.Get("/replays/min-build", replayService.MinimumBuild)

	// Fingerprint existence checks, one route per historical format
	app.Get("/replays/fingerprints/v3/:fingerprint", replayService.CheckV3)
	app.Get("/replays/fingerprints/v2/:fingerprint", replayService.CheckV2)
	app.Get("/replays/fingerprints/v1/:fingerprint", replayService.CheckV1)
	app.Post("/replays/fingerprints", replayService.MassCheck)

	// Registered last so the static paths above win
	app.Get("/replays/:id", replayService.GetReplayByID)
}
