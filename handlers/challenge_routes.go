package handlers

import (
	"fmt"
	"path/filepath"
	"strings"

	"quest-progress-engine/middleware"
	"quest-progress-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var allowedProofExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true}

type reviewRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

// parseOptionalBody leaves out untouched when the request has no body.
func parseOptionalBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(out)
}

func reviewer(c *fiber.Ctx) services.Reviewer {
	return services.Reviewer{UserID: middleware.UserID(c), Admin: middleware.IsAdmin(c)}
}

func setupChallengeRoutes(r fiber.Router, engine *services.Engine, proofs ProofStore) {
	r.Post("/challenges", func(c *fiber.Ctx) error {
		var in services.NewChallengeInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		ch, err := engine.Challenges.CreateChallenge(middleware.UserID(c), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(ch)
	})

	r.Get("/challenges/:id", func(c *fiber.Ctx) error {
		ch, err := engine.Challenges.GetChallenge(c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(ch)
	})

	r.Post("/challenges/:id/tasks", func(c *fiber.Ctx) error {
		var in services.NewChallengeTaskInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		task, err := engine.Challenges.AddChallengeTask(middleware.UserID(c), middleware.IsAdmin(c), c.Params("id"), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(task)
	})

	r.Post("/challenges/:id/join", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		if _, err := engine.Characters.EnsureCharacter(userID); err != nil {
			return respondError(c, err)
		}
		p, err := engine.Challenges.JoinChallenge(userID, c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(p)
	})

	r.Post("/challenges/:id/leave", func(c *fiber.Ctx) error {
		p, err := engine.Challenges.LeaveChallenge(middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(p)
	})

	r.Post("/challenges/:id/participants/:user_id/disqualify", func(c *fiber.Ctx) error {
		var req reviewRequest
		if err := parseOptionalBody(c, &req); err != nil {
			return badRequest(c, "invalid request body")
		}
		p, err := engine.Challenges.Disqualify(reviewer(c), c.Params("id"), c.Params("user_id"), req.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(p)
	})

	r.Get("/challenges/:id/leaderboard", func(c *fiber.Ctx) error {
		parts, err := engine.Leaderboard.ChallengeLeaderboard(c.Params("id"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"leaderboard": parts})
	})

	r.Get("/challenges/:id/leaderboard/me", func(c *fiber.Ctx) error {
		parts, err := engine.Leaderboard.ChallengeLeaderboardAround(c.Params("id"), middleware.UserID(c), c.QueryInt("radius", 5))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"leaderboard": parts})
	})

	r.Get("/challenges/:id/progress", func(c *fiber.Ctx) error {
		history, err := engine.Challenges.ProgressHistory(c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"progress": history})
	})

	r.Get("/challenges/:id/reviews", func(c *fiber.Ctx) error {
		ch, err := engine.Challenges.GetChallenge(c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		if !middleware.IsAdmin(c) && ch.CreatorID != middleware.UserID(c) {
			return respondError(c, services.ErrForbidden)
		}
		pending, err := engine.Verification.PendingReviews(ch.ID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"pending": pending})
	})

	// multipart: proof_text plus an optional proof_image file, or JSON {proof_text, proof_image_url}
	r.Post("/challenge-tasks/:id/submit", func(c *fiber.Ctx) error {
		proof, err := readProof(c, proofs)
		if err != nil {
			return respondError(c, err)
		}
		completion, err := engine.Verification.SubmitChallengeTask(c.UserContext(), middleware.UserID(c), c.Params("id"), proof)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(completion)
	})

	r.Get("/completions/:id", func(c *fiber.Ctx) error {
		completion, err := engine.Verification.GetCompletion(c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		if completion.UserID != middleware.UserID(c) && !middleware.IsAdmin(c) {
			ch, err := engine.Challenges.GetChallenge(completion.ChallengeID)
			if err != nil {
				return respondError(c, err)
			}
			if ch.CreatorID != middleware.UserID(c) {
				return respondError(c, services.ErrForbidden)
			}
		}
		return c.JSON(completion)
	})

	r.Post("/completions/:id/approve", func(c *fiber.Ctx) error {
		var req reviewRequest
		if err := parseOptionalBody(c, &req); err != nil {
			return badRequest(c, "invalid request body")
		}
		completion, err := engine.Verification.ApproveCompletion(c.UserContext(), reviewer(c), c.Params("id"), req.Notes)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(completion)
	})

	r.Post("/completions/:id/reject", func(c *fiber.Ctx) error {
		var req reviewRequest
		if err := parseOptionalBody(c, &req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if strings.TrimSpace(req.Reason) == "" {
			return badRequest(c, "reason is required")
		}
		completion, err := engine.Verification.RejectCompletion(c.UserContext(), reviewer(c), c.Params("id"), req.Reason, req.Notes)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(completion)
	})
}

func readProof(c *fiber.Ctx, proofs ProofStore) (services.SubmitProof, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		var body struct {
			ProofText     string `json:"proof_text"`
			ProofImageURL string `json:"proof_image_url"`
		}
		if err := parseOptionalBody(c, &body); err != nil {
			return services.SubmitProof{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		return services.SubmitProof{Text: body.ProofText, ImageURL: body.ProofImageURL}, nil
	}

	proof := services.SubmitProof{Text: c.FormValue("proof_text")}
	fh, err := c.FormFile("proof_image")
	if err != nil {
		// no file part, text-only submission
		return proof, nil
	}
	if proofs == nil || !proofs.UploadsEnabled() {
		return proof, fiber.NewError(fiber.StatusServiceUnavailable, "proof uploads are not configured")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedProofExt[ext] {
		return proof, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unsupported proof image type %q", ext))
	}

	key := fmt.Sprintf("proofs/%s/%s/%s%s", c.Params("id"), middleware.UserID(c), uuid.NewString(), ext)
	url, err := proofs.Upload(c.UserContext(), fh, key)
	if err != nil {
		return proof, err
	}
	proof.ImageKey = key
	proof.ImageURL = url
	return proof, nil
}
