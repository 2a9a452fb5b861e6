package handlers

import (
	"quest-progress-engine/middleware"
	"quest-progress-engine/services"

	"github.com/gofiber/fiber/v2"
)

func setupProgressionRoutes(r fiber.Router, engine *services.Engine) {
	r.Get("/user/character", func(c *fiber.Ctx) error {
		char, err := engine.Characters.EnsureCharacter(middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		globalRank, err := engine.Leaderboard.GlobalRankOf(char.UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"character": char, "global_rank": globalRank})
	})

	r.Get("/user/activity", func(c *fiber.Ctx) error {
		logs, err := engine.Characters.RecentActivity(middleware.UserID(c), c.QueryInt("limit", 20))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"activity": logs})
	})

	r.Get("/user/badges", func(c *fiber.Ctx) error {
		badges, err := engine.Badges.ListUserBadges(middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"badges": badges})
	})

	r.Get("/leaderboard/global", func(c *fiber.Ctx) error {
		entries, err := engine.Leaderboard.GlobalLeaderboard(c.UserContext(), c.QueryInt("limit", 100))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"leaderboard": entries})
	})

	// personal tasks
	r.Post("/tasks", func(c *fiber.Ctx) error {
		var in services.NewTaskInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		userID := middleware.UserID(c)
		if _, err := engine.Characters.EnsureCharacter(userID); err != nil {
			return respondError(c, err)
		}
		task, err := engine.Completions.CreateTask(userID, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(task)
	})

	r.Post("/tasks/:id/complete", func(c *fiber.Ctx) error {
		res, err := engine.Completions.CompleteTask(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	r.Post("/tasks/:id/uncomplete", func(c *fiber.Ctx) error {
		res, err := engine.Completions.UncompleteTask(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	// habits
	r.Post("/habits", func(c *fiber.Ctx) error {
		var in services.NewHabitInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		userID := middleware.UserID(c)
		if _, err := engine.Characters.EnsureCharacter(userID); err != nil {
			return respondError(c, err)
		}
		habit, err := engine.Completions.CreateHabit(userID, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(habit)
	})

	r.Post("/habits/:id/complete", func(c *fiber.Ctx) error {
		res, err := engine.Completions.CompleteHabit(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	// ?date=YYYY-MM-DD reverses an earlier day; default is today
	r.Post("/habits/:id/uncomplete", func(c *fiber.Ctx) error {
		res, err := engine.Completions.UncompleteHabit(c.UserContext(), middleware.UserID(c), c.Params("id"), c.Query("date"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}
