package handlers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"bounty-board/middleware"
	"bounty-board/models"
	"bounty-board/services"

	"github.com/gofiber/fiber/v2"
)

// Syncer reconciles one sync request against the ledger.
type Syncer interface {
	Reconcile(ctx context.Context, req services.SyncRequest) (services.SyncResult, error)
}

type BountyHandler struct {
	claims    *services.ClaimRegistry
	lifecycle *services.Lifecycle
	syncer    Syncer
}

func NewBountyHandler(claims *services.ClaimRegistry, lifecycle *services.Lifecycle, syncer Syncer) *BountyHandler {
	return &BountyHandler{claims: claims, lifecycle: lifecycle, syncer: syncer}
}

func SetupBountyRoutes(app *fiber.App, h *BountyHandler) {
	// 🔓 Gateway-authenticated only; the ledger is the authority here
	app.Post("/sync", h.Sync)

	// 🔐 Acting on behalf of a user
	secured := app.Group("/bounties", middleware.UserContextMiddleware())
	secured.Post("/:id/claims", h.RequestClaim)
	secured.Delete("/:id/claims", h.ReleaseClaim)
	secured.Delete("/:id/claims/:actor_id", h.ForceRemoveClaim)
	secured.Post("/:id/claims/:actor_id/:decision", h.DecideClaim)
	secured.Post("/:id/fulfillments", h.SubmitFulfillment)

	secured.Post("/:id/extend", h.ExtendDeadline)
	secured.Post("/:id/cancel", h.Cancel)
	secured.Post("/:id/release", h.ReleaseToPublic)
	secured.Patch("/:id/terms", h.UpdateTerms)
	secured.Post("/:id/remarket", h.Remarket)
	secured.Post("/:id/snooze", h.Snooze)

	admin := app.Group("/admin/bounties", middleware.UserContextMiddleware())
	admin.Patch("/:id/override-status", h.SetOverrideStatus)
	admin.Post("/:id/hide", h.SetHidden)
	admin.Post("/:id/remarket-ready", h.SetRemarketReady)
	admin.Post("/:id/suspend-auto-approval", h.SetSuspendAutoApproval)
}

func actorFrom(c *fiber.Ctx) services.Actor {
	id, _ := c.Locals(middleware.LocalUserID).(string)
	handle, _ := c.Locals(middleware.LocalUserHandle).(string)
	return services.Actor{
		ID:          id,
		Handle:      handle,
		IsStaff:     middleware.HasRole(c, "staff", "admin"),
		IsModerator: middleware.HasRole(c, "moderator"),
	}
}

// statusFor maps the service error taxonomy onto HTTP status codes. Refinements are
// checked before their parents.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrTransactionNotMined):
		return fiber.StatusAccepted
	case errors.Is(err, services.ErrNotAuthorized):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrAlreadyExists):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrNoActiveClaim), errors.Is(err, services.ErrNoPendingClaim),
		errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrUnresolved):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func bountyJSON(b *models.Bounty) fiber.Map {
	return fiber.Map{"bounty": b, "status": b.View(), "effective_status": b.EffectiveStatus()}
}

func (h *BountyHandler) Sync(c *fiber.Ctx) error {
	var req services.SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	res, err := h.syncer.Reconcile(c.UserContext(), req)
	if errors.Is(err, services.ErrTransactionNotMined) {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res)
}

func (h *BountyHandler) RequestClaim(c *fiber.Ctx) error {
	var req services.ClaimRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
	}
	res, err := h.claims.RequestClaim(c.UserContext(), actorFrom(c), c.Params("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *BountyHandler) ReleaseClaim(c *fiber.Ctx) error {
	if err := h.claims.ReleaseClaim(c.UserContext(), actorFrom(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "claim released"})
}

func (h *BountyHandler) ForceRemoveClaim(c *fiber.Ctx) error {
	sanction := c.QueryBool("sanction", false)
	if err := h.claims.ForceRemoveClaim(c.UserContext(), actorFrom(c), c.Params("id"), c.Params("actor_id"), sanction); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "worker removed", "sanctioned": sanction})
}

func (h *BountyHandler) DecideClaim(c *fiber.Ctx) error {
	decision := services.Decision(strings.ToLower(c.Params("decision")))
	claim, err := h.claims.ApproveOrReject(c.UserContext(), actorFrom(c), c.Params("id"), c.Params("actor_id"), decision)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"decision": decision, "claim": claim})
}

func (h *BountyHandler) SubmitFulfillment(c *fiber.Ctx) error {
	var sub services.FulfillmentSubmission
	if err := c.BodyParser(&sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	f, err := h.claims.SubmitFulfillment(c.UserContext(), actorFrom(c), c.Params("id"), sub)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(f)
}

func (h *BountyHandler) ExtendDeadline(c *fiber.Ctx) error {
	var req struct {
		Deadline string `json:"deadline"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid deadline (use RFC3339)"})
	}
	b, err := h.lifecycle.ExtendDeadline(c.UserContext(), actorFrom(c), c.Params("id"), deadline)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) Cancel(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	b, err := h.lifecycle.Cancel(c.UserContext(), actorFrom(c), c.Params("id"), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) ReleaseToPublic(c *fiber.Ctx) error {
	b, err := h.lifecycle.ReleaseToPublic(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) UpdateTerms(c *fiber.Ctx) error {
	var u services.TermsUpdate
	if err := c.BodyParser(&u); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	b, err := h.lifecycle.UpdateTerms(c.UserContext(), actorFrom(c), c.Params("id"), u)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) Remarket(c *fiber.Ctx) error {
	b, err := h.lifecycle.Remarket(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) Snooze(c *fiber.Ctx) error {
	var req struct {
		Days int `json:"days"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	b, err := h.lifecycle.Snooze(c.UserContext(), actorFrom(c), c.Params("id"), req.Days)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) SetOverrideStatus(c *fiber.Ctx) error {
	var req struct {
		Status models.BountyStatus `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	b, err := h.lifecycle.SetOverrideStatus(c.UserContext(), actorFrom(c), c.Params("id"), req.Status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

// flag reads {"<key>": bool} from the body, defaulting to true for an empty body.
func flag(c *fiber.Ctx, key string) (bool, error) {
	if len(c.Body()) == 0 {
		return true, nil
	}
	var body map[string]bool
	if err := c.BodyParser(&body); err != nil {
		return false, err
	}
	v, ok := body[key]
	if !ok {
		return true, nil
	}
	return v, nil
}

func (h *BountyHandler) SetHidden(c *fiber.Ctx) error {
	hidden, err := flag(c, "hidden")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	b, err := h.lifecycle.SetHidden(c.UserContext(), actorFrom(c), c.Params("id"), hidden)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) SetRemarketReady(c *fiber.Ctx) error {
	ready, err := flag(c, "ready")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	b, err := h.lifecycle.SetRemarketReady(c.UserContext(), actorFrom(c), c.Params("id"), ready)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}

func (h *BountyHandler) SetSuspendAutoApproval(c *fiber.Ctx) error {
	suspend, err := flag(c, "suspend")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	b, err := h.lifecycle.SetSuspendAutoApproval(c.UserContext(), actorFrom(c), c.Params("id"), suspend)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(bountyJSON(b))
}
