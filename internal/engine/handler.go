package engine

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/registry"
	"prism-backend/internal/schema"
	"prism-backend/internal/store"
)

// Handler exposes the record CRUD endpoints under /models/:modelID/data.
type Handler struct {
	store    *store.Store
	registry *registry.Registry
	gateway  *Gateway
}

func NewHandler(s *store.Store, r *registry.Registry) *Handler {
	return &Handler{store: s, registry: r, gateway: NewGateway(s)}
}

// Register mounts the data routes. requirePerm wraps each route with a
// permission check for the given "resource:action" name.
func (h *Handler) Register(api fiber.Router, requirePerm func(perm string) fiber.Handler) {
	data := api.Group("/models/:modelID/data")
	data.Post("/", requirePerm("dynamic_data:create"), h.CreateRecord)
	data.Get("/", requirePerm("dynamic_data:read"), h.ListRecords)
	data.Get("/:recordID", requirePerm("dynamic_data:read"), h.GetRecord)
	data.Put("/:recordID", requirePerm("dynamic_data:update"), h.UpdateRecord)
	data.Delete("/:recordID", requirePerm("dynamic_data:delete"), h.DeleteRecord)
}

func (h *Handler) CreateRecord(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	payload, err := parsePayload(c)
	if err != nil {
		return err
	}
	record, err := h.gateway.CreateRecord(c.Context(), model, payload)
	if err != nil {
		return err
	}
	return c.JSON(record)
}

func (h *Handler) ListRecords(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", DefaultPageSize)
	skip := c.QueryInt("skip", 0)
	page, err := h.gateway.ListRecords(c.Context(), model, limit, skip)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handler) GetRecord(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "recordID")
	if err != nil {
		return err
	}
	record, err := h.gateway.GetRecord(c.Context(), model, id)
	if err != nil {
		return err
	}
	return c.JSON(record)
}

func (h *Handler) UpdateRecord(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "recordID")
	if err != nil {
		return err
	}
	payload, err := parsePayload(c)
	if err != nil {
		return err
	}
	record, err := h.gateway.UpdateRecord(c.Context(), model, id, payload)
	if err != nil {
		return err
	}
	return c.JSON(record)
}

func (h *Handler) DeleteRecord(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "recordID")
	if err != nil {
		return err
	}
	if err := h.gateway.DeleteRecord(c.Context(), model, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Record deleted"})
}

func (h *Handler) resolveModel(c *fiber.Ctx) (*schema.Model, error) {
	id, err := pathID(c, "modelID")
	if err != nil {
		return nil, err
	}
	model, err := h.registry.GetByID(c.Context(), h.store.DB, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Model", strconv.FormatInt(id, 10))
		}
		return nil, StorageError("")
	}
	return model, nil
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ValidationError("invalid "+name, nil)
	}
	return id, nil
}

// parsePayload unwraps the {"data": {...}} record envelope.
func parsePayload(c *fiber.Ctx) (map[string]any, error) {
	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := c.BodyParser(&body); err != nil {
		return nil, ValidationError("request body must be a JSON object", nil)
	}
	if body.Data == nil {
		return nil, ValidationError("request body must carry a data object", nil)
	}
	return body.Data, nil
}
