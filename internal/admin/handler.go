// Package admin manages the lifecycle of dynamic models: registering a
// model together with its physical table, updating its metadata, and
// tearing both down again.
package admin

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/registry"
	"prism-backend/internal/schema"
	"prism-backend/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *registry.Registry
	mat      *store.Materializer
	validate *validator.Validate
}

func NewHandler(s *store.Store, r *registry.Registry) *Handler {
	return &Handler{
		store:    s,
		registry: r,
		mat:      store.NewMaterializer(s.Dialect),
		validate: validator.New(),
	}
}

func (h *Handler) Register(api fiber.Router, requirePerm func(perm string) fiber.Handler) {
	models := api.Group("/models")
	models.Post("/", requirePerm("dynamic_model:create"), h.CreateModel)
	models.Get("/", requirePerm("dynamic_model:read"), h.ListModels)
	models.Get("/:modelID", requirePerm("dynamic_model:read"), h.GetModel)
	models.Put("/:modelID", requirePerm("dynamic_model:update"), h.UpdateModel)
	models.Delete("/:modelID", requirePerm("dynamic_model:delete"), h.DeleteModel)
}

type fieldRequest struct {
	Name            string         `json:"name" validate:"required,max=100"`
	FieldType       string         `json:"field_type" validate:"required"`
	IsRequired      bool           `json:"is_required"`
	IsUnique        bool           `json:"is_unique"`
	DefaultValue    string         `json:"default_value"`
	MaxLength       int            `json:"max_length" validate:"min=0"`
	FieldOrder      int            `json:"field_order"`
	ValidationRules map[string]any `json:"validation_rules"`
}

type createModelRequest struct {
	Name        string         `json:"name" validate:"required,max=100"`
	TableName   string         `json:"table_name" validate:"required,max=100"`
	Description string         `json:"description"`
	IsActive    *bool          `json:"is_active"`
	Fields      []fieldRequest `json:"fields" validate:"required,min=1,dive"`
}

// CreateModel registers a model and materializes its table in one
// transaction. Either both exist afterwards or neither does.
func (h *Handler) CreateModel(c *fiber.Ctx) error {
	var req createModelRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.ValidationError("request body must be a JSON object", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return engine.ValidationError(err.Error(), nil)
	}

	model := &schema.Model{
		Name:        req.Name,
		TableName:   req.TableName,
		Description: req.Description,
		Active:      true,
	}
	if req.IsActive != nil {
		model.Active = *req.IsActive
	}
	for i, f := range req.Fields {
		order := f.FieldOrder
		if order == 0 {
			order = i
		}
		model.Fields = append(model.Fields, schema.Field{
			Name:            f.Name,
			Type:            schema.FieldType(f.FieldType),
			Required:        f.IsRequired,
			Unique:          f.IsUnique,
			Default:         f.DefaultValue,
			MaxLength:       f.MaxLength,
			Order:           order,
			ValidationRules: f.ValidationRules,
		})
	}
	if err := model.Validate(); err != nil {
		return engine.ValidationError(err.Error(), nil)
	}

	err := h.store.WithTx(c.Context(), func(tx *sql.Tx) error {
		if err := h.registry.Create(c.Context(), tx, model); err != nil {
			return err
		}
		return h.mat.CreateTable(c.Context(), tx, model)
	})
	if err != nil {
		return h.mapModelError(err)
	}

	created, err := h.registry.GetByID(c.Context(), h.store.DB, model.ID)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(created)
}

func (h *Handler) ListModels(c *fiber.Ctx) error {
	activeOnly := c.QueryBool("active", false)
	models, err := h.registry.List(c.Context(), h.store.DB, activeOnly)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"data": models, "total": len(models)})
}

func (h *Handler) GetModel(c *fiber.Ctx) error {
	id, err := h.pathModelID(c)
	if err != nil {
		return err
	}
	model, err := h.registry.GetByID(c.Context(), h.store.DB, id)
	if err != nil {
		return h.mapModelError(err)
	}
	return c.JSON(model)
}

func (h *Handler) UpdateModel(c *fiber.Ctx) error {
	id, err := h.pathModelID(c)
	if err != nil {
		return err
	}
	var patch registry.UpdatePatch
	if err := c.BodyParser(&patch); err != nil {
		return engine.ValidationError("request body must be a JSON object", nil)
	}
	if err := h.validate.Struct(&patch); err != nil {
		return engine.ValidationError(err.Error(), nil)
	}

	model, err := h.registry.Update(c.Context(), h.store.DB, id, patch)
	if err != nil {
		return h.mapModelError(err)
	}
	return c.JSON(model)
}

// DeleteModel drops the physical table first, then removes the registry
// rows, all in one transaction. A failed drop leaves the registry intact.
func (h *Handler) DeleteModel(c *fiber.Ctx) error {
	id, err := h.pathModelID(c)
	if err != nil {
		return err
	}
	model, err := h.registry.GetByID(c.Context(), h.store.DB, id)
	if err != nil {
		return h.mapModelError(err)
	}

	err = h.store.WithTx(c.Context(), func(tx *sql.Tx) error {
		if err := h.mat.DropTable(c.Context(), tx, model); err != nil {
			return err
		}
		return h.registry.Delete(c.Context(), tx, id)
	})
	if err != nil {
		return h.mapModelError(err)
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Model %s deleted", model.Name)})
}

func (h *Handler) pathModelID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("modelID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, engine.ValidationError("invalid modelID", nil)
	}
	return id, nil
}

func (h *Handler) mapModelError(err error) error {
	switch {
	case errors.Is(err, registry.ErrDuplicateName):
		return engine.ConflictError(err.Error())
	case errors.Is(err, store.ErrNotFound):
		return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "Model not found")
	}
	var mErr *store.MaterializationError
	if errors.As(err, &mErr) {
		return engine.MaterializationFailure(mErr.Error())
	}
	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return engine.StorageError("")
}
