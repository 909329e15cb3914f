// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package gateway exposes the workflow engine over HTTP. It is a thin
// translation layer: JSON in, supervisor call, JSON out. All engine
// semantics live behind it.
package gateway

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskmesh/internal/events"
	"taskmesh/internal/store"
	"taskmesh/internal/supervisor"
	"taskmesh/pkg/types"
)

// Gateway serves the HTTP surface for one supervisor.
type Gateway struct {
	supervisor *supervisor.Supervisor
	dispatcher *events.Dispatcher
}

// New creates a gateway over the supervisor and event dispatcher.
func New(s *supervisor.Supervisor, d *events.Dispatcher) *Gateway {
	return &Gateway{supervisor: s, dispatcher: d}
}

// App builds the fiber application with all routes registered.
func (g *Gateway) App() *fiber.App {
	app := fiber.New(fiber.Config{AppName: "taskmesh"})

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/workflows", g.createWorkflow)
	app.Post("/orchestrate", g.orchestrateWorkflow)
	app.Post("/resolve", g.resolveDependencies)
	app.Get("/workflows", g.listWorkflows)
	app.Get("/workflows/:id", g.getWorkflow)
	app.Put("/workflows/:id", g.updateWorkflow)

	app.Post("/workflows/:id/start", g.startWorkflow)
	app.Post("/workflows/:id/pause", g.pauseWorkflow)
	app.Post("/workflows/:id/resume", g.resumeWorkflow)
	app.Post("/workflows/:id/cancel", g.cancelWorkflow)

	app.Get("/workflows/:id/status", g.workflowStatus)
	app.Get("/workflows/:id/results", g.workflowResults)
	app.Get("/workflows/:id/tasks/:taskId/status", g.taskStatus)

	app.Post("/events", g.handleEvent)
	app.Get("/system/metrics", g.systemMetrics)
	app.Get("/system/breakers", g.breakerStatuses)

	return app
}

func (g *Gateway) createWorkflow(c fiber.Ctx) error {
	var spec types.DAGSpec
	if err := c.Bind().JSON(&spec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	instance, err := g.supervisor.CreateDAG(c.Context(), &spec)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (g *Gateway) orchestrateWorkflow(c fiber.Ctx) error {
	var spec types.DAGSpec
	if err := c.Bind().JSON(&spec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	result, err := g.supervisor.OrchestrateWorkflow(c.Context(), &spec)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (g *Gateway) resolveDependencies(c fiber.Ctx) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if len(req.IDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ids is required"})
	}
	return c.JSON(g.supervisor.ResolveDependencies(c.Context(), req.IDs))
}

func (g *Gateway) listWorkflows(c fiber.Ctx) error {
	instances, err := g.supervisor.ListWorkflows(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(instances)
}

func (g *Gateway) getWorkflow(c fiber.Ctx) error {
	instance, err := g.supervisor.GetWorkflow(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(instance)
}

func (g *Gateway) updateWorkflow(c fiber.Ctx) error {
	var spec types.DAGSpec
	if err := c.Bind().JSON(&spec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	spec.ID = c.Params("id")
	err := g.supervisor.UpdateDAG(c.Context(), &spec)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (g *Gateway) startWorkflow(c fiber.Ctx) error {
	result, err := g.supervisor.StartWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return transitionError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (g *Gateway) pauseWorkflow(c fiber.Ctx) error {
	if err := g.supervisor.PauseWorkflow(c.Context(), c.Params("id")); err != nil {
		return transitionError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (g *Gateway) resumeWorkflow(c fiber.Ctx) error {
	if err := g.supervisor.ResumeWorkflow(c.Context(), c.Params("id")); err != nil {
		return transitionError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (g *Gateway) cancelWorkflow(c fiber.Ctx) error {
	if err := g.supervisor.CancelWorkflow(c.Context(), c.Params("id")); err != nil {
		return transitionError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (g *Gateway) workflowStatus(c fiber.Ctx) error {
	status := g.supervisor.GetWorkflowStatus(c.Context(), c.Params("id"))
	return c.JSON(fiber.Map{"workflowId": c.Params("id"), "status": status})
}

func (g *Gateway) workflowResults(c fiber.Ctx) error {
	results, err := g.supervisor.GetExecutionResults(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(results)
}

func (g *Gateway) taskStatus(c fiber.Ctx) error {
	status := g.supervisor.GetTaskStatus(c.Context(), c.Params("id"), c.Params("taskId"))
	return c.JSON(fiber.Map{
		"workflowId": c.Params("id"),
		"taskId":     c.Params("taskId"),
		"status":     status,
	})
}

func (g *Gateway) handleEvent(c fiber.Ctx) error {
	var event types.MeshEvent
	if err := c.Bind().JSON(&event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if !event.Kind.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown event kind"})
	}
	if err := g.dispatcher.Handle(c.Context(), event); err != nil {
		return transitionError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"eventId": event.ID})
}

func (g *Gateway) systemMetrics(c fiber.Ctx) error {
	metrics, err := g.supervisor.GetSystemMetrics(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(metrics)
}

func (g *Gateway) breakerStatuses(c fiber.Ctx) error {
	return c.JSON(g.supervisor.BreakerStatuses())
}

// transitionError maps supervisor errors to HTTP codes: unknown workflows
// are 404, invalid lifecycle moves are 409.
func transitionError(c fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
	}
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
}
