package handlers

import (
	"context"

	"github.com/claude-harbor/agentd/internal/executor"
	"github.com/claude-harbor/agentd/internal/logger"
	"github.com/claude-harbor/agentd/internal/models"
	"github.com/claude-harbor/agentd/internal/project"
	"github.com/claude-harbor/agentd/internal/websocket"
)

// Config contains configuration for all handlers
type Config struct {
	ProjectManager  *project.Manager
	Executor        *executor.ClaudeExecutor
	Logger          *logger.Logger
	BroadcastConfig BroadcasterConfig
	ClaudePath      string
	DataDir         string
}

// Handlers aggregates all WebSocket handlers
type Handlers struct {
	Project    *ProjectHandlers
	Execution  *ExecutionHandlers
	Query      *QueryHandlers
	Status     *StatusHandlers
	Health     *HealthHandlers
	Broadcast  *Broadcaster
	projectMgr *project.Manager
	router     *websocket.MessageRouter
	dispatcher *websocket.MessageDispatcher
}

// NewHandlers creates all handlers with dependencies
func NewHandlers(config Config, server ServerStats) *Handlers {
	// Create broadcaster
	broadcast := NewBroadcaster(config.BroadcastConfig, config.Logger)

	// Create individual handlers
	projectHandlers := NewProjectHandlers(config.ProjectManager, broadcast, config.Logger)
	executionHandlers := NewExecutionHandlers(config.ProjectManager, config.Executor, broadcast, config.Logger)
	queryHandlers := NewQueryHandlers(config.ProjectManager, config.Logger)
	statusHandlers := NewStatusHandlers(config.ProjectManager, config.Executor, broadcast, server, config.Logger)
	healthHandlers := NewHealthHandlers(config.ClaudePath, config.DataDir, config.ProjectManager, config.Logger)

	h := &Handlers{
		Project:    projectHandlers,
		Execution:  executionHandlers,
		Query:      queryHandlers,
		Status:     statusHandlers,
		Health:     healthHandlers,
		Broadcast:  broadcast,
		projectMgr: config.ProjectManager,
	}

	router := websocket.NewMessageRouter(config.Logger)
	h.RegisterAll(router)
	h.router = router

	// The full middleware chain: panic recovery first (must wrap
	// everything else so a panic in logging or validation is also
	// caught), then logging, then the two validation passes, then the
	// router dispatch itself.
	dispatcher := websocket.NewMessageDispatcher(router, config.Logger)
	dispatcher.Use(websocket.RecoveryMiddleware(config.Logger))
	dispatcher.Use(websocket.LoggingMiddleware(config.Logger))
	dispatcher.Use(websocket.ValidationMiddleware())
	dispatcher.Use(websocket.SchemaValidationMiddleware())
	h.dispatcher = dispatcher

	return h
}

// RegisterAll registers all handlers with the router
func (h *Handlers) RegisterAll(router *websocket.MessageRouter) {
	h.Project.RegisterHandlers(router)
	h.Execution.RegisterHandlers(router)
	h.Query.RegisterHandlers(router)
	h.Health.RegisterHandlers(router)
}

// HandleMessage implements the MessageHandler interface by running the
// message through the dispatcher's middleware chain (panic recovery,
// logging, validation) before it reaches the router built in NewHandlers.
func (h *Handlers) HandleMessage(ctx context.Context, session *models.Session, msg *models.ClientMessage) error {
	return h.dispatcher.HandleMessage(ctx, session, msg)
}

// OnSessionCleanup implements the MessageHandler interface. It removes the
// disconnected session from its joined project's subscriber set, per the
// ordering required on disconnect: subscriber removal happens before the
// connection layer drops the session from its own table.
func (h *Handlers) OnSessionCleanup(session *models.Session) {
	projectID := session.GetProject()
	if projectID == "" {
		return
	}

	if err := h.projectMgr.RemoveSubscriber(projectID, session.ID); err != nil {
		h.Project.log.Warn("Failed to remove subscriber on disconnect",
			"session_id", session.ID,
			"project_id", projectID,
			"error", err,
		)
	}
}
