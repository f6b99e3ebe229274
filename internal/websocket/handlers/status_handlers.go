package handlers

import (
	"time"

	"github.com/claude-harbor/agentd/internal/executor"
	"github.com/claude-harbor/agentd/internal/logger"
	"github.com/claude-harbor/agentd/internal/models"
	"github.com/claude-harbor/agentd/internal/project"
)

// StatusHandlers handles periodic status broadcasts. The broadcast itself
// runs on the top-level server's job scheduler (see Server.NewServer);
// StatusHandlers just implements the job body.
// Requirements: 3.3, 4.4, 5.4, 6.5
type StatusHandlers struct {
	projectMgr *project.Manager
	executor   *executor.ClaudeExecutor
	broadcast  *Broadcaster
	log        *logger.Logger
	server     ServerStats
	startTime  time.Time
}

// ServerStats provides server statistics
type ServerStats interface {
	GetMetrics() map[string]interface{}
}

// NewStatusHandlers creates new status handlers
func NewStatusHandlers(
	projectMgr *project.Manager,
	executor *executor.ClaudeExecutor,
	broadcast *Broadcaster,
	server ServerStats,
	log *logger.Logger,
) *StatusHandlers {
	return &StatusHandlers{
		projectMgr: projectMgr,
		executor:   executor,
		broadcast:  broadcast,
		server:     server,
		log:        log,
		startTime:  time.Now(),
	}
}

// BroadcastStats broadcasts current server statistics to all connected
// clients. Invoked periodically by the top-level server's job scheduler.
func (h *StatusHandlers) BroadcastStats() {
	stats := h.collectServerStats()

	// Create stats message
	msg := &models.ServerMessage{
		Type: models.MessageTypeServerStats,
		Data: stats,
	}

	// Broadcast to all projects
	projects := h.projectMgr.GetAllProjects()
	for _, project := range projects {
		if len(project.Subscribers) > 0 {
			h.broadcast.BroadcastToProject(project, msg)
		}
	}

	h.log.Debug("Broadcasted server stats",
		"projects", len(projects),
		"active_executions", stats["executor"].(map[string]interface{})["active_processes"],
	)
}

// collectServerStats collects current server statistics
func (h *StatusHandlers) collectServerStats() map[string]interface{} {
	// Get server metrics
	serverMetrics := h.server.GetMetrics()

	// Get executor stats
	executorStats := h.executor.GetStats()

	// Get project stats
	projects := h.projectMgr.GetAllProjects()
	projectStats := h.collectProjectStats(projects)

	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"server":    serverMetrics,
		"executor":  executorStats,
		"projects":  projectStats,
		"system": map[string]interface{}{
			"uptime": time.Since(h.getStartTime()).String(),
		},
	}
}

// collectProjectStats collects statistics about projects
func (h *StatusHandlers) collectProjectStats(projects []*models.Project) map[string]interface{} {
	totalSubscribers := 0
	stateCount := make(map[models.State]int)
	projectsWithSessions := 0

	for _, project := range projects {
		totalSubscribers += len(project.Subscribers)
		stateCount[project.State]++
		if project.SessionID != "" {
			projectsWithSessions++
		}
	}

	return map[string]interface{}{
		"total":                len(projects),
		"total_subscribers":    totalSubscribers,
		"with_sessions":        projectsWithSessions,
		"by_state":             stateCount,
		"average_subscribers":  float64(totalSubscribers) / float64(len(projects)),
	}
}

// BroadcastConnectionHealth sends connection health update to a specific session
func (h *StatusHandlers) BroadcastConnectionHealth(session *models.Session) {
	health := map[string]interface{}{
		"status":     "healthy",
		"session_id": session.ID,
		"ping":       session.LastPing.Format(time.RFC3339),
		"uptime":     time.Since(session.CreatedAt).String(),
	}

	msg := &models.ServerMessage{
		Type: models.MessageTypeConnectionHealth,
		Data: health,
	}

	if err := session.WriteJSON(msg); err != nil {
		h.log.Error("Failed to send connection health", "error", err)
	}
}

// BroadcastErrorNotification sends error notification to relevant subscribers
func (h *StatusHandlers) BroadcastErrorNotification(projectID string, err error) {
	project, projectErr := h.projectMgr.GetProjectByID(projectID)
	if projectErr != nil {
		h.log.Error("Failed to get project for error broadcast", "error", projectErr)
		return
	}

	h.broadcast.BroadcastError(project, err)
}

// getStartTime returns when this handler (and so, the server) started.
func (h *StatusHandlers) getStartTime() time.Time {
	return h.startTime
}