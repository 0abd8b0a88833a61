package plugin

import (
	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/logging"
)

// LoggingPlugin logs every lifecycle hook. Run and error outcomes go to
// Info/Warn, the rest to Debug.
type LoggingPlugin struct {
	Base

	logger logging.Logger
}

// NewLoggingPlugin creates a logging plugin writing to logger.
func NewLoggingPlugin(logger logging.Logger) *LoggingPlugin {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &LoggingPlugin{Base: NewBase("logging"), logger: logger}
}

func (l *LoggingPlugin) BeforeRun(runCtx *core.RunContext) error {
	l.logger.Info("plugin.run.start", "session_id", runCtx.SessionID(), "run_id", runCtx.RunID, "agent", runCtx.Agent.Name)
	return nil
}

func (l *LoggingPlugin) AfterRun(runCtx *core.RunContext, runErr error) {
	if runErr != nil {
		l.logger.Warn("plugin.run.failed", "session_id", runCtx.SessionID(), "run_id", runCtx.RunID, "error", runErr)
		return
	}

	l.logger.Info("plugin.run.complete", "session_id", runCtx.SessionID(), "run_id", runCtx.RunID)
}

func (l *LoggingPlugin) BeforeAgent(runCtx *core.RunContext, agent core.AgentInfo) error {
	l.logger.Debug("plugin.agent.start", "run_id", runCtx.RunID, "agent", agent.Name, "type", agent.Type, "branch", runCtx.Branch)
	return nil
}

func (l *LoggingPlugin) AfterAgent(runCtx *core.RunContext, agent core.AgentInfo, err error) {
	if err != nil {
		l.logger.Warn("plugin.agent.failed", "run_id", runCtx.RunID, "agent", agent.Name, "error", err)
		return
	}

	l.logger.Debug("plugin.agent.complete", "run_id", runCtx.RunID, "agent", agent.Name)
}

func (l *LoggingPlugin) BeforeModel(runCtx *core.RunContext, call core.ModelCall) error {
	l.logger.Debug("plugin.model.start", "run_id", runCtx.RunID, "agent", call.Agent, "model", call.Model, "messages", call.Messages, "tools", call.Tools)
	return nil
}

func (l *LoggingPlugin) AfterModel(runCtx *core.RunContext, call core.ModelCall, err error) {
	if err != nil {
		l.logger.Warn("plugin.model.failed", "run_id", runCtx.RunID, "agent", call.Agent, "model", call.Model, "error", err)
		return
	}

	l.logger.Debug("plugin.model.complete", "run_id", runCtx.RunID, "agent", call.Agent, "model", call.Model)
}

func (l *LoggingPlugin) BeforeTool(toolCtx *core.ToolContext, call core.FunctionCall) error {
	l.logger.Debug("plugin.tool.start", "run_id", toolCtx.RunID(), "agent", toolCtx.AgentName(), "tool", call.Name, "function_call_id", call.ID)
	return nil
}

func (l *LoggingPlugin) AfterTool(toolCtx *core.ToolContext, call core.FunctionCall, _ any, err error) {
	if err != nil {
		l.logger.Warn("plugin.tool.failed", "run_id", toolCtx.RunID(), "tool", call.Name, "error", err)
		return
	}

	l.logger.Debug("plugin.tool.complete", "run_id", toolCtx.RunID(), "tool", call.Name)
}

func (l *LoggingPlugin) OnEvent(runCtx *core.RunContext, ev core.Event) {
	if ev.IsPartial() {
		return
	}

	l.logger.Debug("plugin.event", "run_id", runCtx.RunID, "event_id", ev.ID, "author", ev.Author, "final", ev.IsFinalResponse())
}
