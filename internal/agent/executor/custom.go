package executor

import (
	"fmt"
	"strings"
)

// runCustomCommand handles control-plane commands that mutate the agent
// itself rather than the host.
func (e *Executor) runCustomCommand(content map[string]interface{}) (map[string]interface{}, error) {
	command := stringField(content, "command")

	switch {
	case strings.EqualFold(command, "DisableHttp"):
		e.state.SetHTTPEnabled(false)
		e.logger.Warn("http disabled by control plane command")
		return map[string]interface{}{"http_enabled": false}, nil

	case strings.EqualFold(command, "EnableHttp"):
		e.state.SetHTTPEnabled(true)
		e.logger.Info("http enabled by control plane command")
		return map[string]interface{}{"http_enabled": true}, nil

	case strings.EqualFold(command, "Shutdown"):
		e.logger.Warn("shutting down by control plane command")
		e.exit(0)
		return map[string]interface{}{"shutdown": "requested"}, nil

	case strings.EqualFold(command, "Restart"):
		// The supervising process (systemd, container runtime) re-spawns.
		e.logger.Warn("restart requested by control plane command")
		return map[string]interface{}{"restart": "requested"}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}
