package api

import (
	"machinehub/internal/logging"
	"machinehub/internal/machine"
)

type connectRequest struct {
	Endpoint string `json:"endpoint"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

type codeRequest struct {
	Code    string `json:"code"`
	Machine string `json:"machine,omitempty"`
}

type codeResponse struct {
	Machine  string `json:"machine"`
	Response string `json:"response"`
}

type statusResponse struct {
	machine.OrchestrationStatus
	Machines int `json:"machines"`
}

type logsResponse struct {
	Entries []logging.LogEntry `json:"entries"`
}
