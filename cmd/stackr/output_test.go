package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loykin/stackr/pkg/client"
)

func TestPrintProjectsMarksMissingAndErrors(t *testing.T) {
	var buf bytes.Buffer
	printProjects(&buf, []client.ProjectStatus{
		{Project: client.Project{ID: "a1", Name: "blog", Kind: "cms", Port: 8001}, Status: "stopped", Missing: true},
		{Project: client.Project{ID: "b2", Name: "api", Kind: "standard", Port: 8002, Domain: "api.test"}, Status: "error", Error: "process exited: exit status 255"},
	})
	out := buf.String()
	assert.Contains(t, out, "stopped (missing)")
	assert.Contains(t, out, "localhost")
	assert.Contains(t, out, "api.test")
	assert.Contains(t, out, "b2: process exited: exit status 255")
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, client.Event{ID: "svc:database", From: "starting", To: "error", Error: "port busy", At: time.Now()})
	assert.Contains(t, buf.String(), `svc:database starting -> error error="port busy"`)
}

func TestPrintVersionsEmpty(t *testing.T) {
	var buf bytes.Buffer
	printVersions(&buf, nil)
	assert.Contains(t, buf.String(), "No runtime versions installed")
}
