// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigureSlogFormats(t *testing.T) {
	var buf bytes.Buffer
	log := ConfigureSlog(&buf, "info", "json")
	log.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("json output missing message: %s", buf.String())
	}
}

func TestSetLogLevelAdjustsLiveLoggers(t *testing.T) {
	var buf bytes.Buffer
	log := ConfigureSlog(&buf, "info", "text")

	log.Debug("below threshold")
	if strings.Contains(buf.String(), "below threshold") {
		t.Fatal("debug must be filtered at info level")
	}

	SetLogLevel("debug")
	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("debug must pass after SetLogLevel: %s", buf.String())
	}

	SetLogLevel("info")
}
