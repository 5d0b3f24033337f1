package logger

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func TestPrefixLevelAndFlush(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}()

	SetPrefix("test")
	SetLevel("info")
	Infof("hello %d", 1)
	Debugf("hidden")
	Errorf("boom")
	Flush()

	out := buf.String()
	if !strings.Contains(out, "[test] hello 1") {
		t.Fatalf("missing info line in %q", out)
	}
	if !strings.Contains(out, "[test] ERROR: boom") {
		t.Fatalf("missing error line in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %q", out)
	}

	SetLevel("debug")
	Debugf("visible")
	Flush()
	if !strings.Contains(buf.String(), "[test] DEBUG: visible") {
		t.Fatalf("missing debug line in %q", buf.String())
	}
	SetPrefix("")
	SetLevel("info")
}
